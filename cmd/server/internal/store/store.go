// Package store implements the shared structured file store: one xlsx
// workbook per dataset, guarded by a sibling advisory lock file and written
// with a crash-safe temp-file-and-rename path.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/xuri/excelize/v2"

	"github.com/houzhh15/capworks/pkg/metrics"
)

// ErrLockTimeout is returned when the exclusive file lock could not be
// acquired within the configured timeout.
var ErrLockTimeout = errors.New("store: lock acquisition timed out")

const lockRetryDelay = 25 * time.Millisecond

// Store manages a single-sheet xlsx workbook with a fixed header row.
//
// Every access, read or write, is serialized through a cross-process flock
// on the sibling lock file. The workbook format does not support partial
// access, so the only safe discipline is whole-file read-modify-write under
// the lock.
type Store struct {
	path        string
	lockPath    string
	sheet       string
	header      []string
	lockTimeout time.Duration
}

// Row is one data row of the sheet. Index is the 1-based sheet row number;
// Cells is padded to the header width so callers never see short rows.
type Row struct {
	Index int
	Cells []string
}

// New creates a store for the workbook at path. The lock file is the data
// file's path with a ".lock" suffix replacing the extension.
func New(path, sheet string, header []string, lockTimeout time.Duration) *Store {
	ext := filepath.Ext(path)
	return &Store{
		path:        path,
		lockPath:    path[:len(path)-len(ext)] + ".lock",
		sheet:       sheet,
		header:      header,
		lockTimeout: lockTimeout,
	}
}

// Path returns the workbook path.
func (s *Store) Path() string { return s.path }

// EnsureExists creates the data directory and the workbook with its header
// row if absent. Idempotent; safe to call before every operation.
func (s *Store) EnsureExists() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", s.sheet); err != nil {
		return fmt.Errorf("name sheet %s: %w", s.sheet, err)
	}
	header := make([]interface{}, len(s.header))
	for i, col := range s.header {
		header[i] = col
	}
	if err := f.SetSheetRow(s.sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return s.save(f)
}

// View runs fn against the loaded workbook under the exclusive lock without
// saving. Readers take the same lock as writers; the store has no
// concurrent-read optimization.
func (s *Store) View(ctx context.Context, fn func(f *excelize.File) error) error {
	return s.withLock(ctx, "view", false, fn)
}

// Update runs fn under the exclusive lock and, if fn succeeds, saves the
// workbook atomically. If fn or the save fails the previous durable version
// stays intact.
func (s *Store) Update(ctx context.Context, fn func(f *excelize.File) error) error {
	return s.withLock(ctx, "update", true, fn)
}

func (s *Store) withLock(ctx context.Context, op string, save bool, fn func(f *excelize.File) error) error {
	if err := s.EnsureExists(); err != nil {
		return err
	}

	fl := flock.New(s.lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, s.lockPath)
		}
		return fmt.Errorf("acquire lock %s: %w", s.lockPath, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLockTimeout, s.lockPath)
	}
	defer fl.Unlock()

	start := time.Now()
	defer func() {
		metrics.ObserveStoreOperation(s.sheet, op, time.Since(start).Seconds())
	}()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	if !save {
		return nil
	}
	return s.save(f)
}

// save writes the workbook to a buffer and renames it over the target so a
// reader never observes a partially written file.
func (s *Store) save(f *excelize.File) error {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", s.path, err)
	}
	if err := atomic.WriteFile(s.path, buf); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	return nil
}

// DataRows returns every non-blank data row below the header, padded to the
// header width.
func (s *Store) DataRows(f *excelize.File) ([]Row, error) {
	rows, err := f.GetRows(s.sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	out := make([]Row, 0, len(rows))
	for i, cells := range rows {
		if i == 0 {
			continue // header
		}
		blank := true
		for _, c := range cells {
			if c != "" {
				blank = false
				break
			}
		}
		if blank {
			continue
		}
		padded := make([]string, len(s.header))
		copy(padded, cells)
		out = append(out, Row{Index: i + 1, Cells: padded})
	}
	return out, nil
}

// AppendRow writes values into the first row after the current last row.
func (s *Store) AppendRow(f *excelize.File, values []interface{}) error {
	rows, err := f.GetRows(s.sheet)
	if err != nil {
		return fmt.Errorf("read rows: %w", err)
	}
	return s.SetRow(f, len(rows)+1, values)
}

// SetRow overwrites the 1-based sheet row with values.
func (s *Store) SetRow(f *excelize.File, row int, values []interface{}) error {
	cell := fmt.Sprintf("A%d", row)
	if err := f.SetSheetRow(s.sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

// RemoveRow deletes the 1-based sheet row. Later rows shift up; stored
// sequence numbers are untouched.
func (s *Store) RemoveRow(f *excelize.File, row int) error {
	if err := f.RemoveRow(s.sheet, row); err != nil {
		return fmt.Errorf("remove row %d: %w", row, err)
	}
	return nil
}

// SnapshotTo copies the current workbook bytes to dst while holding the
// lock, so a backup never captures a half-written file.
func (s *Store) SnapshotTo(ctx context.Context, dst string) error {
	return s.View(ctx, func(*excelize.File) error {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("read %s: %w", s.path, err)
		}
		if err := atomic.WriteFile(dst, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("write snapshot %s: %w", dst, err)
		}
		return nil
	})
}
