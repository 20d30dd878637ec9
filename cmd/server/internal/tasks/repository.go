// Package tasks holds the task record schema and the repository that owns
// the task workbook. The repository is the only code path that opens the
// task file for writing.
package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/houzhh15/capworks/cmd/server/internal/store"
)

// ErrNotFound is returned when no record carries the requested sequence
// number.
var ErrNotFound = errors.New("task not found")

const (
	fileName  = "tasks.xlsx"
	sheetName = "tasks"
)

// Repository provides typed CRUD over the task workbook. All operations,
// reads included, run under the store's exclusive file lock.
type Repository struct {
	store *store.Store
}

// NewRepository creates a repository backed by dataDir/tasks.xlsx.
func NewRepository(dataDir string, lockTimeout time.Duration) *Repository {
	return &Repository{
		store: store.New(filepath.Join(dataDir, fileName), sheetName, ColumnNames(), lockTimeout),
	}
}

// EnsureFile creates the workbook with its header row if absent.
func (r *Repository) EnsureFile() error { return r.store.EnsureExists() }

// Append validates the draft, assigns the next sequence number and writes
// the new row. The sequence number is one greater than the maximum existing
// value, not a row count, because deletions leave gaps that must never be
// reused. The max scan is safe only because the whole operation holds the
// exclusive lock.
func (r *Repository) Append(ctx context.Context, draft Draft, createdBy, createdAt string) (Task, error) {
	derived, err := draft.Derive()
	if err != nil {
		return Task{}, err
	}

	var created Task
	err = r.store.Update(ctx, func(f *excelize.File) error {
		rows, rerr := r.store.DataRows(f)
		if rerr != nil {
			return rerr
		}
		next := 1
		for _, row := range rows {
			if n, perr := parseSno(row.Cells[0]); perr == nil && n >= next {
				next = n + 1
			}
		}
		created = draft.build(next, derived, createdBy, createdAt)
		return r.store.AppendRow(f, created.RowValues())
	})
	if err != nil {
		return Task{}, err
	}
	return created, nil
}

// Get returns the record with the given sequence number.
func (r *Repository) Get(ctx context.Context, sno int) (Task, error) {
	var found *Task
	err := r.store.View(ctx, func(f *excelize.File) error {
		rows, rerr := r.store.DataRows(f)
		if rerr != nil {
			return rerr
		}
		for _, row := range rows {
			t := decodeRow(row.Cells)
			if t.Sno == sno {
				found = &t
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	if found == nil {
		return Task{}, ErrNotFound
	}
	return *found, nil
}

// ListAll returns every record in file order.
func (r *Repository) ListAll(ctx context.Context) ([]Task, error) {
	var out []Task
	err := r.store.View(ctx, func(f *excelize.File) error {
		rows, rerr := r.store.DataRows(f)
		if rerr != nil {
			return rerr
		}
		out = make([]Task, 0, len(rows))
		for _, row := range rows {
			out = append(out, decodeRow(row.Cells))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update re-derives the computed fields from the draft and rewrites the
// row, preserving the stored creator and creation time. The draft is
// validated before the row is touched; a rejected draft leaves the stored
// record unchanged.
func (r *Repository) Update(ctx context.Context, sno int, draft Draft) (Task, error) {
	derived, err := draft.Derive()
	if err != nil {
		return Task{}, err
	}

	var updated *Task
	err = r.store.Update(ctx, func(f *excelize.File) error {
		rows, rerr := r.store.DataRows(f)
		if rerr != nil {
			return rerr
		}
		for _, row := range rows {
			existing := decodeRow(row.Cells)
			if existing.Sno != sno {
				continue
			}
			t := draft.build(sno, derived, existing.CreatedBy, existing.CreatedAt)
			if serr := r.store.SetRow(f, row.Index, t.RowValues()); serr != nil {
				return serr
			}
			updated = &t
			return nil
		}
		return ErrNotFound
	})
	if err != nil {
		return Task{}, err
	}
	return *updated, nil
}

// Delete removes the row with the given sequence number. Remaining rows are
// not renumbered; the number is never reused.
func (r *Repository) Delete(ctx context.Context, sno int) error {
	return r.store.Update(ctx, func(f *excelize.File) error {
		rows, rerr := r.store.DataRows(f)
		if rerr != nil {
			return rerr
		}
		for _, row := range rows {
			if n, perr := parseSno(row.Cells[0]); perr == nil && n == sno {
				return r.store.RemoveRow(f, row.Index)
			}
		}
		return ErrNotFound
	})
}

// SnapshotTo copies the workbook to dst under the lock, for backups.
func (r *Repository) SnapshotTo(ctx context.Context, dst string) error {
	return r.store.SnapshotTo(ctx, dst)
}

// FilePath returns the workbook path, for backup naming.
func (r *Repository) FilePath() string { return r.store.Path() }
