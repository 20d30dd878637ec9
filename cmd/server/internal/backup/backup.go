// Package backup snapshots the data workbooks into timestamped folders and
// prunes old snapshots.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/houzhh15/capworks/cmd/server/internal/tasks"
	"github.com/houzhh15/capworks/cmd/server/internal/users"
)

// folderLayout names snapshot folders so lexical order is chronological.
const folderLayout = "2006-01-02T15-04-05"

// Service copies the task and account workbooks plus the audit log into
// backupsDir. Workbook copies go through the store locks so a snapshot never
// captures a half-written file.
type Service struct {
	tasks      *tasks.Repository
	users      *users.Manager
	auditFile  string
	backupsDir string
	keep       int
	log        *slog.Logger
}

// New creates the service. keep is the number of snapshots retained by
// Prune; non-positive means keep seven.
func New(taskRepo *tasks.Repository, userMgr *users.Manager, auditFile, backupsDir string, keep int, log *slog.Logger) *Service {
	if keep <= 0 {
		keep = 7
	}
	return &Service{
		tasks:      taskRepo,
		users:      userMgr,
		auditFile:  auditFile,
		backupsDir: backupsDir,
		keep:       keep,
		log:        log,
	}
}

// Snapshot copies all datasets into a fresh timestamped folder and returns
// its path.
func (s *Service) Snapshot(ctx context.Context) (string, error) {
	dir := filepath.Join(s.backupsDir, time.Now().UTC().Format(folderLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := s.tasks.SnapshotTo(ctx, filepath.Join(dir, filepath.Base(s.tasks.FilePath()))); err != nil {
		return "", fmt.Errorf("snapshot tasks: %w", err)
	}
	if err := s.users.SnapshotTo(ctx, filepath.Join(dir, filepath.Base(s.users.FilePath()))); err != nil {
		return "", fmt.Errorf("snapshot users: %w", err)
	}
	if s.auditFile != "" {
		if err := copyFile(s.auditFile, filepath.Join(dir, filepath.Base(s.auditFile))); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("snapshot audit log: %w", err)
		}
	}
	return dir, nil
}

// PreExport snapshots only the task workbook, taken right before an export
// download is generated.
func (s *Service) PreExport(ctx context.Context) (string, error) {
	dir := filepath.Join(s.backupsDir, time.Now().UTC().Format(folderLayout)+"_pre_export")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := s.tasks.SnapshotTo(ctx, filepath.Join(dir, filepath.Base(s.tasks.FilePath()))); err != nil {
		return "", fmt.Errorf("snapshot tasks: %w", err)
	}
	return dir, nil
}

// Prune removes the oldest snapshot folders beyond the retention count.
func (s *Service) Prune() error {
	entries, err := os.ReadDir(s.backupsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read backups dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) <= s.keep {
		return nil
	}
	sort.Strings(dirs)
	for _, name := range dirs[:len(dirs)-s.keep] {
		if err := os.RemoveAll(filepath.Join(s.backupsDir, name)); err != nil {
			return fmt.Errorf("prune snapshot %s: %w", name, err)
		}
	}
	return nil
}

// Start runs a snapshot-and-prune cycle immediately and then once per day
// until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	run := func() {
		if dir, err := s.Snapshot(ctx); err != nil {
			s.log.Error("scheduled backup failed", "error", err)
		} else {
			s.log.Info("backup snapshot written", "dir", dir)
		}
		if err := s.Prune(); err != nil {
			s.log.Error("backup prune failed", "error", err)
		}
	}
	go func() {
		run()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
