package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "things.xlsx"), "things", []string{"id", "name", "count"}, 5*time.Second)
}

func TestEnsureExistsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureExists())
	require.NoError(t, s.EnsureExists())

	err := s.View(context.Background(), func(f *excelize.File) error {
		rows, err := f.GetRows("things")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"id", "name", "count"}, rows[0])
		return nil
	})
	require.NoError(t, err)
}

func TestUpdatePersistsAcrossLoads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(f *excelize.File) error {
		return s.AppendRow(f, []interface{}{1, "alpha", 3})
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(f *excelize.File) error {
		return s.AppendRow(f, []interface{}{2, "beta", 5})
	})
	require.NoError(t, err)

	var rows []Row
	err = s.View(ctx, func(f *excelize.File) error {
		var verr error
		rows, verr = s.DataRows(f)
		return verr
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "alpha", "3"}, rows[0].Cells)
	assert.Equal(t, 2, rows[0].Index)
	assert.Equal(t, []string{"2", "beta", "5"}, rows[1].Cells)
}

func TestFailedUpdateLeavesFileIntact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(f *excelize.File) error {
		return s.AppendRow(f, []interface{}{1, "keep", 1})
	}))

	boom := assert.AnError
	err := s.Update(ctx, func(f *excelize.File) error {
		if aerr := s.AppendRow(f, []interface{}{2, "drop", 2}); aerr != nil {
			return aerr
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(f *excelize.File) error {
		rows, verr := s.DataRows(f)
		require.NoError(t, verr)
		require.Len(t, rows, 1)
		assert.Equal(t, "keep", rows[0].Cells[1])
		return nil
	})
	require.NoError(t, err)
}

func TestDataRowsSkipBlankAndPad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(f *excelize.File) error {
		if err := s.SetRow(f, 2, []interface{}{1, "short"}); err != nil {
			return err
		}
		// row 3 left blank on purpose
		return s.SetRow(f, 4, []interface{}{2, "full", 7})
	})
	require.NoError(t, err)

	err = s.View(ctx, func(f *excelize.File) error {
		rows, verr := s.DataRows(f)
		require.NoError(t, verr)
		require.Len(t, rows, 2)
		assert.Equal(t, []string{"1", "short", ""}, rows[0].Cells)
		assert.Equal(t, []string{"2", "full", "7"}, rows[1].Cells)
		assert.Equal(t, 4, rows[1].Index)
		return nil
	})
	require.NoError(t, err)
}

func TestLockTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "things.xlsx")
	s := New(path, "things", []string{"id"}, 150*time.Millisecond)
	require.NoError(t, s.EnsureExists())

	holder := flock.New(filepath.Join(dir, "things.lock"))
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	err := s.View(context.Background(), func(*excelize.File) error { return nil })
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestSnapshotTo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(f *excelize.File) error {
		return s.AppendRow(f, []interface{}{1, "alpha", 3})
	}))

	dst := filepath.Join(t.TempDir(), "copy.xlsx")
	require.NoError(t, s.SnapshotTo(ctx, dst))

	f, err := excelize.OpenFile(dst)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("things")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[1][1])
}
