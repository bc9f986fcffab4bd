package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileBackups(t *testing.T) (*Backups, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sim_trader.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("v1"), 0o644))

	b := NewBackups(dbPath, BackupConfig{Dir: filepath.Join(dir, "backups")}, nil)
	return b, dbPath
}

func TestBackups_NameAndCollision(t *testing.T) {
	b, _ := newFileBackups(t)
	b.now = func() time.Time { return time.Date(2026, 2, 6, 12, 0, 0, 0, time.Local) }

	first, err := b.Backup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sim_trader_20260206_120000.db", filepath.Base(first))

	second, err := b.Backup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sim_trader_20260206_120000_1.db", filepath.Base(second))
}

func TestBackups_ListNewestFirstAndCleanupAll(t *testing.T) {
	b, _ := newFileBackups(t)
	ctx := context.Background()

	b.now = func() time.Time { return time.Date(2026, 2, 5, 9, 0, 0, 0, time.Local) }
	_, err := b.Backup(ctx)
	require.NoError(t, err)
	b.now = func() time.Time { return time.Date(2026, 2, 6, 9, 0, 0, 0, time.Local) }
	_, err = b.Backup(ctx)
	require.NoError(t, err)

	list, err := b.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sim_trader_20260206_090000.db", list[0].Name)
	assert.Equal(t, int64(2), list[0].Size)

	removed, err := b.Cleanup(0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err = b.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBackups_RetentionKeepsRecent(t *testing.T) {
	b, _ := newFileBackups(t)
	ctx := context.Background()

	b.now = func() time.Time { return time.Date(2026, 1, 1, 9, 0, 0, 0, time.Local) }
	_, err := b.Backup(ctx)
	require.NoError(t, err)
	b.now = func() time.Time { return time.Date(2026, 1, 20, 9, 0, 0, 0, time.Local) }
	_, err = b.Backup(ctx)
	require.NoError(t, err)

	removed, err := b.Cleanup(7)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	list, err := b.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sim_trader_20260120_090000.db", list[0].Name)
}

func TestBackups_MissingDatabase(t *testing.T) {
	dir := t.TempDir()
	b := NewBackups(filepath.Join(dir, "absent.db"), BackupConfig{Dir: dir}, nil)

	path, err := b.Backup(context.Background())
	assert.ErrorIs(t, err, ErrNoDatabase)
	assert.Empty(t, path)
}

func TestBackups_RestoreKeepsEmergencyCopy(t *testing.T) {
	b, dbPath := newFileBackups(t)
	backup, err := b.Backup(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(dbPath, []byte("v2"), 0o644))
	require.NoError(t, b.Restore(backup))

	restored, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(restored))

	emergency, err := os.ReadFile(filepath.Join(filepath.Dir(dbPath), "sim_trader_before_restore.db"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(emergency))
}

func TestBackups_SQLiteVacuumInto(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSQLite(filepath.Join(dir, "sim.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	id, err := s.CreateAccount(ctx, d("1000000"), "")
	require.NoError(t, err)

	b := NewStoreBackups(s, BackupConfig{Dir: filepath.Join(dir, "backups")}, nil)
	path, err := b.Backup(ctx)
	require.NoError(t, err)

	copied, err := OpenSQLite(path)
	require.NoError(t, err)
	defer copied.Close()

	a, err := copied.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.True(t, a.TotalCash.Equal(d("1000000")))
}

func TestBackups_RunBacksUpOncePerDay(t *testing.T) {
	b, _ := newFileBackups(t)
	b.cfg.Auto = true
	b.cfg.Interval = time.Hour
	b.now = func() time.Time { return time.Date(2026, 2, 6, 9, 0, 0, 0, time.Local) }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, b.Run(ctx))
	list, err := b.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	// a restart later the same day does not take a second copy
	b.now = func() time.Time { return time.Date(2026, 2, 6, 17, 30, 0, 0, time.Local) }
	require.NoError(t, b.Run(ctx))
	list, err = b.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	b.now = func() time.Time { return time.Date(2026, 2, 7, 9, 0, 0, 0, time.Local) }
	require.NoError(t, b.Run(ctx))
	list, err = b.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestBackups_RunManualIsNoop(t *testing.T) {
	b, _ := newFileBackups(t)
	require.NoError(t, b.Run(context.Background()))
	list, err := b.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}
