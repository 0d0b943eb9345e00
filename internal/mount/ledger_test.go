package mount

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerMissingFileIsEmpty(t *testing.T) {
	l := NewLedger(filepath.Join(t.TempDir(), "mounts.yaml"))
	recs, err := l.List()
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = l.Get("/mnt/x")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.ErrorIs(t, l.SetStatus("/mnt/x", StatusUnmounted), ErrRecordNotFound)
}

func TestLedgerUpsertAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mounts.yaml")
	l := NewLedger(path)
	when := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, l.Upsert(Record{MountID: "a", MountPoint: "/mnt/a", TargetPath: "//h/s", MountTime: when, Status: StatusMounted}))
	require.NoError(t, l.Upsert(Record{MountID: "b", MountPoint: "/mnt/b", TargetPath: "//h/t", MountTime: when, Status: StatusMounted}))
	require.NoError(t, l.Upsert(Record{MountID: "a2", MountPoint: "/mnt/a", TargetPath: "//h/s", MountTime: when, Status: StatusFailed}))

	reopened := NewLedger(path)
	recs, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a2", recs[0].MountID)
	assert.Equal(t, StatusFailed, recs[0].Status)
	assert.Equal(t, when, recs[0].MountTime)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mount_point: /mnt/b")

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestLedgerCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mounts: [unterminated"), 0o644))

	_, err := NewLedger(path).List()
	assert.ErrorContains(t, err, "parse mount ledger")
}
