package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Royal-Captain/ai-telegram-bot/internal/crypto"
)

func newTestScheduler(t *testing.T) (*Scheduler, string) {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "bot_data.db")
	require.NoError(t, os.WriteFile(source, []byte("store contents"), 0o600))

	enc, err := crypto.New(filepath.Join(dir, "encryption.key"), "", zap.NewNop())
	require.NoError(t, err)

	backupDir := filepath.Join(dir, "backups")
	sched := NewScheduler(Config{
		SourcePath:    source,
		BackupDir:     backupDir,
		RetentionDays: 15,
	}, enc, zap.NewNop())
	return sched, backupDir
}

func TestSnapshotProducesEncryptedArchive(t *testing.T) {
	sched, backupDir := newTestScheduler(t)

	path, err := sched.Snapshot()
	require.NoError(t, err)
	assert.True(t, filepath.Base(path) != "" && filepath.Dir(path) == backupDir)

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "plaintext intermediates must be removed")
	assert.Contains(t, entries[0].Name(), "backup_")
	assert.Contains(t, entries[0].Name(), ".zip.enc")
}

func TestSnapshotMissingSourceFails(t *testing.T) {
	sched, _ := newTestScheduler(t)
	sched.cfg.SourcePath = filepath.Join(t.TempDir(), "missing.db")

	_, err := sched.Snapshot()
	assert.Error(t, err)
}

func writeSnapshotAged(t *testing.T, dir string, age time.Duration, now time.Time) string {
	t.Helper()
	name := namePrefix + now.Add(-age).UTC().Format(timestampLayout) + ".zip.enc"
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("archive"), 0o600))
	return path
}

func TestSweepRemovesExpiredSnapshots(t *testing.T) {
	sched, backupDir := newTestScheduler(t)
	require.NoError(t, os.MkdirAll(backupDir, 0o700))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return now }

	day := 24 * time.Hour
	keep1 := writeSnapshotAged(t, backupDir, 1*day, now)
	keep10 := writeSnapshotAged(t, backupDir, 10*day, now)
	drop16 := writeSnapshotAged(t, backupDir, 16*day, now)
	drop20 := writeSnapshotAged(t, backupDir, 20*day, now)

	require.NoError(t, sched.Sweep())

	assert.FileExists(t, keep1)
	assert.FileExists(t, keep10)
	assert.NoFileExists(t, drop16)
	assert.NoFileExists(t, drop20)
}

func TestSweepKeepsNewestEvenWhenExpired(t *testing.T) {
	sched, backupDir := newTestScheduler(t)
	require.NoError(t, os.MkdirAll(backupDir, 0o700))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return now }

	day := 24 * time.Hour
	newest := writeSnapshotAged(t, backupDir, 16*day, now)
	older := writeSnapshotAged(t, backupDir, 20*day, now)

	require.NoError(t, sched.Sweep())

	assert.FileExists(t, newest, "the most recent snapshot is never deleted")
	assert.NoFileExists(t, older)
}

func TestSweepIgnoresUnrelatedFiles(t *testing.T) {
	sched, backupDir := newTestScheduler(t)
	require.NoError(t, os.MkdirAll(backupDir, 0o700))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return now }

	unrelated := filepath.Join(backupDir, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep me"), 0o600))
	malformed := filepath.Join(backupDir, "backup_garbage.zip.enc")
	require.NoError(t, os.WriteFile(malformed, []byte("keep me too"), 0o600))

	require.NoError(t, sched.Sweep())

	assert.FileExists(t, unrelated)
	assert.FileExists(t, malformed)
}

func TestRunStopsOnCancel(t *testing.T) {
	sched, _ := newTestScheduler(t)
	sched.cfg.SnapshotInterval = time.Hour
	sched.cfg.SweepInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
