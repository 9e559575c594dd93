package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "telegram:\n  token: test-token\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test-token", cfg.Telegram.Token)
	assert.Equal(t, 60, cfg.RateLimit.MessagesPerMinute)
	assert.Equal(t, 12*time.Hour, cfg.Backup.SnapshotInterval)
	assert.Equal(t, 24*time.Hour, cfg.Backup.SweepInterval)
	assert.Equal(t, 15, cfg.Backup.RetentionDays)

	assert.Equal(t, 15, cfg.Limits.Normal.MessagesPerConversation)
	assert.Equal(t, 20, cfg.Limits.Normal.ConversationsPerWeek)
	assert.Equal(t, 5, cfg.Limits.Normal.SavedConversations)
	assert.Equal(t, 0, cfg.Limits.Premium.MessagesPerConversation)
	assert.Equal(t, 100, cfg.Limits.Premium.ConversationsPerWeek)
	assert.Equal(t, 20, cfg.Limits.Premium.SavedConversations)

	require.Contains(t, cfg.Premium.Prices, "3_months")
	assert.Equal(t, 25.0, cfg.Premium.Prices["3_months"].Price)
	assert.Equal(t, 15.0, cfg.Premium.Prices["3_months"].Discount)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: from-file
database:
  use_in_memory: true
backup:
  retention_days: 7
  snapshot_interval: 6h
rate_limit:
  messages_per_minute: 30
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Database.UseInMemory)
	assert.Equal(t, 7, cfg.Backup.RetentionDays)
	assert.Equal(t, 6*time.Hour, cfg.Backup.SnapshotInterval)
	assert.Equal(t, 30, cfg.RateLimit.MessagesPerMinute)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
