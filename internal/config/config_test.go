package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config file in sight

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Hub.Port)
	assert.Equal(t, "ws://localhost:8080", cfg.Hub.URL)
	assert.Equal(t, 8081, cfg.Store.Port)
	assert.Equal(t, ".todosync/todos.db", cfg.Store.DBPath)
	assert.Equal(t, 30*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.ReconnectBaseDelay)
	assert.Equal(t, 5, cfg.Sync.ReconnectMaxAttempts)
	assert.NotEmpty(t, cfg.Agent.Model)
	assert.Empty(t, cfg.Log.File)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := `
hub:
  port: 9090
  url: ws://hub.internal:9090
sync:
  poll_interval: 5s
  reconnect_max_attempts: 8
log:
  file: /tmp/todosync.log
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "todosync.yaml"), []byte(yaml), 0644))

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Hub.Port)
	assert.Equal(t, "ws://hub.internal:9090", cfg.Hub.URL)
	assert.Equal(t, 5*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 8, cfg.Sync.ReconnectMaxAttempts)
	assert.Equal(t, "/tmp/todosync.log", cfg.Log.File)

	// Untouched sections keep their defaults.
	assert.Equal(t, 8081, cfg.Store.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.ReconnectBaseDelay)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := "sync:\n  poll_interval: 5s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "todosync.yaml"), []byte(yaml), 0644))
	t.Setenv("TODOSYNC_SYNC_POLL_INTERVAL", "45s")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Sync.PollInterval)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "todosync.yaml"), []byte("hub: [not: a map"), 0644))

	_, err := NewLoader().Load()
	assert.Error(t, err)
}
