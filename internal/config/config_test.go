package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "wss://gateway.example.net/v1/session", cfg.Transport.GatewayURL)

	assert.Equal(t, 500*time.Millisecond, cfg.Session.Backoff.Base)
	assert.Equal(t, 30*time.Second, cfg.Session.Backoff.Max)
	assert.True(t, cfg.Session.Backoff.Jitter)
	assert.Equal(t, 10, cfg.Session.MaxReconnects)
	assert.Equal(t, 3, cfg.Session.SendAttempts)
	assert.Equal(t, 5*time.Second, cfg.Session.StopGrace)

	assert.Equal(t, 1000, cfg.Queue.Capacity)
	assert.Equal(t, 1024, cfg.Bus.Buffer)
	assert.Equal(t, "drop", cfg.Bus.Policy)

	assert.Equal(t, 3, cfg.Dispatcher.DefaultAttempts)
	assert.Equal(t, 256, cfg.Dispatcher.WorkerBuffer)

	assert.Equal(t, []string{"127.0.0.1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 50*time.Millisecond, cfg.Kafka.BatchTimeout)
	assert.Equal(t, 50, cfg.RateLimit.RPS)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
session:
  max_reconnects: 2
queue:
  capacity: 25
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Session.MaxReconnects)
	assert.Equal(t, 25, cfg.Queue.Capacity)

	// untouched keys keep their defaults
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 3, cfg.Session.SendAttempts)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}
