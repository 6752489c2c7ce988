package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Terminal.CommandTimeout)
	assert.Equal(t, 80.0, cfg.Metrics.Thresholds.CPU)
	assert.Equal(t, 85.0, cfg.Metrics.Thresholds.Memory)
	assert.Equal(t, 90.0, cfg.Metrics.Thresholds.Disk)
	assert.False(t, cfg.Store.Enabled())
}

func TestLoad(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
		assert.Equal(t, domain.DefaultShell, cfg.Terminal.Shell)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("overlays yaml on defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lighthouse.yaml")
		body := `
server:
  address: ":8080"
cache:
  ttl: 2s
terminal:
  idle_timeout: 5m
  max_sessions: 3
metrics:
  retention: 10
  thresholds:
    cpu: 70
    memory: 75
    disk: 95
store:
  dsn: postgres://localhost/lighthouse
`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Address)
		assert.Equal(t, ":3001", cfg.Server.RealtimeAddress)
		assert.Equal(t, 2*time.Second, cfg.Cache.TTL)
		assert.Equal(t, 5*time.Minute, cfg.Terminal.IdleTimeout)
		assert.Equal(t, 3, cfg.Terminal.MaxSessions)
		assert.Equal(t, 10, cfg.Metrics.Retention)
		assert.Equal(t, 70.0, cfg.Metrics.Thresholds.CPU)
		assert.True(t, cfg.Store.Enabled())
		require.NoError(t, cfg.Validate())
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cache: [oops"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LIGHTHOUSE_CACHE_TTL", "750ms")
	t.Setenv("LIGHTHOUSE_TERMINAL_MAX_SESSIONS", "7")
	t.Setenv("LIGHTHOUSE_ALERT_DISK", "60")
	t.Setenv("LIGHTHOUSE_METRICS_RETENTION", "not-a-number")
	t.Setenv("LIGHTHOUSE_TERMINAL_SHELL", "/bin/bash -l")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, 750*time.Millisecond, cfg.Cache.TTL)
	assert.Equal(t, 7, cfg.Terminal.MaxSessions)
	assert.Equal(t, 60.0, cfg.Metrics.Thresholds.Disk)
	assert.Equal(t, 100, cfg.Metrics.Retention)
	assert.Equal(t, []string{"/bin/bash", "-l"}, cfg.Terminal.Shell)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Cache.TTL = 0
	cfg.Metrics.Thresholds.CPU = 120
	cfg.Engine.TLS.CACert = "/ca.pem"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.ttl")
	assert.Contains(t, err.Error(), "thresholds.cpu")
	assert.Contains(t, err.Error(), "engine.tls")

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("LIGHTHOUSE_TEST_KEY", "set")
	assert.Equal(t, "set", GetEnvOrDefault("LIGHTHOUSE_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("LIGHTHOUSE_TEST_UNSET", "fallback"))
}
