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
	os.Unsetenv("ORION_SERVER_URL")
	os.Unsetenv("ORION_STATE_PATH")
	os.Unsetenv("ORION_METRICS_ADDR")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Server.URL)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Equal(t, 2*time.Minute, cfg.SSH.VerifyTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.State.Path)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ORION_SERVER_URL", "https://rentals.example.com")
	t.Setenv("ORION_STATE_PATH", "/tmp/orion-test.db")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://rentals.example.com", cfg.Server.URL)
	assert.Equal(t, "/tmp/orion-test.db", cfg.State.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  url: http://10.0.0.5:5000
poll:
  interval: 10s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:5000", cfg.Server.URL)
	assert.Equal(t, 10*time.Second, cfg.Poll.Interval)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects relative url", func(t *testing.T) {
		cfg := valid()
		cfg.Server.URL = "localhost:8080"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-http scheme", func(t *testing.T) {
		cfg := valid()
		cfg.Server.URL = "ftp://example.com"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive poll interval", func(t *testing.T) {
		cfg := valid()
		cfg.Poll.Interval = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects empty state path", func(t *testing.T) {
		cfg := valid()
		cfg.State.Path = ""
		assert.Error(t, cfg.Validate())
	})
}
