package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "file:relay.db?mode=rwc&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", cfg.DatabaseURL)
	assert.NotContains(t, cfg.DatabaseURL, "cache=shared")
	assert.Equal(t, 30*time.Second, cfg.DeliveryTimeout)
	assert.Equal(t, 5*time.Second, cfg.LivenessTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.ProcessInterval)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
	assert.Equal(t, 24*time.Hour, cfg.Retention)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("BACKOFF_BASE_MS", "250")
	t.Setenv("LIVENESS_URL", "http://status.local")
	t.Setenv("DELIVERY_TIMEOUT_MS", "not-a-number")

	cfg := FromEnv()

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, "http://status.local", cfg.LivenessURL)
	assert.Equal(t, 30*time.Second, cfg.DeliveryTimeout, "invalid ints fall back to the default")
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	content := `
[server]
http-port = 7070
rpc-addr = ""

[delivery]
max-retries = 2
backoff-base-ms = 1000

[processor]
retention-hours = 48

[logging]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := FromEnv()
	require.NoError(t, cfg.ApplyFile(path))

	assert.Equal(t, 7070, cfg.HTTPPort)
	assert.Equal(t, ":8091", cfg.RPCAddr, "empty values keep the environment value")
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, 48*time.Hour, cfg.Retention)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestApplyFileMissing(t *testing.T) {
	cfg := FromEnv()
	assert.Error(t, cfg.ApplyFile(filepath.Join(t.TempDir(), "missing.toml")))
}

func TestValidate(t *testing.T) {
	cfg := FromEnv()
	cfg.MaxRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = FromEnv()
	cfg.MaxBackoff = cfg.BackoffBase / 2
	assert.Error(t, cfg.Validate())

	cfg = FromEnv()
	cfg.PendingBatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte("[delivery]\nmax-retries = 4\n"), 0o600))
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxRetries)
}
