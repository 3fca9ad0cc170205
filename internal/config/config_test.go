package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValidLocalProfile(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ProfileLocal, cfg.Profile)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	require.NoError(t, cfg.Validate())
}

func TestProductionFailsClosedWithoutSecrets(t *testing.T) {
	cfg := Default()
	cfg.Profile = ProfileProduction

	// Default sqlite storage is rejected outright.
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")

	cfg.Storage.Type = "postgres"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres_dsn")

	cfg.Storage.PostgresDSN = "postgres://app@db/commits"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBHOOK_SECRET")

	cfg.Webhook.Secret = "s3cret"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownProfile(t *testing.T) {
	cfg := Default()
	cfg.Profile = "staging"
	require.Error(t, cfg.Validate())
}

func TestValidateDefaultsTimeout(t *testing.T) {
	cfg := Default()
	cfg.Storage.Timeout = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.Storage.Timeout)
}

func TestLoadReadsUnderscoreKeysFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
profile: local
storage:
  type: sqlite
  postgres_dsn: postgres://app@db/commits
  local_path: ` + filepath.Join(dir, "commits.db") + `
  timeout: 5s
ingestion:
  workers: 2
  rate_limit: 12.5
  storage_attempts: 7
  storage_backoff: 450ms
retry:
  queue_path: ` + filepath.Join(dir, "retry.db") + `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://app@db/commits", cfg.Storage.PostgresDSN)
	assert.Equal(t, filepath.Join(dir, "commits.db"), cfg.Storage.LocalPath)
	assert.Equal(t, 5*time.Second, cfg.Storage.Timeout)
	assert.Equal(t, 2, cfg.Ingestion.Workers)
	assert.Equal(t, 12.5, cfg.Ingestion.RateLimit)
	assert.Equal(t, 7, cfg.Ingestion.StorageAttempts)
	assert.Equal(t, 450*time.Millisecond, cfg.Ingestion.StorageBackoff)
	assert.Equal(t, filepath.Join(dir, "retry.db"), cfg.Retry.QueuePath)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COMMITTRACE_PROFILE", ProfileProduction)
	t.Setenv("COMMITTRACE_DATABASE_URL", "postgres://app@db/commits")
	t.Setenv("COMMITTRACE_WEBHOOK_SECRET", "s3cret")
	t.Setenv("COMMITTRACE_WORKERS", "8")

	cfg := Default()
	applyEnvOverrides(cfg)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ProfileProduction, cfg.Profile)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, 8, cfg.Ingestion.Workers)
}
