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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, ":9090", cfg.GRPC.Addr)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, "agora", cfg.Auth.Issuer)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, time.Duration(0), cfg.Governance.RejoinCooldown)
	assert.Equal(t, "@every 1m", cfg.Sweep.Schedule)
	assert.Equal(t, 4, cfg.Notify.Workers)
	assert.Equal(t, uint(3), cfg.Notify.Retries)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agora.yaml")
	yaml := `
http:
  addr: ":9000"
  cors_origins: ["https://app.example"]
governance:
  rejoin_cooldown: 24h
notify:
  webhook_url: http://hooks.local/notify
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("AGORA_LOG_LEVEL", "warn")
	t.Setenv("AGORA_AUTH_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://app.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 24*time.Hour, cfg.Governance.RejoinCooldown)
	assert.Equal(t, "http://hooks.local/notify", cfg.Notify.WebhookURL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Notify.Workers = 0
	cfg.Governance.RejoinCooldown = -time.Second
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.workers")
	assert.Contains(t, err.Error(), "rejoin_cooldown")
}
