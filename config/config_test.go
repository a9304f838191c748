package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godown/billing-engine/config"
)

// chdir moves into an empty directory so a config.toml in the repo root
// cannot leak into the test.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "godown.db", cfg.Database.Path)
	assert.Equal(t, "rates.json", cfg.Rates.File)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 20, cfg.RateLimit.SinglePerMinute)
	assert.Equal(t, 5, cfg.RateLimit.BulkPerMinute)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := chdir(t)
	toml := `
[server]
port = 9090

[cache]
backend = "redis"
addr = "redis.internal:6379"

[ratelimit]
single_per_minute = 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o644))

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Cache.Addr)
	assert.Equal(t, 50, cfg.RateLimit.SinglePerMinute)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5, cfg.RateLimit.BulkPerMinute)
}

func TestEnvOverridesFile(t *testing.T) {
	chdir(t)
	t.Setenv("GODOWN_SERVER_PORT", "7777")
	t.Setenv("GODOWN_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsBadValues(t *testing.T) {
	chdir(t)

	t.Setenv("GODOWN_CACHE_BACKEND", "memcached")
	_, err := config.Load()
	assert.Error(t, err)
}
