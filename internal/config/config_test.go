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

	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, "fever:events:month:", cfg.Cache.KeyPrefix)
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 2*time.Hour, cfg.Cache.CurrentMonthTTL)
	assert.Equal(t, 168*time.Hour, cfg.Cache.LongTermTTL)
	assert.True(t, cfg.Cache.EnableTieredTTL)
	assert.Equal(t, 24, cfg.Cache.MaxMonthsPerQuery)
	assert.Equal(t, 10*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 3, cfg.Provider.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Provider.Retry.Wait)
	assert.Equal(t, 2.0, cfg.Provider.Retry.Multiplier)
	assert.Equal(t, 50, cfg.Provider.Breaker.ThresholdPct)
	assert.Equal(t, 5, cfg.Provider.Breaker.MinCalls)
	assert.Equal(t, 30*time.Second, cfg.Provider.Breaker.OpenFor)
	assert.Equal(t, 3, cfg.Provider.Breaker.HalfOpenMax)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, 30*time.Second, cfg.Database.ConnectTimeout)
}

func TestLoadFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("sync:\n  enabled: false\n  interval_ms: 60000\ncache:\n  ttl_hours: 12\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 12*time.Hour, cfg.Cache.TTL)
	// Untouched keys keep their defaults.
	assert.Equal(t, "fever:events:month:", cfg.Cache.KeyPrefix)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  max_months_per_query: 12\n"), 0o644))

	t.Setenv("FEVER_CACHE_MAX_MONTHS_PER_QUERY", "6")
	t.Setenv("FEVER_CACHE_ENABLE_TIERED_TTL", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Cache.MaxMonthsPerQuery)
	assert.False(t, cfg.Cache.EnableTieredTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("FEVER_PROVIDER_RETRY_MAX_ATTEMPTS", "0")
	_, err := Load("")
	assert.Error(t, err)
}
