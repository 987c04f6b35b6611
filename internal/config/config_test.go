package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"APP_ENV", "APP_PORT", "DB_HOST", "DB_PORT",
		"HOLD_DURATION_SEC", "SWEEP_INTERVAL", "POLL_INTERVAL",
		"PUSH_RETRY_INTERVAL", "CHANGELOG_CAPACITY",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.UseDatabase())
	assert.Equal(t, 15*time.Minute, cfg.HoldDuration)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.PushRetryInterval)
	assert.Equal(t, 512, cfg.ChangeLogCapacity)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("HOLD_DURATION_SEC", "300")
	t.Setenv("SWEEP_INTERVAL", "5s")
	t.Setenv("CHANGELOG_CAPACITY", "64")

	cfg := Load()
	assert.True(t, cfg.UseDatabase())
	assert.Equal(t, 5*time.Minute, cfg.HoldDuration)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, 64, cfg.ChangeLogCapacity)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("HOLD_DURATION_SEC", "soon")
	t.Setenv("SWEEP_INTERVAL", "whenever")

	cfg := Load()
	assert.Equal(t, 15*time.Minute, cfg.HoldDuration)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestRateLimitClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_TOKENS", "-2")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 1, cfg.RefillTokens)
	// TTL is stretched to cover several refill intervals.
	assert.Equal(t, 10*time.Second, cfg.TTL)
}
