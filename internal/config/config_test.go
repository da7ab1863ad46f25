package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8003", cfg.APIURL)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, "cart-storage", cfg.StorageKey)
	assert.Equal(t, "cart", cfg.LegacyStorageKey)
	assert.Equal(t, 300*time.Millisecond, cfg.FlushDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.RefreshDelay)
	assert.Equal(t, 168*time.Hour, cfg.CartTTLDuration())
	assert.False(t, cfg.MergeGuestOnLogin)
	assert.Zero(t, cfg.MetricsPort)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CART_STORAGE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis.prod:6380")
	t.Setenv("CART_FLUSH_DELAY", "1s")
	t.Setenv("CART_MERGE_GUEST_ON_LOGIN", "true")
	t.Setenv("CART_AUTH_TOKEN", "tok")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.StorageBackend)
	assert.Equal(t, "redis.prod:6380", cfg.RedisAddr)
	assert.Equal(t, time.Second, cfg.FlushDelay)
	assert.True(t, cfg.MergeGuestOnLogin)
	assert.Equal(t, "tok", cfg.AuthToken)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"relative api url", "CART_API_URL", "/api", "CART_API_URL"},
		{"unknown backend", "CART_STORAGE_BACKEND", "sqlite", "CART_STORAGE_BACKEND"},
		{"same keys", "CART_LEGACY_STORAGE_KEY", "cart-storage", "must differ"},
		{"zero ttl", "CART_TTL_HOURS", "0", "CART_TTL_HOURS"},
		{"negative flush delay", "CART_FLUSH_DELAY", "-1s", "must not be negative"},
		{"retry min above max", "CART_RETRY_MIN", "5s", "CART_RETRY_MIN"},
		{"zero request timeout", "CART_REQUEST_TIMEOUT", "0s", "CART_REQUEST_TIMEOUT"},
		{"negative rps", "CART_API_RPS", "-1", "CART_API_RPS"},
		{"metrics port", "METRICS_PORT", "70000", "invalid metrics port"},
		{"sample rate", "OTEL_SAMPLE_RATE", "2.0", "OTEL_SAMPLE_RATE must be between 0.0 and 1.0"},
		{"bad duration", "CART_REFRESH_DELAY", "later", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
