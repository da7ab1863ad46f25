package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	StorageKey string        `env:"TEST_CFG_STORAGE_KEY" envDefault:"cart-storage"`
	FlushDelay time.Duration `env:"TEST_CFG_FLUSH_DELAY" envDefault:"300ms"`
	Burst      int           `env:"TEST_CFG_BURST" envDefault:"5"`
	MergeGuest bool          `env:"TEST_CFG_MERGE_GUEST" envDefault:"true"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, "cart-storage", cfg.StorageKey)
	assert.Equal(t, 300*time.Millisecond, cfg.FlushDelay)
	assert.Equal(t, 5, cfg.Burst)
	assert.True(t, cfg.MergeGuest)
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("TEST_CFG_STORAGE_KEY", "shop-cart")
	t.Setenv("TEST_CFG_FLUSH_DELAY", "1s")
	t.Setenv("TEST_CFG_BURST", "20")
	t.Setenv("TEST_CFG_MERGE_GUEST", "false")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, "shop-cart", cfg.StorageKey)
	assert.Equal(t, time.Second, cfg.FlushDelay)
	assert.Equal(t, 20, cfg.Burst)
	assert.False(t, cfg.MergeGuest)
}

type requiredConfig struct {
	APIURL string `env:"TEST_CFG_API_URL,required"`
}

func TestLoad_RequiredFieldMissing(t *testing.T) {
	var cfg requiredConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("TEST_CFG_FLUSH_DELAY", "soon")

	var cfg testConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
