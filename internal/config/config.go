package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/cartsync/pkg/config"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for cartctl.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Cart API
	APIURL    string  `env:"CART_API_URL" envDefault:"http://localhost:8003"`
	AuthToken string  `env:"CART_AUTH_TOKEN" envDefault:""`
	APIRPS    float64 `env:"CART_API_RPS" envDefault:"10"`
	APIBurst  int     `env:"CART_API_BURST" envDefault:"5"`

	// Storage
	StorageBackend   string `env:"CART_STORAGE_BACKEND" envDefault:"memory"`
	RedisAddr        string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass        string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB          int    `env:"REDIS_DB" envDefault:"0"`
	StorageKey       string `env:"CART_STORAGE_KEY" envDefault:"cart-storage"`
	LegacyStorageKey string `env:"CART_LEGACY_STORAGE_KEY" envDefault:"cart"`

	// Redis commands slower than this are logged; 0 disables it.
	SlowStorageThreshold time.Duration `env:"CART_SLOW_STORAGE_THRESHOLD" envDefault:"100ms"`

	// Cart TTL in hours (default: 7 days)
	CartTTL int `env:"CART_TTL_HOURS" envDefault:"168"`

	// Sync engine
	FlushDelay        time.Duration `env:"CART_FLUSH_DELAY" envDefault:"300ms"`
	RefreshDelay      time.Duration `env:"CART_REFRESH_DELAY" envDefault:"1500ms"`
	RetryMin          time.Duration `env:"CART_RETRY_MIN" envDefault:"50ms"`
	RetryMax          time.Duration `env:"CART_RETRY_MAX" envDefault:"2s"`
	RequestTimeout    time.Duration `env:"CART_REQUEST_TIMEOUT" envDefault:"10s"`
	MergeGuestOnLogin bool          `env:"CART_MERGE_GUEST_ON_LOGIN" envDefault:"false"`

	// Ops server; 0 disables it.
	MetricsPort int `env:"METRICS_PORT" envDefault:"0"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cartctl config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CartTTLDuration returns the storage TTL.
func (c *Config) CartTTLDuration() time.Duration {
	return time.Duration(c.CartTTL) * time.Hour
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CART_API_URL must be an absolute URL, got %q", c.APIURL)
	}
	switch c.StorageBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("CART_STORAGE_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, c.StorageBackend)
	}
	if c.StorageKey == "" {
		return fmt.Errorf("CART_STORAGE_KEY is required")
	}
	if c.StorageKey == c.LegacyStorageKey {
		return fmt.Errorf("CART_LEGACY_STORAGE_KEY must differ from CART_STORAGE_KEY")
	}
	if c.CartTTL < 1 {
		return fmt.Errorf("CART_TTL_HOURS must be positive, got %d", c.CartTTL)
	}
	if c.FlushDelay < 0 || c.RefreshDelay < 0 {
		return fmt.Errorf("CART_FLUSH_DELAY and CART_REFRESH_DELAY must not be negative")
	}
	if c.RetryMin <= 0 || c.RetryMax < c.RetryMin {
		return fmt.Errorf("CART_RETRY_MIN must be positive and not above CART_RETRY_MAX")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("CART_REQUEST_TIMEOUT must be positive")
	}
	if c.APIRPS < 0 {
		return fmt.Errorf("CART_API_RPS must not be negative, got %f", c.APIRPS)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}
