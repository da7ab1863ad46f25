package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into the provided struct.
// The struct should use `env` tags to define mappings; time.Duration fields
// accept Go duration strings.
//
// Example:
//
//	type Config struct {
//	    FlushDelay time.Duration `env:"CART_FLUSH_DELAY" envDefault:"300ms"`
//	    LogLevel   string        `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
