package cartapi

import (
	"fmt"

	"github.com/utafrali/cartsync/internal/domain"
	pkgconfig "github.com/utafrali/cartsync/pkg/config"
)

// Config holds configuration for the standalone cart API server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort    int    `env:"CART_API_PORT" envDefault:"8003"`

	// Bearer tokens accepted by the server, as token:userID pairs.
	Tokens map[string]string `env:"CART_API_TOKENS" envDefault:"dev-token:dev-user"`
}

// LoadConfig reads the server configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, err
	}
	if cfg.HTTPPort < 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("CART_API_PORT out of range: %d", cfg.HTTPPort)
	}
	return cfg, nil
}

// DefaultCatalog is the product list the standalone server sells.
func DefaultCatalog() []CatalogItem {
	return []CatalogItem{
		{Product: domain.Product{ProductID: 1, Name: "Espresso Beans", UnitPrice: 1000}, Stock: 50},
		{Product: domain.Product{ProductID: 2, Name: "Grinder", UnitPrice: 4500}, Stock: 3},
		{Product: domain.Product{ProductID: 3, Name: "Filter Papers", UnitPrice: 250}, Stock: 0},
		{Product: domain.Product{ProductID: 4, Name: "Milk Jug", UnitPrice: 1800}, Stock: 10},
	}
}
