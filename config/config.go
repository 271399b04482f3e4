// Package config provides configuration loading for the estimate server.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tenderestimate/services"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "ESTIMATE_CONFIG"

// Config represents the complete server configuration
type Config struct {
	Currency  CurrencyConfig  `yaml:"currency"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Conflicts ConflictsConfig `yaml:"conflicts"`
}

// CurrencyConfig configures which currencies items may be priced in
type CurrencyConfig struct {
	// Local is the currency totals are reported in (default: RUB)
	Local string `yaml:"local"`
	// Allowed lists the foreign currencies accepted on items
	Allowed []string `yaml:"allowed"`
}

// PricingConfig configures the calculator
type PricingConfig struct {
	// DeliveryRate is the surcharge for materials with delivery not included,
	// as a decimal string (default: "0.03")
	DeliveryRate string `yaml:"delivery_rate"`
}

type LogConfig struct {
	Environment string `yaml:"environment"`
	Level       string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ConflictsConfig configures how long reported conflicts stay resolvable
type ConflictsConfig struct {
	// PendingTTL is a duration string such as "24h"
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Currency: CurrencyConfig{
			Local:   string(services.CurrencyRUB),
			Allowed: []string{"RUB", "USD", "EUR", "CNY"},
		},
		Pricing: PricingConfig{
			DeliveryRate: services.DefaultDeliveryRate.String(),
		},
		Log: LogConfig{
			Environment: "production",
			Level:       "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Conflicts: ConflictsConfig{
			PendingTTL: 24 * time.Hour,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Currency.Local == "" {
		return fmt.Errorf("currency.local is required")
	}
	rate, err := decimal.NewFromString(c.Pricing.DeliveryRate)
	if err != nil {
		return fmt.Errorf("pricing.delivery_rate %q is not a number: %w", c.Pricing.DeliveryRate, err)
	}
	if rate.IsNegative() {
		return fmt.Errorf("pricing.delivery_rate must not be negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		return fmt.Errorf("metrics.path must start with /")
	}
	if c.Conflicts.PendingTTL <= 0 {
		return fmt.Errorf("conflicts.pending_ttl must be positive")
	}
	return nil
}

// Calculator builds the pricing rules described by the configuration.
// Call Validate first.
func (c *Config) Calculator() services.Calculator {
	calc := services.DefaultCalculator()
	calc.LocalCurrency = services.Currency(c.Currency.Local)
	if rate, err := decimal.NewFromString(c.Pricing.DeliveryRate); err == nil {
		calc.DeliveryRate = rate
	}
	if len(c.Currency.Allowed) > 0 {
		calc.Allowed = make([]services.Currency, 0, len(c.Currency.Allowed))
		for _, cur := range c.Currency.Allowed {
			calc.Allowed = append(calc.Allowed, services.Currency(cur))
		}
	}
	return calc
}

// LoadFromFile loads configuration from a YAML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads the file named by ESTIMATE_CONFIG, or returns the defaults when
// the variable is unset. The result is validated.
func Load() (*Config, error) {
	config := DefaultConfig()
	if path := os.Getenv(EnvPath); path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
