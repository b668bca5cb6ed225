// Package config содержит логику чтения конфигурации сервиса витрины.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса витрины.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	RedisAddress       string        `env:"REDIS_ADDRESS"`
	StockSystemAddress string        `env:"STOCK_SYSTEM_ADDRESS"`
	AuthSecret         string        `env:"AUTH_SECRET"`
	AuthTTL            time.Duration `env:"AUTH_TTL"`

	ShippingFee           float64 `env:"SHIPPING_FEE"`
	FreeShippingThreshold float64 `env:"FREE_SHIPPING_THRESHOLD"`
	TaxRate               float64 `env:"TAX_RATE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения переменных окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envStockAddress := cfg.StockSystemAddress
	envAuthSecret := cfg.AuthSecret
	envAuthTTL := cfg.AuthTTL
	envShippingFee := cfg.ShippingFee
	envThreshold := cfg.FreeShippingThreshold
	envTaxRate := cfg.TaxRate

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for session storage")
	flag.StringVar(&cfg.StockSystemAddress, "i", "", "inventory stock system address")
	flag.StringVar(&cfg.AuthSecret, "s", "storefront-secret", "secret key for session tokens")
	flag.DurationVar(&cfg.AuthTTL, "t", 24*time.Hour, "session token lifetime")
	flag.Float64Var(&cfg.ShippingFee, "shipping-fee", 10.00, "flat shipping fee")
	flag.Float64Var(&cfg.FreeShippingThreshold, "free-shipping-threshold", 100.00, "subtotal at which shipping becomes free")
	flag.Float64Var(&cfg.TaxRate, "tax-rate", 0.08, "tax rate applied to the subtotal")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envStockAddress != "" {
		cfg.StockSystemAddress = envStockAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envAuthTTL != 0 {
		cfg.AuthTTL = envAuthTTL
	}
	if envShippingFee != 0 {
		cfg.ShippingFee = envShippingFee
	}
	if envThreshold != 0 {
		cfg.FreeShippingThreshold = envThreshold
	}
	if envTaxRate != 0 {
		cfg.TaxRate = envTaxRate
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
