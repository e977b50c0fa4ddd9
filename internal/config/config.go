package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

// Config holds all configuration for the cart daemon.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPPort int `env:"CART_HTTP_PORT" envDefault:"8080"`
	GRPCPort int `env:"CART_GRPC_PORT" envDefault:"50051"`

	// Catalog service exposing /products/{id} and /stock/{id}
	CatalogBaseURL string        `env:"CATALOG_BASE_URL" envDefault:"http://localhost:3333"`
	CatalogTimeout time.Duration `env:"CATALOG_TIMEOUT" envDefault:"5s"`

	// Snapshot slot
	SnapshotBackend string        `env:"CART_SNAPSHOT_BACKEND" envDefault:"redis"`
	SnapshotKey     string        `env:"CART_SNAPSHOT_KEY" envDefault:"@RocketShoes:cart"`
	SnapshotTTL     time.Duration `env:"CART_SNAPSHOT_TTL" envDefault:"0s"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	MySQLDSN string `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/rocketshoes?parseTime=true"`

	TracingEnabled bool `env:"TRACING_ENABLED" envDefault:"false"`

	NotificationFeedSize int `env:"NOTIFICATION_FEED_SIZE" envDefault:"50"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("HTTP and gRPC ports must differ: %d", c.HTTPPort)
	}

	u, err := url.Parse(c.CatalogBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid catalog base URL: %q", c.CatalogBaseURL)
	}
	if c.CatalogTimeout <= 0 {
		return fmt.Errorf("catalog timeout must be positive: %s", c.CatalogTimeout)
	}

	switch c.SnapshotBackend {
	case BackendRedis, BackendMySQL, BackendMemory:
	default:
		return fmt.Errorf("unknown snapshot backend: %q", c.SnapshotBackend)
	}
	if c.SnapshotKey == "" {
		return fmt.Errorf("snapshot key must not be empty")
	}
	if c.SnapshotTTL < 0 {
		return fmt.Errorf("snapshot TTL must not be negative: %s", c.SnapshotTTL)
	}

	if c.NotificationFeedSize < 1 {
		return fmt.Errorf("notification feed size must be at least 1: %d", c.NotificationFeedSize)
	}
	return nil
}
