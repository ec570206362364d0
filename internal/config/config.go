// Package config loads the server configuration from RPS_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend names
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config is the process configuration for cmd/server
type Config struct {
	HTTPHost string `env:"RPS_HTTP_HOST"`
	HTTPPort int    `env:"RPS_HTTP_PORT" envDefault:"8080"`

	StorageType string `env:"RPS_STORAGE_TYPE" envDefault:"memory"`
	RedisURL    string `env:"RPS_REDIS_URL"`
	SQLitePath  string `env:"RPS_SQLITE_PATH" envDefault:"rpsleague.db"`

	BusType     string `env:"RPS_BUS_TYPE" envDefault:"memory"`
	BusConsumer string `env:"RPS_BUS_CONSUMER" envDefault:"rps-1"`

	// OutboxInterval is how often unpublished notifications are retried
	OutboxInterval time.Duration `env:"RPS_OUTBOX_INTERVAL" envDefault:"1s"`

	LogLevel string `env:"RPS_LOG_LEVEL" envDefault:"info"`

	// OTelEndpoint is an OTLP/HTTP collector URL. Tracing is disabled when empty.
	OTelEndpoint string `env:"RPS_OTEL_ENDPOINT"`

	ShutdownTimeout time.Duration `env:"RPS_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load parses the environment and validates the result
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend selections and their required settings
func (c Config) Validate() error {
	switch c.StorageType {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("RPS_REDIS_URL required when RPS_STORAGE_TYPE=%s", BackendRedis)
		}
	default:
		return fmt.Errorf("invalid RPS_STORAGE_TYPE %q: must be memory, redis or sqlite", c.StorageType)
	}

	switch c.BusType {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("RPS_REDIS_URL required when RPS_BUS_TYPE=%s", BackendRedis)
		}
	default:
		return fmt.Errorf("invalid RPS_BUS_TYPE %q: must be memory or redis", c.BusType)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel converts LogLevel to a slog.Level
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid RPS_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}
