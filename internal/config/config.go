// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/stresstrack/internal/domain/scoring"
)

// Store backends.
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Deduper backends.
const (
	DedupeMemory = "memory"
	DedupeRedis  = "redis"
	DedupeNone   = "none"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is json or console.
	LogFormat string `koanf:"log_format"`

	// Port is the HTTP listen port.
	Port int `koanf:"port"`

	// Store selects the behavior store backend: mongo or memory.
	Store           string `koanf:"store"`
	MongoURI        string `koanf:"mongo_uri"`
	MongoDatabase   string `koanf:"mongo_database"`
	MongoCollection string `koanf:"mongo_collection"`
	MongoTimeoutMS  int    `koanf:"mongo_timeout_ms"`

	// MovementCap keeps only the newest N mouse samples per document; 0 keeps all.
	MovementCap int `koanf:"movement_cap"`

	// DedupeBackend selects batch-id tracking: memory, redis or none.
	DedupeBackend string `koanf:"dedupe_backend"`
	DedupeSize    int    `koanf:"dedupe_size"`
	DedupeTTLS    int    `koanf:"dedupe_ttl_s"`
	RedisAddr     string `koanf:"redis_addr"`

	// RateLimitRPS is the sustained per-client request rate; 0 disables limiting.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	MaxBodyBytes     int64 `koanf:"max_body_bytes"`
	ShutdownTimeoutS int   `koanf:"shutdown_timeout_s"`

	WeightScrollSpeed    float64 `koanf:"weight_scroll_speed"`
	WeightClicks         float64 `koanf:"weight_clicks"`
	WeightMovementSpread float64 `koanf:"weight_movement_spread"`
	WeightTimeSpent      float64 `koanf:"weight_time_spent"`
}

// New creates a Config populated with defaults.
func New() *Config {
	w := scoring.DefaultWeights()
	return &Config{
		LogLevel:             "info",
		LogFormat:            "json",
		Port:                 3000,
		Store:                StoreMongo,
		MongoURI:             "mongodb://localhost:27017",
		MongoDatabase:        "stresstrack",
		MongoCollection:      "behaviors",
		MongoTimeoutMS:       5000,
		MovementCap:          5000,
		DedupeBackend:        DedupeMemory,
		DedupeSize:           100_000,
		DedupeTTLS:           86400,
		RedisAddr:            "localhost:6379",
		RateLimitRPS:         0,
		RateLimitBurst:       20,
		MaxBodyBytes:         5 << 20,
		ShutdownTimeoutS:     15,
		WeightScrollSpeed:    w.ScrollSpeed,
		WeightClicks:         w.Clicks,
		WeightMovementSpread: w.MovementSpread,
		WeightTimeSpent:      w.TimeSpent,
	}
}

// Addr returns the listen address for Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MongoTimeout returns the per-operation MongoDB timeout.
func (c *Config) MongoTimeout() time.Duration {
	return time.Duration(c.MongoTimeoutMS) * time.Millisecond
}

// DedupeTTL returns how long batch ids are remembered.
func (c *Config) DedupeTTL() time.Duration {
	return time.Duration(c.DedupeTTLS) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Weights returns the stress formula weights.
func (c *Config) Weights() scoring.Weights {
	return scoring.Weights{
		ScrollSpeed:    c.WeightScrollSpeed,
		Clicks:         c.WeightClicks,
		MovementSpread: c.WeightMovementSpread,
		TimeSpent:      c.WeightTimeSpent,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.DedupeBackend = strings.ToLower(strings.TrimSpace(c.DedupeBackend))

	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.Store != StoreMongo && c.Store != StoreMemory:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	case c.Store == StoreMongo && c.MongoURI == "":
		return fmt.Errorf("%w: mongo_uri must not be empty", ErrInvalidConfig)
	case c.DedupeBackend != DedupeMemory && c.DedupeBackend != DedupeRedis && c.DedupeBackend != DedupeNone:
		return fmt.Errorf("%w: unknown dedupe backend %q", ErrInvalidConfig, c.DedupeBackend)
	case c.DedupeBackend == DedupeRedis && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr must not be empty", ErrInvalidConfig)
	case c.MovementCap < 0:
		return fmt.Errorf("%w: movement_cap must not be negative", ErrInvalidConfig)
	case c.RateLimitRPS < 0:
		return fmt.Errorf("%w: rate_limit_rps must not be negative", ErrInvalidConfig)
	case c.RateLimitRPS > 0 && c.RateLimitBurst <= 0:
		return fmt.Errorf("%w: rate_limit_burst must be positive", ErrInvalidConfig)
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: max_body_bytes must be positive", ErrInvalidConfig)
	case c.WeightScrollSpeed < 0 || c.WeightClicks < 0 || c.WeightMovementSpread < 0 || c.WeightTimeSpent < 0:
		return fmt.Errorf("%w: weights must not be negative", ErrInvalidConfig)
	}
	return nil
}
