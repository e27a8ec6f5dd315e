// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat relay.
package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/langheinrich/Cherax-EE-Chat/internal/relay"
)

// RateLimitConfig defines the parameters for per-socket inbound frame rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST"           envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the server configuration settings including security controls
// and session lifecycle tuning.
type Config struct {
	Port            string        `env:"PORT"             envDefault:"3000"`
	Env             string        `env:"ENV"              envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS"  envDefault:"*" envSeparator:","`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimit       RateLimitConfig

	CleanupDelay           time.Duration `env:"SESSION_CLEANUP_DELAY"    envDefault:"5s"`
	HistoryLimit           int           `env:"SESSION_HISTORY_LIMIT"    envDefault:"100"`
	PollLimit              int           `env:"POLL_BATCH_LIMIT"         envDefault:"50"`
	SuppressDuplicateJoins bool          `env:"SUPPRESS_DUPLICATE_JOINS" envDefault:"true"`
}

func defaultConfig() Config {
	relayDefaults := relay.DefaultConfig()
	return Config{
		Port:            "3000",
		Env:             "development",
		LogLevel:        "info",
		AllowedOrigins:  []string{"*"},
		MaxMessageSize:  4096,
		ShutdownTimeout: 10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		CleanupDelay:           relayDefaults.CleanupDelay,
		HistoryLimit:           relayDefaults.HistoryLimit,
		PollLimit:              relayDefaults.PollLimit,
		SuppressDuplicateJoins: relayDefaults.SuppressDuplicateJoins,
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	cfg.Port = strings.TrimPrefix(strings.TrimSpace(cfg.Port), ":")
	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}

	if cfg.Env == "" {
		cfg.Env = defaults.Env
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil || cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	if cfg.CleanupDelay < 0 {
		cfg.CleanupDelay = defaults.CleanupDelay
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}

	if cfg.PollLimit <= 0 {
		cfg.PollLimit = defaults.PollLimit
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = defaults.AllowedOrigins
	}
	cfg.AllowedOrigins = origins
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, reading a
// .env file first when one exists. Values that cannot be parsed are an
// error; parsed values out of range fall back to defaults.
func NewConfigFromEnv() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	sanitized := sanitizeConfig(cfg)
	return &sanitized, nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Level returns the configured log level.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// RelayConfig extracts the session lifecycle settings.
func (c Config) RelayConfig() relay.Config {
	return relay.Config{
		HistoryLimit:           c.HistoryLimit,
		PollLimit:              c.PollLimit,
		CleanupDelay:           c.CleanupDelay,
		SuppressDuplicateJoins: c.SuppressDuplicateJoins,
	}
}
