// Package server provides configuration loading that layers defaults, an
// optional TOML file, and environment overrides, with validation on the
// final result.
package server

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces every environment override, e.g. RELAY_LISTEN_ADDR.
const envPrefix = "relay"

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `validate:"min=1"`
	RefillInterval time.Duration `validate:"min=1000000"`
}

// Config holds the relay server configuration. Precedence, lowest to highest:
// built-in defaults, TOML file, RELAY_* environment variables.
type Config struct {
	// ListenAddr is the TCP address of the line-protocol listener.
	ListenAddr string `validate:"required"`
	// HTTPAddr serves the health endpoint and the WebSocket gateway.
	HTTPAddr string `validate:"required"`
	// MaxConnections bounds concurrent sessions across both transports.
	// Connections beyond the limit are refused at accept time.
	MaxConnections int `validate:"min=1"`
	// SendBuffer is the per-session outbound queue size. Once full, further
	// messages to that session are dropped.
	SendBuffer int `validate:"min=1"`
	// ShutdownGrace bounds how long shutdown waits for workers to finish.
	ShutdownGrace time.Duration `validate:"min=1000000"`
	// AllowedOrigins restricts WebSocket upgrades; "*" allows any origin.
	AllowedOrigins []string
	LogLevel       string `validate:"oneof=trace debug info warn error"`
	RateLimit      RateLimitConfig
}

// fileConfig maps config.toml keys onto Config fields. Durations are plain
// seconds so the file stays readable.
type fileConfig struct {
	ListenAddr             string   `toml:"listen_addr"`
	HTTPAddr               string   `toml:"http_addr"`
	MaxConnections         int      `toml:"max_connections"`
	SendBuffer             int      `toml:"send_buffer"`
	ShutdownGraceSeconds   int      `toml:"shutdown_grace_seconds"`
	AllowedOrigins         []string `toml:"allowed_origins"`
	LogLevel               string   `toml:"log_level"`
	RateLimitBurst         int      `toml:"rate_limit_burst"`
	RateLimitRefillSeconds int      `toml:"rate_limit_refill_seconds"`
}

// envOverrides holds the RELAY_* environment variables. Only variables that
// are actually set override the layered config.
type envOverrides struct {
	ListenAddr      string        `envconfig:"LISTEN_ADDR"`
	HTTPAddr        string        `envconfig:"HTTP_ADDR"`
	MaxConnections  int           `envconfig:"MAX_CONNECTIONS"`
	SendBuffer      int           `envconfig:"SEND_BUFFER"`
	ShutdownGrace   time.Duration `envconfig:"SHUTDOWN_GRACE"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS"`
	LogLevel        string        `envconfig:"LOG_LEVEL"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST"`
	RateLimitRefill time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL"`
}

// DefaultConfig returns the built-in defaults: port 8888 for the line
// protocol, 50 concurrent sessions.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8888",
		HTTPAddr:       ":8080",
		MaxConnections: 50,
		SendBuffer:     64,
		ShutdownGrace:  5 * time.Second,
		AllowedOrigins: []string{"http://localhost:8080"},
		LogLevel:       "info",
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// LoadConfig builds the effective configuration. path may be empty to skip
// the file layer. The result is validated before being returned.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants and returns the first
// violation found.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = raw.ListenAddr
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = raw.HTTPAddr
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("send_buffer") {
		cfg.SendBuffer = raw.SendBuffer
	}
	if meta.IsDefined("shutdown_grace_seconds") {
		cfg.ShutdownGrace = time.Duration(raw.ShutdownGraceSeconds) * time.Second
	}
	if meta.IsDefined("allowed_origins") {
		cfg.AllowedOrigins = raw.AllowedOrigins
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = raw.LogLevel
	}
	if meta.IsDefined("rate_limit_burst") {
		cfg.RateLimit.Burst = raw.RateLimitBurst
	}
	if meta.IsDefined("rate_limit_refill_seconds") {
		cfg.RateLimit.RefillInterval = time.Duration(raw.RateLimitRefillSeconds) * time.Second
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("config env overrides failed: %w", err)
	}

	if env.ListenAddr != "" {
		cfg.ListenAddr = env.ListenAddr
	}
	if env.HTTPAddr != "" {
		cfg.HTTPAddr = env.HTTPAddr
	}
	if env.MaxConnections > 0 {
		cfg.MaxConnections = env.MaxConnections
	}
	if env.SendBuffer > 0 {
		cfg.SendBuffer = env.SendBuffer
	}
	if env.ShutdownGrace > 0 {
		cfg.ShutdownGrace = env.ShutdownGrace
	}
	if len(env.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = env.AllowedOrigins
	}
	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}
	if env.RateLimitBurst > 0 {
		cfg.RateLimit.Burst = env.RateLimitBurst
	}
	if env.RateLimitRefill > 0 {
		cfg.RateLimit.RefillInterval = env.RateLimitRefill
	}
	return nil
}
