// Package config defines runtime defaults for the chat relay and loads
// overrides from a TOML file and the environment.
package config

import (
	"time"
)

// Default values.
const (
	DefaultPort                 = ":8080"
	DefaultOrigin               = "http://localhost:8080"
	DefaultMaxMessageSize       = 64 * 1024
	DefaultRateLimitBurst       = 5
	DefaultRateLimitRefill      = time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultMaxTextLength        = 30
	DefaultSendBufferSize       = 256
	DefaultWriteWait            = 10 * time.Second
	DefaultPongWait             = 60 * time.Second
	DefaultBroadcastConcurrency = 16
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay settings.
type Config struct {
	Port           string
	AllowedOrigins []string
	// MaxMessageSize is the read limit for a single WebSocket frame in bytes.
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	HandshakeTimeout time.Duration
	// MaxTextLength is the longest accepted send_message text, in characters.
	MaxTextLength  int
	SendBufferSize int
	WriteWait      time.Duration
	PongWait       time.Duration
	// PingPeriod must be shorter than PongWait.
	PingPeriod           time.Duration
	BroadcastConcurrency int
	ShutdownTimeout      time.Duration

	LogLevel  string
	LogFormat string
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Port:           DefaultPort,
		AllowedOrigins: []string{DefaultOrigin},
		MaxMessageSize: DefaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          DefaultRateLimitBurst,
			RefillInterval: DefaultRateLimitRefill,
		},
		HandshakeTimeout:     DefaultHandshakeTimeout,
		MaxTextLength:        DefaultMaxTextLength,
		SendBufferSize:       DefaultSendBufferSize,
		WriteWait:            DefaultWriteWait,
		PongWait:             DefaultPongWait,
		PingPeriod:           pingPeriodFor(DefaultPongWait),
		BroadcastConcurrency: DefaultBroadcastConcurrency,
		ShutdownTimeout:      DefaultShutdownTimeout,
		LogLevel:             DefaultLogLevel,
		LogFormat:            DefaultLogFormat,
	}
}

func pingPeriodFor(pongWait time.Duration) time.Duration {
	return pongWait * 9 / 10
}

// Sanitize replaces unusable values with defaults and normalizes origins.
func Sanitize(cfg Config) Config {
	def := Default()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = pingPeriodFor(cfg.PongWait)
	}
	if cfg.BroadcastConcurrency <= 0 {
		cfg.BroadcastConcurrency = def.BroadcastConcurrency
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}
