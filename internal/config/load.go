package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type fileConfig struct {
	Port                 string   `toml:"port"`
	AllowedOrigins       []string `toml:"allowed_origins"`
	MaxMessageSize       int64    `toml:"max_message_size"`
	RateLimitBurst       int      `toml:"rate_limit_burst"`
	RateLimitRefill      string   `toml:"rate_limit_refill_interval"`
	HandshakeTimeout     string   `toml:"handshake_timeout"`
	MaxTextLength        int      `toml:"max_text_length"`
	SendBufferSize       int      `toml:"send_buffer_size"`
	WriteWait            string   `toml:"write_wait"`
	PongWait             string   `toml:"pong_wait"`
	PingPeriod           string   `toml:"ping_period"`
	BroadcastConcurrency int      `toml:"broadcast_concurrency"`
	ShutdownTimeout      string   `toml:"shutdown_timeout"`
	LogLevel             string   `toml:"log_level"`
	LogFormat            string   `toml:"log_format"`
}

// envConfig lists the supported environment variables. Unset variables leave
// the corresponding setting untouched.
type envConfig struct {
	Port                 *string `env:"SERVER_PORT"`
	AllowedOrigins       *string `env:"ALLOWED_ORIGINS"`
	MaxMessageSize       *int64  `env:"MAX_MESSAGE_SIZE"`
	RateLimitBurst       *int    `env:"RATE_LIMIT_BURST"`
	RateLimitRefill      *string `env:"RATE_LIMIT_REFILL_INTERVAL"`
	HandshakeTimeout     *string `env:"HANDSHAKE_TIMEOUT"`
	MaxTextLength        *int    `env:"MAX_TEXT_LENGTH"`
	SendBufferSize       *int    `env:"SEND_BUFFER_SIZE"`
	WriteWait            *string `env:"WRITE_WAIT"`
	PongWait             *string `env:"PONG_WAIT"`
	PingPeriod           *string `env:"PING_PERIOD"`
	BroadcastConcurrency *int    `env:"BROADCAST_CONCURRENCY"`
	ShutdownTimeout      *string `env:"SHUTDOWN_TIMEOUT"`
	LogLevel             *string `env:"LOG_LEVEL"`
	LogFormat            *string `env:"LOG_FORMAT"`
}

// Load builds the effective configuration: defaults, then the TOML file at
// path when path is not empty, then environment variables, then Sanitize.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		var err error
		if cfg, err = applyFile(cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg, err := ApplyEnv(cfg, os.Environ())
	if err != nil {
		return Config{}, err
	}
	return Sanitize(cfg), nil
}

// LoadDotEnv loads variables from the given .env files (".env" when none are
// given) into the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return errors.Wrapf(err, "load env file %s", p)
		}
	}
	return nil
}

func applyFile(cfg Config, path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrapf(err, "decode config file %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("allowed_origins") {
		cfg.AllowedOrigins = raw.AllowedOrigins
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("rate_limit_burst") {
		cfg.RateLimit.Burst = raw.RateLimitBurst
	}
	if meta.IsDefined("max_text_length") {
		cfg.MaxTextLength = raw.MaxTextLength
	}
	if meta.IsDefined("send_buffer_size") {
		cfg.SendBufferSize = raw.SendBufferSize
	}
	if meta.IsDefined("broadcast_concurrency") {
		cfg.BroadcastConcurrency = raw.BroadcastConcurrency
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = raw.LogLevel
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = raw.LogFormat
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"rate_limit_refill_interval", raw.RateLimitRefill, &cfg.RateLimit.RefillInterval},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"write_wait", raw.WriteWait, &cfg.WriteWait},
		{"pong_wait", raw.PongWait, &cfg.PongWait},
		{"ping_period", raw.PingPeriod, &cfg.PingPeriod},
		{"shutdown_timeout", raw.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "config file %s: parse %s", path, d.key)
		}
		*d.dst = v
	}

	return cfg, nil
}

// ApplyEnv overlays the variables found in environ (KEY=value pairs) onto cfg.
func ApplyEnv(cfg Config, environ []string) (Config, error) {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return Config{}, errors.Wrap(err, "read environment")
	}
	var raw envConfig
	if err := env.Unmarshal(es, &raw); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}

	if raw.Port != nil {
		cfg.Port = strings.TrimSpace(*raw.Port)
	}
	if raw.AllowedOrigins != nil {
		cfg.AllowedOrigins = parseOrigins(*raw.AllowedOrigins)
	}
	if raw.MaxMessageSize != nil {
		cfg.MaxMessageSize = *raw.MaxMessageSize
	}
	if raw.RateLimitBurst != nil {
		cfg.RateLimit.Burst = *raw.RateLimitBurst
	}
	if raw.MaxTextLength != nil {
		cfg.MaxTextLength = *raw.MaxTextLength
	}
	if raw.SendBufferSize != nil {
		cfg.SendBufferSize = *raw.SendBufferSize
	}
	if raw.BroadcastConcurrency != nil {
		cfg.BroadcastConcurrency = *raw.BroadcastConcurrency
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}
	if raw.LogFormat != nil {
		cfg.LogFormat = *raw.LogFormat
	}

	durations := []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"RATE_LIMIT_REFILL_INTERVAL", raw.RateLimitRefill, &cfg.RateLimit.RefillInterval},
		{"HANDSHAKE_TIMEOUT", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"WRITE_WAIT", raw.WriteWait, &cfg.WriteWait},
		{"PONG_WAIT", raw.PongWait, &cfg.PongWait},
		{"PING_PERIOD", raw.PingPeriod, &cfg.PingPeriod},
		{"SHUTDOWN_TIMEOUT", raw.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		v, err := parseDuration(*d.raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "parse %s", d.name)
		}
		*d.dst = v
	}

	return cfg, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseDuration accepts Go duration strings and, for compatibility, a bare
// integer number of seconds.
func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(value)
}
