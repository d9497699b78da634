// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Config is the server configuration.
type Config struct {
	Port   string
	DBPath string

	// AllowedOrigins limits browser origins for CORS and WebSocket upgrades.
	// Empty allows any origin.
	AllowedOrigins []string

	LogLevel  string
	LogFile   string
	LogPretty bool

	PingInterval      time.Duration
	PingTimeout       time.Duration
	SweepInterval     time.Duration
	StreamTick        time.Duration
	MaxPingMisses     int
	PingErrorBackoff  time.Duration
	SweepErrorBackoff time.Duration
	SessionShards     int
}

// InactivityTimeout is the idle time after which the sweep evicts a session.
func (c *Config) InactivityTimeout() time.Duration {
	return 2 * c.PingTimeout
}

// Load reads .env, if present, and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file, continuing with process environment")
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8001"),
		DBPath:   getEnv("DB_PATH", "data/sessions.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),

		AllowedOrigins: getList("ALLOWED_ORIGINS"),
	}

	var err error
	if cfg.LogPretty, err = getBool("LOG_PRETTY", false); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = getDuration("PING_INTERVAL", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.PingTimeout, err = getDuration("PING_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StreamTick, err = getDuration("STREAM_TICK", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxPingMisses, err = getInt("MAX_PING_MISSES", 3); err != nil {
		return nil, err
	}
	if cfg.PingErrorBackoff, err = getDuration("PING_ERROR_BACKOFF", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepErrorBackoff, err = getDuration("SWEEP_ERROR_BACKOFF", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionShards, err = getInt("SESSION_SHARDS", 32); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return errors.Newf("PORT must be a TCP port number, got %q", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH must not be empty")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"PING_INTERVAL", c.PingInterval},
		{"PING_TIMEOUT", c.PingTimeout},
		{"SWEEP_INTERVAL", c.SweepInterval},
		{"STREAM_TICK", c.StreamTick},
		{"PING_ERROR_BACKOFF", c.PingErrorBackoff},
		{"SWEEP_ERROR_BACKOFF", c.SweepErrorBackoff},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return errors.Newf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if c.MaxPingMisses < 1 {
		return errors.Newf("MAX_PING_MISSES must be at least 1, got %d", c.MaxPingMisses)
	}
	if c.SessionShards < 1 {
		return errors.Newf("SESSION_SHARDS must be at least 1, got %d", c.SessionShards)
	}
	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getList splits a comma-separated variable, dropping blank entries.
func getList(key string) []string {
	parts := lo.Map(strings.Split(os.Getenv(key), ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	})
	return lo.Compact(parts)
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Wrapf(err, "invalid %s", key)
	}
	return b, nil
}
