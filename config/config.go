/*
Package config loads server configuration from TOML and environment.

PURPOSE:
  One place for every tunable: HTTP port, sqlite path, the rate config
  file, cache backend, rate limits and logging. Files are optional -
  every key has a default so the server starts bare.

PRIORITY (highest to lowest):
  1. Environment variables with GODOWN_ prefix (e.g. GODOWN_SERVER_PORT)
  2. config.toml in the working directory
  3. Built-in defaults
*/
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Rates     RatesConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int
	ShutdownTimeout int // seconds
	AllowedOrigins  []string
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// RatesConfig points at the crop rate JSON file.
type RatesConfig struct {
	File string
}

// CacheConfig selects the view-cache backend.
type CacheConfig struct {
	Backend  string // "memory" or "redis"
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig throttles the payment endpoints per caller.
type RateLimitConfig struct {
	SinglePerMinute int // single-payment endpoints
	BulkPerMinute   int // bulk payment and outflow endpoints
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Load reads config.toml plus GODOWN_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/godown")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	v.SetEnvPrefix("GODOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ShutdownTimeout: v.GetInt("server.shutdown_timeout"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Rates: RatesConfig{
			File: v.GetString("rates.file"),
		},
		Cache: CacheConfig{
			Backend:  v.GetString("cache.backend"),
			Addr:     v.GetString("cache.addr"),
			Password: v.GetString("cache.password"),
			DB:       v.GetInt("cache.db"),
		},
		RateLimit: RateLimitConfig{
			SinglePerMinute: v.GetInt("ratelimit.single_per_minute"),
			BulkPerMinute:   v.GetInt("ratelimit.bulk_per_minute"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("database.path", "godown.db")
	v.SetDefault("rates.file", "rates.json")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("ratelimit.single_per_minute", 20)
	v.SetDefault("ratelimit.bulk_per_minute", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be \"memory\" or \"redis\", got %q", c.Cache.Backend)
	}
	if c.RateLimit.SinglePerMinute < 1 || c.RateLimit.BulkPerMinute < 1 {
		return fmt.Errorf("rate limits must be at least 1 per minute")
	}
	return nil
}
