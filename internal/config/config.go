// Package config loads server configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the napid server configuration.
type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	DatabasePath   string        `yaml:"database_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	SentryDSN      string        `yaml:"sentry_dsn"`
}

// Load reads configuration from a YAML file (path may be empty) and applies
// environment variable overrides. Environment wins over YAML.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:     ":8080",
		DatabasePath:   "napi.db",
		RequestTimeout: 30 * time.Second,
		RateLimitRPS:   50,
		RateLimitBurst: 100,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("NAPI_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("NAPI_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("NAPI_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = d
		}
	}
	if v := os.Getenv("NAPI_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("NAPI_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
	if v := os.Getenv("NAPI_SENTRY_DSN"); v != "" {
		cfg.SentryDSN = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required (set NAPI_LISTEN_ADDR or yaml)")
	}
	if c.RequestTimeout < time.Second {
		return errors.New("request_timeout must be at least 1 second")
	}
	if c.RateLimitRPS <= 0 {
		return errors.New("rate_limit_rps must be positive")
	}
	if c.RateLimitBurst < 1 {
		return errors.New("rate_limit_burst must be at least 1")
	}
	return nil
}
