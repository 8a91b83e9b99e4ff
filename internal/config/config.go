// Package config loads realmd settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath   string `yaml:"db_path"`
	APIPort  int    `yaml:"api_port"`
	AdminKey string `yaml:"admin_key"`
	LogLevel string `yaml:"log_level"`

	TickInterval time.Duration `yaml:"tick_interval"`
	MaxCatchup   time.Duration `yaml:"max_catchup"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	DueBatch     int           `yaml:"due_batch"`

	SnapshotSchedule string `yaml:"snapshot_schedule"`
	AuditDir         string `yaml:"audit_dir"`
	WorldSeed        int64  `yaml:"world_seed"`

	RateLimit RateLimit `yaml:"rate_limit"`
}

// RateLimit bounds public API requests per client IP.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// X-Forwarded-For is honored only from these CIDRs or addresses.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		DBPath:           "data/realm.db",
		APIPort:          8080,
		LogLevel:         "info",
		TickInterval:     60 * time.Second,
		MaxCatchup:       7 * 24 * time.Hour,
		StopTimeout:      5 * time.Second,
		DueBatch:         500,
		SnapshotSchedule: "@daily",
		AuditDir:         "data/audit",
		WorldSeed:        42,
		RateLimit:        RateLimit{RPS: 5, Burst: 10},
	}
}

// Load reads path over the defaults (an empty path skips the file), applies
// REALM_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, env func(string) (string, bool)) (Config, error) {
	c := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return c, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := c.applyEnv(env); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	if v, ok := env("REALM_DB_PATH"); ok {
		c.DBPath = v
	}
	if v, ok := env("REALM_ADMIN_KEY"); ok {
		c.AdminKey = v
	}
	if v, ok := env("REALM_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := env("REALM_API_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REALM_API_PORT: %w", err)
		}
		c.APIPort = port
	}
	if v, ok := env("REALM_TICK_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REALM_TICK_INTERVAL: %w", err)
		}
		c.TickInterval = d
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("api_port %d out of range", c.APIPort))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.TickInterval < time.Second {
		errs = append(errs, fmt.Errorf("tick_interval %s is below 1s", c.TickInterval))
	}
	if c.MaxCatchup <= 0 {
		errs = append(errs, fmt.Errorf("max_catchup must be positive"))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must be positive"))
	}
	if c.DueBatch <= 0 {
		errs = append(errs, fmt.Errorf("due_batch must be positive"))
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit needs positive rps and burst"))
	}
	return errors.Join(errs...)
}

// Level maps log_level to a slog level.
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q", c.LogLevel)
}
