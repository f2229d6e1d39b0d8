// Package config loads service configuration from a YAML file layered with
// environment variable overrides. The isolation mode is read once here and is
// immutable for the process lifetime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envConfigPath = "CRMGATE_CONFIG"

// Duration wraps time.Duration with YAML string parsing ("15m", "336h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Env  string `yaml:"env"`
	HTTP struct {
		Addr         string `yaml:"addr"`
		MaxBodyBytes int64  `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Database struct {
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"database"`
	Auth struct {
		Secret     string   `yaml:"secret"`
		Issuer     string   `yaml:"issuer"`
		AccessTTL  Duration `yaml:"access_ttl"`
		RefreshTTL Duration `yaml:"refresh_ttl"`
	} `yaml:"auth"`
	Tenancy struct {
		// IsolationMode is one of "schema", "field" or "none".
		IsolationMode string `yaml:"isolation_mode"`
	} `yaml:"tenancy"`
	RateLimit struct {
		PerSecond int `yaml:"per_second"`
		Burst     int `yaml:"burst"`
	} `yaml:"rate_limit"`
	Audit struct {
		Buffer int `yaml:"buffer"`
	} `yaml:"audit"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	var cfg Config
	cfg.Env = "development"
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.MaxBodyBytes = 1 << 20
	cfg.Database.MaxOpenConns = 50
	cfg.Database.MaxIdleConns = 25
	cfg.Auth.Issuer = "crmgate"
	cfg.Auth.AccessTTL = Duration(15 * time.Minute)
	cfg.Auth.RefreshTTL = Duration(14 * 24 * time.Hour)
	cfg.Tenancy.IsolationMode = "field"
	cfg.RateLimit.PerSecond = 50
	cfg.RateLimit.Burst = 100
	cfg.Audit.Buffer = 256
	return cfg
}

// Load reads configuration in order: defaults, YAML file (explicit path,
// CRMGATE_CONFIG env, ./config.yaml), environment overrides, validation.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := discoverFile(configPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func discoverFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(envConfigPath); env != "" {
		return env
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CRMGATE_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("CRMGATE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("CRMGATE_PG_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CRMGATE_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("CRMGATE_ISOLATION_MODE"); v != "" {
		cfg.Tenancy.IsolationMode = v
	}
	if v := os.Getenv("CRMGATE_ACCESS_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Auth.AccessTTL = Duration(parsed)
		}
	}
	if v := os.Getenv("CRMGATE_REFRESH_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Auth.RefreshTTL = Duration(parsed)
		}
	}
	if v := os.Getenv("CRMGATE_RATE_LIMIT_PER_SECOND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.PerSecond = n
		}
	}
}

// Validate rejects configurations the process cannot safely start with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Tenancy.IsolationMode)) {
	case "schema", "field", "none":
	default:
		return fmt.Errorf("tenancy.isolation_mode must be schema, field or none, got %q", c.Tenancy.IsolationMode)
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("auth token TTLs must be positive")
	}
	return nil
}

// Production reports whether the service runs in production mode. Error
// responses omit internal detail when it does.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}
