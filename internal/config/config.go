package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the config file when --config is not given.
const EnvConfigFile = "EXTRACTD_CONFIG"

// Config holds application configuration.
type Config struct {
	Port        int            `toml:"port" yaml:"port"`
	DatabaseURL string         `toml:"database_url" yaml:"database_url"`
	DBPath      string         `toml:"db_path" yaml:"db_path"`
	Auth        AuthConfig     `toml:"auth" yaml:"auth"`
	Log         LogConfig      `toml:"log" yaml:"log"`
	Postgres    PostgresConfig `toml:"postgres" yaml:"postgres"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Disabled bool   `toml:"disabled" yaml:"disabled"`
	Domain   string `toml:"domain" yaml:"domain"`
	Audience string `toml:"audience" yaml:"audience"`
	JWKSURL  string `toml:"jwks_url" yaml:"jwks_url"`
	Issuer   string `toml:"issuer" yaml:"issuer"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// PostgresConfig tunes the connection pool used when DatabaseURL points
// at PostgreSQL.
type PostgresConfig struct {
	MaxConns        int32         `toml:"max_conns" yaml:"max_conns"`
	MinConns        int32         `toml:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `toml:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `toml:"max_conn_idle_time" yaml:"max_conn_idle_time"`
	DialTimeout     time.Duration `toml:"dial_timeout" yaml:"dial_timeout"`
}

// DefaultDBPath is the SQLite file used when nothing else is configured.
const DefaultDBPath = "extraction_jobs.db"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:   8000,
		DBPath: DefaultDBPath,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Postgres: PostgresConfig{
			MaxConns:        4,
			MinConns:        0,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     5 * time.Second,
		},
	}
}

// Load builds Config from defaults, the optional config file and the
// environment, in that order. An empty path falls back to EXTRACTD_CONFIG.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = p
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.DatabaseURL = url
	}
	if db := os.Getenv("DB_PATH"); db != "" {
		c.DBPath = db
	}
	if v := os.Getenv("AUTH_DISABLED"); v != "" {
		c.Auth.Disabled = truthy(v)
	}
	if v := os.Getenv("AUTH0_DOMAIN"); v != "" {
		c.Auth.Domain = v
	}
	if v := os.Getenv("AUTH0_AUDIENCE"); v != "" {
		c.Auth.Audience = v
	}
	if v := os.Getenv("AUTH_JWKS_URL"); v != "" {
		c.Auth.JWKSURL = v
	}
	if v := os.Getenv("AUTH_ISSUER"); v != "" {
		c.Auth.Issuer = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// UsePostgres reports whether DatabaseURL selects the Postgres store.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") ||
		strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// SQLitePath returns the database file for the SQLite store. A
// sqlite:/// DatabaseURL takes precedence over DBPath.
func (c *Config) SQLitePath() string {
	if p, ok := strings.CutPrefix(c.DatabaseURL, "sqlite:///"); ok && p != "" {
		return p
	}
	return c.DBPath
}

// JWKSURL returns the key set location, derived from the domain unless
// set explicitly.
func (c *Config) JWKSURL() string {
	if c.Auth.JWKSURL != "" {
		return c.Auth.JWKSURL
	}
	return "https://" + c.Auth.Domain + "/.well-known/jwks.json"
}

// Issuer returns the expected token issuer.
func (c *Config) Issuer() string {
	if c.Auth.Issuer != "" {
		return c.Auth.Issuer
	}
	return "https://" + c.Auth.Domain + "/"
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if !c.Auth.Disabled {
		if c.Auth.Domain == "" && (c.Auth.JWKSURL == "" || c.Auth.Issuer == "") {
			errs = append(errs, errors.New("auth enabled but AUTH0_DOMAIN is not set"))
		}
		if c.Auth.Audience == "" {
			errs = append(errs, errors.New("auth enabled but AUTH0_AUDIENCE is not set"))
		}
	}
	if c.DatabaseURL != "" && !c.UsePostgres() && !strings.HasPrefix(c.DatabaseURL, "sqlite:///") {
		errs = append(errs, errors.New("DATABASE_URL must be a postgres://, postgresql:// or sqlite:/// URL"))
	}
	return errors.Join(errs...)
}
