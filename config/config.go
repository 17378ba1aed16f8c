// Package config loads the server configuration.
//
// A configuration is read from a YAML file, then overridden by the
// DYNACRUD_* environment variables:
//
//	listen: ":8080"
//	database:
//	  dialect: postgres
//	  dsn: postgres://localhost/app?sslmode=disable
//	  migrate: true
//	cache:
//	  ttl: 5m
//	models:
//	  - name: Task
//	    fields:
//	      - {name: title, type: string, required: true}
//
// When no model is declared the built-in User, Project, Task and
// TaskComment models are served.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/dialect"
	"github.com/syssam/dynacrud/schema"
)

// Environment variables overriding the file.
const (
	EnvListen   = "DYNACRUD_LISTEN"
	EnvDialect  = "DYNACRUD_DIALECT"
	EnvDSN      = "DYNACRUD_DSN"
	EnvLogLevel = "DYNACRUD_LOG_LEVEL"
)

// Memory selects the in-process backend.
const Memory = "memory"

//go:embed default.yaml
var defaultModels []byte

type (
	// Config is the server configuration.
	Config struct {
		Listen       string          `yaml:"listen"`
		Database     Database        `yaml:"database"`
		Cache        Cache           `yaml:"cache"`
		Bulk         Bulk            `yaml:"bulk"`
		Pagination   Pagination      `yaml:"pagination"`
		Log          Log             `yaml:"log"`
		CallerHeader string          `yaml:"caller_header"`
		Models       []*schema.Model `yaml:"models"`
	}

	// Database selects and tunes the storage backend.
	Database struct {
		// Dialect is memory, sqlite, mysql or postgres.
		Dialect string `yaml:"dialect"`
		// Driver is the database/sql driver name. It defaults to the
		// dialect, except for postgres which defaults to pgx.
		Driver             string   `yaml:"driver"`
		DSN                string   `yaml:"dsn"`
		Migrate            bool     `yaml:"migrate"`
		SlowQueryThreshold Duration `yaml:"slow_query_threshold"`
		Debug              bool     `yaml:"debug"`
		Pool               Pool     `yaml:"pool"`
	}

	// Pool sizes the database connection pool. Zero keeps the driver default.
	Pool struct {
		MaxOpenConns    int      `yaml:"max_open_conns"`
		MaxIdleConns    int      `yaml:"max_idle_conns"`
		ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
		ConnMaxIdleTime Duration `yaml:"conn_max_idle_time"`
	}

	// Cache configures the result cache.
	Cache struct {
		Disabled bool     `yaml:"disabled"`
		TTL      Duration `yaml:"ttl"`
	}

	// Bulk configures the per-item fallbacks of bulk operations.
	Bulk struct {
		Concurrency int `yaml:"concurrency"`
	}

	// Pagination bounds the page size of findManyPaginated.
	Pagination struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	}

	// Log configures the server logger.
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
)

// Duration is a time.Duration read from strings like "250ms" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:       ":8080",
		Database:     Database{Dialect: Memory, SlowQueryThreshold: Duration(200 * time.Millisecond)},
		Cache:        Cache{TTL: Duration(dynacrud.DefaultCacheTTL)},
		Bulk:         Bulk{Concurrency: 8},
		Pagination:   Pagination{DefaultLimit: 10, MaxLimit: 100},
		Log:          Log{Level: "info", Format: "text"},
		CallerHeader: "X-User-Id",
	}
}

// Load reads the configuration file at path and applies the environment
// overrides. An empty path loads the defaults. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if len(cfg.Models) == 0 {
		models, err := DefaultModels()
		if err != nil {
			return nil, err
		}
		cfg.Models = models
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultModels returns the built-in model declarations.
func DefaultModels() ([]*schema.Model, error) {
	var doc struct {
		Models []*schema.Model `yaml:"models"`
	}
	if err := yaml.Unmarshal(defaultModels, &doc); err != nil {
		return nil, fmt.Errorf("config: default models: %w", err)
	}
	return doc.Models, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup(EnvDialect); ok && v != "" {
		c.Database.Dialect = v
	}
	if v, ok := lookup(EnvDSN); ok && v != "" {
		c.Database.DSN = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate reports every problem of the configuration as one
// dynacrud.AggregateError.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("config: listen address is required"))
	}
	switch d := c.Database.Dialect; {
	case d == Memory:
	case dialect.Supported(d):
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("config: database.dsn is required for dialect %q", d))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown database.dialect %q", d))
	}
	if c.Database.SlowQueryThreshold < 0 {
		errs = append(errs, fmt.Errorf("config: database.slow_query_threshold must not be negative"))
	}
	if p := c.Database.Pool; p.MaxOpenConns < 0 || p.MaxIdleConns < 0 || p.ConnMaxLifetime < 0 || p.ConnMaxIdleTime < 0 {
		errs = append(errs, fmt.Errorf("config: database.pool settings must not be negative"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("config: cache.ttl must not be negative"))
	}
	if c.Bulk.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("config: bulk.concurrency must be at least 1"))
	}
	if c.Pagination.DefaultLimit < 1 || c.Pagination.MaxLimit < c.Pagination.DefaultLimit {
		errs = append(errs, fmt.Errorf("config: pagination requires 1 <= default_limit <= max_limit"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log.format %q", c.Log.Format))
	}
	errs = append(errs, schema.ValidateModels(c.Models)...)
	return dynacrud.NewAggregateError(errs...)
}

// DriverName returns the database/sql driver of the configured dialect.
func (d Database) DriverName() string {
	switch {
	case d.Driver != "":
		return d.Driver
	case d.Dialect == dialect.Postgres:
		return "pgx"
	default:
		return d.Dialect
	}
}

// SlogLevel parses the level name.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("config: unknown log.level %q", l.Level)
	}
	return level, nil
}
