package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/report"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

// DefaultPath is read when no --config flag or REPLICA_CONFIG is given.
const DefaultPath = "replica.yaml"

// Config holds all configuration for a replica run.
// Configuration comes from a YAML file (replica.yaml) with environment variable
// overrides. Secrets (passwords) must only come from environment variables.
type Config struct {
	Threads      int    `yaml:"threads" env:"REPLICA_THREADS" env-default:"4"`
	MaxDatabases int    `yaml:"max_databases" env:"REPLICA_MAX_DATABASES" env-default:"2000"`
	MaxRows      int    `yaml:"max_rows" env:"REPLICA_MAX_ROWS" env-default:"1000000"`
	LogLevel     string `yaml:"log_level" env:"REPLICA_LOG_LEVEL" env-default:"info"`
	LogFormat    string `yaml:"log_format" env:"REPLICA_LOG_FORMAT" env-default:"console"`

	Source SourceConfig `yaml:"source"`
	Target TargetConfig `yaml:"target"`

	// Connection pool settings shared by source and target adapters.
	Connections ConnectionsConfig `yaml:"connections"`

	Report ReportConfig `yaml:"report"`
}

// SourceConfig selects the warehouse to sample and how.
type SourceConfig struct {
	Adapter string `yaml:"adapter" env:"REPLICA_SOURCE_ADAPTER"`
	// Connection is passed verbatim to the adapter factory.
	Connection map[string]any `yaml:"connection"`
	Password   string         `yaml:"-" env:"REPLICA_SOURCE_PASSWORD"` // Secret - not in YAML

	SampleMethod string  `yaml:"sample_method" env:"REPLICA_SAMPLE_METHOD" env-default:"bernoulli"`
	Probability  float64 `yaml:"probability" env:"REPLICA_SAMPLE_PROBABILITY" env-default:"0.01"`
	Rows         int64   `yaml:"rows" env:"REPLICA_SAMPLE_ROWS"`

	Include []models.Pattern `yaml:"include"`
	Exclude []models.Pattern `yaml:"exclude"`
}

// TargetConfig selects where samples are loaded. Analyze runs never open it.
type TargetConfig struct {
	Adapter    string         `yaml:"adapter" env:"REPLICA_TARGET_ADAPTER"`
	Connection map[string]any `yaml:"connection"`
	Password   string         `yaml:"-" env:"REPLICA_TARGET_PASSWORD"` // Secret - not in YAML
}

// ConnectionsConfig holds connection pool settings.
type ConnectionsConfig struct {
	// TTLMinutes is how long idle pools are kept alive.
	TTLMinutes   int   `yaml:"ttl_minutes" env:"REPLICA_CONNECTION_TTL_MINUTES" env-default:"5"`
	MaxPools     int   `yaml:"max_pools" env:"REPLICA_MAX_POOLS" env-default:"16"`
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"REPLICA_POOL_MAX_CONNS" env-default:"4"`
}

// ReportConfig controls the end-of-run report.
type ReportConfig struct {
	Format  string        `yaml:"format" env:"REPLICA_REPORT_FORMAT" env-default:"text"`
	Datadog DatadogConfig `yaml:"datadog"`
}

// DatadogConfig enables metric submission. API keys are read by the Datadog client
// from DD_API_KEY and DD_APP_KEY.
type DatadogConfig struct {
	Enabled bool   `yaml:"enabled" env:"REPLICA_DATADOG_ENABLED" env-default:"false"`
	Site    string `yaml:"site" env:"DD_SITE"`
	JobName string `yaml:"job_name" env:"REPLICA_DATADOG_JOB" env-default:"replica"`
	// Tags is a comma-separated list such as "team:data,env:prod".
	Tags string `yaml:"tags" env:"REPLICA_DATADOG_TAGS"`
}

// AdapterRegistry is the part of the adapter registry validation needs.
type AdapterRegistry interface {
	IsSourceRegistered(kind string) bool
	IsTargetRegistered(kind string) bool
}

// Load reads path with environment variable overrides and validates the result
// against registry. A missing file at DefaultPath falls back to the environment
// alone; any other missing path is an error.
func Load(path string, registry AdapterRegistry) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		path = DefaultPath
	}

	if _, statErr := os.Stat(path); statErr != nil && errors.Is(statErr, os.ErrNotExist) && path == DefaultPath {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applySecrets()

	if err := cfg.Validate(registry); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applySecrets copies env-only passwords into the adapter connection maps.
func (c *Config) applySecrets() {
	if c.Source.Password != "" {
		if c.Source.Connection == nil {
			c.Source.Connection = make(map[string]any)
		}
		c.Source.Connection["password"] = c.Source.Password
	}
	if c.Target.Password != "" {
		if c.Target.Connection == nil {
			c.Target.Connection = make(map[string]any)
		}
		c.Target.Connection["password"] = c.Target.Password
	}
}

// Validate checks everything that can be checked without connecting. A nil
// registry skips the adapter checks.
func (c *Config) Validate(registry AdapterRegistry) error {
	if c.Threads <= 0 {
		return fmt.Errorf("threads must be positive, got %d", c.Threads)
	}
	if c.MaxDatabases <= 0 {
		return fmt.Errorf("max_databases must be positive, got %d", c.MaxDatabases)
	}
	if c.MaxRows <= 0 {
		return fmt.Errorf("max_rows must be positive, got %d", c.MaxRows)
	}

	if c.Source.Adapter == "" {
		return fmt.Errorf("source.adapter is required")
	}
	if registry != nil {
		if !registry.IsSourceRegistered(c.Source.Adapter) {
			return &apperrors.UnknownAdapterError{Role: "source", Name: c.Source.Adapter}
		}
		if c.Target.Adapter != "" && !registry.IsTargetRegistered(c.Target.Adapter) {
			return &apperrors.UnknownAdapterError{Role: "target", Name: c.Target.Adapter}
		}
	}

	if _, err := c.SampleMethod(); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	if len(c.Source.Include) == 0 {
		return fmt.Errorf("source.include needs at least one pattern")
	}
	if _, err := models.CompilePatterns(c.Source.Include); err != nil {
		return fmt.Errorf("source.include: %w", err)
	}
	if _, err := models.CompilePatterns(c.Source.Exclude); err != nil {
		return fmt.Errorf("source.exclude: %w", err)
	}

	if !report.IsValidFormat(strings.ToLower(c.Report.Format)) {
		return fmt.Errorf("report.format %q is not one of %s", c.Report.Format, strings.Join(report.ValidFormats, ", "))
	}
	return nil
}

// SampleMethod builds the configured sample method.
func (c *Config) SampleMethod() (sampling.Method, error) {
	return sampling.FromConfig(c.Source.SampleMethod, c.Source.Probability, c.Source.Rows)
}

// RequireTarget fails when a full run has no target configured.
func (c *Config) RequireTarget() error {
	if c.Target.Adapter == "" {
		return fmt.Errorf("target.adapter is required to run a sample; use analyze to size one without loading")
	}
	return nil
}
