package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

type fakeRegistry struct {
	sources map[string]bool
	targets map[string]bool
}

func (r fakeRegistry) IsSourceRegistered(kind string) bool { return r.sources[kind] }
func (r fakeRegistry) IsTargetRegistered(kind string) bool { return r.targets[kind] }

var testRegistry = fakeRegistry{
	sources: map[string]bool{"postgres": true, "sqlite": true},
	targets: map[string]bool{"postgres": true, "sqlite": true, "clickhouse": true},
}

const testYAML = `
threads: 8
max_rows: 5000
source:
  adapter: postgres
  connection:
    host: warehouse.internal
    port: 5432
    user: sampler
  sample_method: bernoulli
  probability: 0.05
  include:
    - database: analytics
      schema: public
      relation: ".*"
  exclude:
    - database: ".*"
      schema: ".*"
      relation: "tmp_.*"
target:
  adapter: sqlite
  connection:
    path: /tmp/sample.db
report:
  format: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func clearReplicaEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "REPLICA_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestLoad_YAML(t *testing.T) {
	clearReplicaEnv(t)

	cfg, err := Load(writeConfig(t, testYAML), testRegistry)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Threads != 8 {
		t.Errorf("expected Threads=8 (from yaml), got %d", cfg.Threads)
	}
	if cfg.MaxRows != 5000 {
		t.Errorf("expected MaxRows=5000, got %d", cfg.MaxRows)
	}
	if cfg.MaxDatabases != 2000 {
		t.Errorf("expected MaxDatabases default 2000, got %d", cfg.MaxDatabases)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel default info, got %s", cfg.LogLevel)
	}
	if cfg.Source.Connection["host"] != "warehouse.internal" {
		t.Errorf("expected source host from yaml, got %v", cfg.Source.Connection["host"])
	}
	if len(cfg.Source.Include) != 1 || cfg.Source.Include[0].Database != "analytics" {
		t.Errorf("unexpected include patterns: %+v", cfg.Source.Include)
	}
	if len(cfg.Source.Exclude) != 1 || cfg.Source.Exclude[0].Relation != "tmp_.*" {
		t.Errorf("unexpected exclude patterns: %+v", cfg.Source.Exclude)
	}
	if cfg.Report.Format != "json" {
		t.Errorf("expected report format json, got %s", cfg.Report.Format)
	}

	method, err := cfg.SampleMethod()
	if err != nil {
		t.Fatalf("SampleMethod() failed: %v", err)
	}
	if method != (sampling.Bernoulli{Probability: 0.05}) {
		t.Errorf("unexpected sample method %v", method)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearReplicaEnv(t)
	t.Setenv("REPLICA_THREADS", "2")
	t.Setenv("REPLICA_LOG_FORMAT", "json")

	cfg, err := Load(writeConfig(t, testYAML), testRegistry)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Threads != 2 {
		t.Errorf("expected Threads=2 (from env), got %d", cfg.Threads)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("expected LogFormat=json (from env), got %s", cfg.LogFormat)
	}
}

func TestLoad_PasswordsFromEnvOnly(t *testing.T) {
	clearReplicaEnv(t)
	t.Setenv("REPLICA_SOURCE_PASSWORD", "s3cret")
	t.Setenv("REPLICA_TARGET_PASSWORD", "t4rget")

	cfg, err := Load(writeConfig(t, testYAML), testRegistry)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Source.Connection["password"] != "s3cret" {
		t.Errorf("expected source password from env, got %v", cfg.Source.Connection["password"])
	}
	if cfg.Target.Connection["password"] != "t4rget" {
		t.Errorf("expected target password from env, got %v", cfg.Target.Connection["password"])
	}
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	clearReplicaEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), testRegistry)
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_UnknownAdapter(t *testing.T) {
	clearReplicaEnv(t)
	content := strings.Replace(testYAML, "adapter: postgres", "adapter: oracle", 1)

	_, err := Load(writeConfig(t, content), testRegistry)
	if err == nil {
		t.Fatal("expected error for unknown adapter")
	}

	var adapterErr *apperrors.UnknownAdapterError
	if !errors.As(err, &adapterErr) {
		t.Fatalf("expected UnknownAdapterError, got %T: %v", err, err)
	}
	if adapterErr.Role != "source" || adapterErr.Name != "oracle" {
		t.Errorf("unexpected adapter error %+v", adapterErr)
	}
}

func validConfig() *Config {
	return &Config{
		Threads:      4,
		MaxDatabases: 2000,
		MaxRows:      1_000_000,
		Source: SourceConfig{
			Adapter:      "postgres",
			SampleMethod: sampling.MethodRowCount,
			Rows:         100,
			Include:      []models.Pattern{{Database: ".*", Schema: ".*", Relation: ".*"}},
		},
		Target: TargetConfig{Adapter: "clickhouse"},
		Report: ReportConfig{Format: "text"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero threads", func(c *Config) { c.Threads = 0 }, "threads must be positive"},
		{"zero max rows", func(c *Config) { c.MaxRows = 0 }, "max_rows must be positive"},
		{"no source adapter", func(c *Config) { c.Source.Adapter = "" }, "source.adapter is required"},
		{"target not registered", func(c *Config) { c.Target.Adapter = "mssql" }, `target adapter "mssql" is not registered`},
		{"unknown method", func(c *Config) { c.Source.SampleMethod = "reservoir" }, "unknown sample method"},
		{"bad probability", func(c *Config) {
			c.Source.SampleMethod = sampling.MethodBernoulli
			c.Source.Probability = 1.5
		}, "probability must be in (0, 1]"},
		{"no include", func(c *Config) { c.Source.Include = nil }, "at least one pattern"},
		{"bad include", func(c *Config) {
			c.Source.Include = []models.Pattern{{Database: "(", Schema: ".*", Relation: ".*"}}
		}, "source.include"},
		{"bad exclude", func(c *Config) {
			c.Source.Exclude = []models.Pattern{{Database: ".*", Schema: ".*", Relation: "["}}
		}, "source.exclude"},
		{"bad format", func(c *Config) { c.Report.Format = "xml" }, "report.format"},
		{"format is case insensitive", func(c *Config) { c.Report.Format = "YAML" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate(testRegistry)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_NilRegistrySkipsAdapterChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Source.Adapter = "anything"
	if err := cfg.Validate(nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRequireTarget(t *testing.T) {
	cfg := validConfig()
	if err := cfg.RequireTarget(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	cfg.Target.Adapter = ""
	if err := cfg.RequireTarget(); err == nil {
		t.Fatal("expected error without target")
	}
}
