package clickhouse

import (
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-replica/pkg/config"
)

// Config contains ClickHouse connection options for the native protocol.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	DialTimeout time.Duration
	// BatchSize is the number of rows sent per INSERT batch.
	BatchSize int
}

// DefaultPort returns the native protocol port.
func DefaultPort() int {
	return 9000
}

// DefaultBatchSize returns the rows per INSERT batch.
func DefaultBatchSize() int {
	return 10_000
}

// FromMap creates a Config from a generic config map.
func FromMap(m map[string]any) (*Config, error) {
	cfg := &Config{
		Port:        DefaultPort(),
		User:        "default",
		Database:    "default",
		DialTimeout: 10 * time.Second,
		BatchSize:   DefaultBatchSize(),
	}

	if host, ok := m["host"].(string); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	switch port := m["port"].(type) {
	case float64:
		cfg.Port = int(port)
	case int:
		cfg.Port = port
	case uint64:
		cfg.Port = int(port)
	}

	if user, ok := m["user"].(string); ok && user != "" {
		cfg.User = user
	}
	if password, ok := m["password"].(string); ok {
		cfg.Password = password
	}
	if database, ok := m["database"].(string); ok && database != "" {
		cfg.Database = database
	}

	switch size := m["batch_size"].(type) {
	case float64:
		cfg.BatchSize = int(size)
	case int:
		cfg.BatchSize = size
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive")
	}

	return cfg, nil
}

func (c *Config) addr() string {
	return fmt.Sprintf("%s:%d", config.ResolveHostForDocker(c.Host), c.Port)
}
