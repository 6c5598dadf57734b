package postgres

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/ekaya-replica/pkg/config"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string // database used for the initial connection and database listing
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// DefaultDatabase is connected to when no database is configured.
func DefaultDatabase() string {
	return "postgres"
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:     DefaultPort(),
		SSLMode:  DefaultSSLMode(),
		Database: DefaultDatabase(),
	}

	if host, ok := config["host"].(string); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	switch port := config["port"].(type) {
	case float64: // JSON numbers are float64
		cfg.Port = int(port)
	case int:
		cfg.Port = port
	case uint64:
		cfg.Port = int(port)
	}

	if user, ok := config["user"].(string); ok && user != "" {
		cfg.User = user
	} else {
		return nil, fmt.Errorf("user is required")
	}

	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}

	if database, ok := config["database"].(string); ok && database != "" {
		cfg.Database = database
	}

	if sslMode, ok := config["ssl_mode"].(string); ok && sslMode != "" {
		cfg.SSLMode = sslMode
	}

	return cfg, nil
}

// connectionString builds a PostgreSQL URL for database with proper escaping.
// All user-provided fields are URL-escaped so passwords containing @, /, # or ?
// don't break URL parsing. localhost is rewritten when running inside Docker.
func (c *Config) connectionString(database string) string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		config.ResolveHostForDocker(c.Host),
		c.Port,
		url.PathEscape(database),
		url.QueryEscape(sslMode),
	)
}
