package mssql

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/ekaya-replica/pkg/config"
)

const (
	authSQL              = "sql"
	authServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string // initial catalog; relations in every database are reached by three-part names

	// AuthMethod determines which authentication to use
	// Options: "sql", "service_principal"
	AuthMethod string

	// SQL Authentication fields
	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	// Connection options
	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// DefaultDatabase is the initial catalog when none is configured.
func DefaultDatabase() string {
	return "master"
}

// FromMap creates a Config from a generic config map and auto-detects auth method.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Database:          DefaultDatabase(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
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

	if database, ok := config["database"].(string); ok && database != "" {
		cfg.Database = database
	}

	if encrypt, ok := config["encrypt"].(bool); ok {
		cfg.Encrypt = encrypt
	} else if encryptStr, ok := config["encrypt"].(string); ok {
		// "true", "false", "strict"
		cfg.Encrypt = encryptStr == "true" || encryptStr == "strict"
	}

	if trust, ok := config["trust_server_certificate"].(bool); ok {
		cfg.TrustServerCertificate = trust
	}

	switch timeout := config["connection_timeout"].(type) {
	case float64:
		cfg.ConnectionTimeout = int(timeout)
	case int:
		cfg.ConnectionTimeout = timeout
	}

	// Auto-detect auth method or use explicitly provided
	if authMethod, ok := config["auth_method"].(string); ok && authMethod != "" {
		cfg.AuthMethod = authMethod
	} else if _, hasClientID := config["client_id"].(string); hasClientID {
		cfg.AuthMethod = authServicePrincipal
	} else if username, ok := config["username"].(string); ok && username != "" {
		cfg.AuthMethod = authSQL
	} else if user, ok := config["user"].(string); ok && user != "" {
		cfg.AuthMethod = authSQL
	} else {
		return nil, fmt.Errorf("could not auto-detect auth method; no credentials provided")
	}

	switch cfg.AuthMethod {
	case authSQL:
		if username, ok := config["username"].(string); ok && username != "" {
			cfg.Username = username
		} else if user, ok := config["user"].(string); ok && user != "" {
			cfg.Username = user
		} else {
			return nil, fmt.Errorf("username is required for SQL authentication")
		}
		if password, ok := config["password"].(string); ok {
			cfg.Password = password
		}

	case authServicePrincipal:
		if tenantID, ok := config["tenant_id"].(string); ok {
			cfg.TenantID = tenantID
		}
		if clientID, ok := config["client_id"].(string); ok {
			cfg.ClientID = clientID
		}
		if clientSecret, ok := config["client_secret"].(string); ok {
			cfg.ClientSecret = clientSecret
		} else if password, ok := config["password"].(string); ok {
			cfg.ClientSecret = password
		}

	default:
		return nil, fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", cfg.AuthMethod)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the config has all required fields for the selected auth method.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case authSQL:
		if c.Username == "" {
			return fmt.Errorf("username is required for SQL authentication")
		}
	case authServicePrincipal:
		if c.TenantID == "" {
			return fmt.Errorf("tenant_id is required for service principal")
		}
		if c.ClientID == "" {
			return fmt.Errorf("client_id is required for service principal")
		}
		if c.ClientSecret == "" {
			return fmt.Errorf("client_secret is required for service principal")
		}
	default:
		return fmt.Errorf("invalid auth method: %s", c.AuthMethod)
	}
	return nil
}

// driverAndDSN returns the database/sql driver name and connection URL for the
// configured auth method. Service principals go through the azuresql driver,
// which understands fedauth.
func (c *Config) driverAndDSN() (string, string) {
	query := url.Values{}
	query.Add("database", c.Database)
	if c.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", c.ConnectionTimeout))
	}

	host := config.ResolveHostForDocker(c.Host)

	if c.AuthMethod == authServicePrincipal {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", c.ClientID+"@"+c.TenantID)
		query.Add("password", c.ClientSecret)
		return "azuresql", fmt.Sprintf("sqlserver://%s:%d?%s", host, c.Port, query.Encode())
	}

	return "sqlserver", fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(c.Username),
		url.QueryEscape(c.Password),
		host,
		c.Port,
		query.Encode(),
	)
}
