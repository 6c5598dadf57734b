package sqlite

import (
	"fmt"
	"net/url"
	"sort"
)

// Config contains SQLite connection options.
type Config struct {
	Path string
	// Attach maps schema names to database files attached to every connection, so a
	// single source can expose several databases.
	Attach        map[string]string
	BusyTimeoutMs int
}

// DefaultBusyTimeoutMs is how long a connection waits on a locked database.
func DefaultBusyTimeoutMs() int {
	return 5000
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{BusyTimeoutMs: DefaultBusyTimeoutMs()}

	if path, ok := config["path"].(string); ok && path != "" {
		cfg.Path = path
	} else {
		return nil, fmt.Errorf("path is required")
	}

	switch attach := config["attach"].(type) {
	case map[string]any:
		cfg.Attach = make(map[string]string, len(attach))
		for name, v := range attach {
			p, ok := v.(string)
			if !ok || p == "" {
				return nil, fmt.Errorf("attach %q: path must be a non-empty string", name)
			}
			cfg.Attach[name] = p
		}
	case map[string]string:
		cfg.Attach = attach
	case nil:
	default:
		return nil, fmt.Errorf("attach must be a map of schema name to path")
	}

	for name := range cfg.Attach {
		if name == "main" || name == "temp" {
			return nil, fmt.Errorf("attach %q: name is reserved", name)
		}
	}

	switch timeout := config["busy_timeout_ms"].(type) {
	case float64:
		cfg.BusyTimeoutMs = int(timeout)
	case int:
		cfg.BusyTimeoutMs = timeout
	}

	return cfg, nil
}

// dsn builds a modernc.org/sqlite URI with the pragmas every connection needs.
func (c *Config) dsn() string {
	query := url.Values{}
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeoutMs))
	query.Add("_pragma", "foreign_keys(1)")
	return "file:" + c.Path + "?" + query.Encode()
}

// attachNames returns the attached schema names in a stable order.
func (c *Config) attachNames() []string {
	names := make([]string, 0, len(c.Attach))
	for name := range c.Attach {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
