package mssql

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap_SQLAuth(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":     "sql.example.com",
		"port":     float64(14330),
		"user":     "sa",
		"password": "p@ss;word",
		"database": "warehouse",
	})
	require.NoError(t, err)

	assert.Equal(t, authSQL, cfg.AuthMethod)
	assert.Equal(t, "sa", cfg.Username)
	assert.Equal(t, 14330, cfg.Port)
	assert.Equal(t, "warehouse", cfg.Database)
	assert.True(t, cfg.Encrypt, "encryption is on by default")
	assert.Equal(t, DefaultConnectionTimeout(), cfg.ConnectionTimeout)
}

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":     "sql.example.com",
		"username": "sa",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultPort(), cfg.Port)
	assert.Equal(t, DefaultDatabase(), cfg.Database)
}

func TestFromMap_ServicePrincipal(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":          "server.database.windows.net",
		"tenant_id":     "tenant",
		"client_id":     "client",
		"client_secret": "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, authServicePrincipal, cfg.AuthMethod)

	driver, dsn := cfg.driverAndDSN()
	assert.Equal(t, "azuresql", driver)
	assert.Contains(t, dsn, "fedauth=ActiveDirectoryServicePrincipal")
}

func TestFromMap_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		want   string
	}{
		{"missing host", map[string]any{"user": "sa"}, "host is required"},
		{"no credentials", map[string]any{"host": "h"}, "auto-detect"},
		{"unknown auth", map[string]any{"host": "h", "auth_method": "user_delegation"}, "invalid auth method"},
		{"incomplete service principal", map[string]any{"host": "h", "client_id": "c"}, "tenant_id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMap(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDriverAndDSN_EscapesCredentials(t *testing.T) {
	cfg := &Config{
		Host:       "db",
		Port:       1433,
		Database:   "master",
		AuthMethod: authSQL,
		Username:   "user@corp",
		Password:   "p@ss/word?",
	}

	driver, dsn := cfg.driverAndDSN()
	assert.Equal(t, "sqlserver", driver)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	password, _ := u.User.Password()
	assert.Equal(t, "p@ss/word?", password)
	assert.Equal(t, "user@corp", u.User.Username())
	assert.True(t, strings.HasSuffix(u.Host, ":1433"))
	assert.Equal(t, "false", u.Query().Get("encrypt"))
}
