package datasource

import "context"

// PoolConnector is a pooled connection handle owned by the ConnectionManager.
// Postgres pools, database/sql pools (SQL Server, SQLite) and ClickHouse
// connections all satisfy it through thin wrappers.
type PoolConnector interface {
	// Ping checks the pool can still reach its server.
	Ping(ctx context.Context) error

	// Close releases every connection in the pool.
	Close() error

	// Kind is the adapter identifier, used in logs and ConnectionStats.
	Kind() string
}
