package datasource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolWrapper wraps *pgxpool.Pool to implement PoolConnector
type PostgresPoolWrapper struct {
	pool *pgxpool.Pool
}

// NewPostgresPoolWrapper creates a new PostgreSQL pool wrapper
func NewPostgresPoolWrapper(pool *pgxpool.Pool) *PostgresPoolWrapper {
	return &PostgresPoolWrapper{pool: pool}
}

// Ping verifies the PostgreSQL connection is alive
func (w *PostgresPoolWrapper) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

// Close closes all connections in the PostgreSQL pool
func (w *PostgresPoolWrapper) Close() error {
	w.pool.Close()
	return nil
}

// Kind returns the adapter identifier.
func (w *PostgresPoolWrapper) Kind() string {
	return "postgres"
}

// GetPool returns the underlying *pgxpool.Pool
func (w *PostgresPoolWrapper) GetPool() *pgxpool.Pool {
	return w.pool
}

// SQLPoolWrapper wraps a database/sql handle (SQL Server, SQLite) to implement
// PoolConnector.
type SQLPoolWrapper struct {
	db     *sql.DB
	dbType string
}

// NewSQLPoolWrapper creates a wrapper around db reporting dbType in stats.
func NewSQLPoolWrapper(db *sql.DB, dbType string) *SQLPoolWrapper {
	return &SQLPoolWrapper{db: db, dbType: dbType}
}

// Ping verifies the connection is alive
func (w *SQLPoolWrapper) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes the underlying *sql.DB
func (w *SQLPoolWrapper) Close() error {
	return w.db.Close()
}

// Kind returns the adapter identifier.
func (w *SQLPoolWrapper) Kind() string {
	return w.dbType
}

// GetDB returns the underlying *sql.DB
func (w *SQLPoolWrapper) GetDB() *sql.DB {
	return w.db
}

// GetPostgresPool extracts the underlying *pgxpool.Pool from a PoolConnector.
// Returns an error if the connector is not a PostgreSQL pool.
func GetPostgresPool(connector PoolConnector) (*pgxpool.Pool, error) {
	wrapper, ok := connector.(*PostgresPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("connector is not a PostgreSQL pool wrapper")
	}
	return wrapper.GetPool(), nil
}

// GetSQLDB extracts the underlying *sql.DB from a PoolConnector.
// Returns an error if the connector is not a database/sql pool.
func GetSQLDB(connector PoolConnector) (*sql.DB, error) {
	wrapper, ok := connector.(*SQLPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("connector is not a database/sql pool wrapper")
	}
	return wrapper.GetDB(), nil
}
