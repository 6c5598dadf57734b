package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

const adapterType = "postgres"

var supportedSampleMethods = []string{sampling.MethodBernoulli, sampling.MethodRowCount}

// Source reads metadata and samples from a PostgreSQL server. Pools are opened per
// database through the connection manager.
type Source struct {
	Dialect
	config   *Config
	connMgr  *datasource.ConnectionManager
	ownedMgr bool // true if we created the manager (for tests or direct instantiation)
	logger   *zap.Logger
}

// NewSource creates a PostgreSQL source and verifies it can reach the configured
// database. If connMgr is nil, a private manager is created and closed with the
// source. If logger is nil, a no-op logger is used.
func NewSource(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Source{
		config:  cfg,
		connMgr: connMgr,
		logger:  logger.Named("postgres-source"),
	}
	if connMgr == nil {
		s.connMgr = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, logger)
		s.ownedMgr = true
	}

	// Verify connectivity up front so configuration errors surface before any work.
	if err := s.withConn(ctx, cfg.Database, func(conn *pgxpool.Conn) error {
		return conn.Ping(ctx)
	}); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Kind returns the registered adapter identifier.
func (s *Source) Kind() string {
	return adapterType
}

// withConn acquires a connection to database for the duration of fn. The
// connection is always released, whether fn succeeds, fails or panics.
func (s *Source) withConn(ctx context.Context, database string, fn func(conn *pgxpool.Conn) error) error {
	key := datasource.PoolKey(adapterType, s.config.Host+"/"+database)
	connector, release, err := s.connMgr.Acquire(ctx, key, datasource.PostgresPoolCreator(s.config.connectionString(database)))
	if err != nil {
		return err
	}
	defer release()

	pool, err := datasource.GetPostgresPool(connector)
	if err != nil {
		return fmt.Errorf("failed to extract postgres pool: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		s.logger.Warn("failed to acquire connection",
			zap.String("database", database),
			zap.String("error", logging.SanitizeError(err)),
		)
		return &apperrors.ConnectionError{Adapter: adapterType, Op: "acquire " + database, Err: err}
	}
	defer conn.Release()

	return fn(conn)
}

// ListDatabases returns every database that accepts connections.
func (s *Source) ListDatabases(ctx context.Context) ([]string, error) {
	const query = `
		SELECT datname
		FROM pg_database
		WHERE datistemplate = false
		  AND datallowconn = true
		ORDER BY datname
	`

	var databases []string
	err := s.withConn(ctx, s.config.Database, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("query databases: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("scan database: %w", err)
			}
			databases = append(databases, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return databases, nil
}

// Query runs a bounded SELECT against database.
func (s *Source) Query(ctx context.Context, database, sqlQuery string, params []any, maxRows int) (*datasource.QueryResult, error) {
	queryToRun := sqlQuery
	if maxRows > 0 {
		queryToRun = datasource.WrapLimit(sqlQuery, maxRows+1)
	}

	var result *datasource.QueryResult
	err := s.withConn(ctx, database, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, queryToRun, params...)
		if err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
		defer rows.Close()

		fieldDescs := rows.FieldDescriptions()
		columns := make([]string, len(fieldDescs))
		for i, fd := range fieldDescs {
			columns[i] = fd.Name
		}

		result = &datasource.QueryResult{Columns: columns, Rows: make([][]any, 0)}
		for rows.Next() {
			if maxRows > 0 && len(result.Rows) >= maxRows {
				return &apperrors.RowLimitExceededError{Limit: maxRows}
			}
			values, err := rows.Values()
			if err != nil {
				return fmt.Errorf("failed to read row values: %w", err)
			}
			result.Rows = append(result.Rows, values)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DataTypeMappings maps PostgreSQL type names to normalized types.
func (s *Source) DataTypeMappings() models.SourceTypeMapping {
	return sourceTypes
}

// SupportedSampleMethods lists the sample methods the dialect can render.
func (s *Source) SupportedSampleMethods() []string {
	return supportedSampleMethods
}

// Close releases the source (and the connection manager, if it owns one).
func (s *Source) Close() error {
	if s.ownedMgr {
		return s.connMgr.Close()
	}
	// If using a shared connection manager, pools are closed by it.
	return nil
}

// Ensure Source implements SourceAdapter at compile time.
var _ datasource.SourceAdapter = (*Source)(nil)
