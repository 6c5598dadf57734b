package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

const (
	adapterType = "sqlite"
	driverName  = "sqlite"
)

var supportedSampleMethods = []string{sampling.MethodBernoulli, sampling.MethodRowCount}

// Source reads metadata and samples from a SQLite file and the files attached to
// it. Each attached schema is reported as a database.
type Source struct {
	Dialect
	config   *Config
	connMgr  *datasource.ConnectionManager
	ownedMgr bool
	logger   *zap.Logger
}

// NewSource opens the SQLite source. If connMgr is nil, a private manager is
// created and closed with the source.
func NewSource(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Source{
		config:  cfg,
		connMgr: connMgr,
		logger:  logger.Named("sqlite-source"),
	}
	if connMgr == nil {
		s.connMgr = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, logger)
		s.ownedMgr = true
	}

	if err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.PingContext(ctx)
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

// withConn pins a connection, attaches the configured databases to it if this
// connection has not seen them yet, and always returns it to the pool.
func (s *Source) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	key := datasource.PoolKey(adapterType, s.config.Path)
	connector, release, err := s.connMgr.Acquire(ctx, key, datasource.SQLPoolCreator(driverName, s.config.dsn(), adapterType))
	if err != nil {
		return err
	}
	defer release()

	db, err := datasource.GetSQLDB(connector)
	if err != nil {
		return fmt.Errorf("failed to extract sqlite db: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		s.logger.Warn("failed to acquire connection",
			zap.String("path", s.config.Path),
			zap.String("error", logging.SanitizeError(err)),
		)
		return &apperrors.ConnectionError{Adapter: adapterType, Op: "acquire", Err: err}
	}
	defer conn.Close()

	if err := s.ensureAttached(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func (s *Source) ensureAttached(ctx context.Context, conn *sql.Conn) error {
	if len(s.config.Attach) == 0 {
		return nil
	}

	attached, err := databaseList(ctx, conn)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(attached))
	for _, name := range attached {
		seen[name] = true
	}

	for _, name := range s.config.attachNames() {
		if seen[name] {
			continue
		}
		stmt := fmt.Sprintf("ATTACH DATABASE ? AS %s", s.QuoteIdentifier(name))
		if _, err := conn.ExecContext(ctx, stmt, s.config.Attach[name]); err != nil {
			return fmt.Errorf("attach %s: %w", name, err)
		}
	}
	return nil
}

func databaseList(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "SELECT name FROM pragma_database_list WHERE name <> 'temp' ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query database list: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListDatabases returns main plus every attached database.
func (s *Source) ListDatabases(ctx context.Context) ([]string, error) {
	var databases []string
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		var err error
		databases, err = databaseList(ctx, conn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return databases, nil
}

// Query runs a bounded SELECT. database is unused because relations are
// qualified by their attached name.
func (s *Source) Query(ctx context.Context, database, sqlQuery string, params []any, maxRows int) (*datasource.QueryResult, error) {
	queryToRun := sqlQuery
	if maxRows > 0 {
		queryToRun = datasource.WrapLimit(sqlQuery, maxRows+1)
	}

	var result *datasource.QueryResult
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, queryToRun, params...)
		if err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
		defer rows.Close()

		result, err = datasource.ScanSQLRows(rows, maxRows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DataTypeMappings maps declared SQLite types to normalized types.
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
	return nil
}

// Ensure Source implements SourceAdapter at compile time.
var _ datasource.SourceAdapter = (*Source)(nil)
