package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"         // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

const adapterType = "mssql"

var supportedSampleMethods = []string{sampling.MethodBernoulli, sampling.MethodRowCount}

// Source reads metadata and samples from SQL Server. A single pool serves every
// database because queries use three-part names.
type Source struct {
	Dialect
	config   *Config
	connMgr  *datasource.ConnectionManager
	ownedMgr bool
	logger   *zap.Logger
}

// NewSource creates a SQL Server source and verifies connectivity. If connMgr is
// nil, a private manager is created and closed with the source.
func NewSource(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Source{
		config:  cfg,
		connMgr: connMgr,
		logger:  logger.Named("mssql-source"),
	}
	if connMgr == nil {
		s.connMgr = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, logger)
		s.ownedMgr = true
	}

	if err := s.withConn(ctx, func(conn *sql.Conn) error {
		var one int
		if err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("test query failed: %w", err)
		}
		return nil
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

// withConn pins one connection from the shared pool for the duration of fn and
// always returns it.
func (s *Source) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	driver, dsn := s.config.driverAndDSN()
	key := datasource.PoolKey(adapterType, fmt.Sprintf("%s:%d", s.config.Host, s.config.Port))
	connector, release, err := s.connMgr.Acquire(ctx, key, datasource.SQLPoolCreator(driver, dsn, adapterType))
	if err != nil {
		return err
	}
	defer release()

	db, err := datasource.GetSQLDB(connector)
	if err != nil {
		return fmt.Errorf("failed to extract mssql db: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		s.logger.Warn("failed to acquire connection",
			zap.String("host", s.config.Host),
			zap.String("error", logging.SanitizeError(err)),
		)
		return &apperrors.ConnectionError{Adapter: adapterType, Op: "acquire", Err: err}
	}
	defer conn.Close()

	return fn(conn)
}

// Query runs a bounded SELECT. database is unused because compiled queries carry
// three-part names. Parameters bind to @p1..@pN in order.
func (s *Source) Query(ctx context.Context, database, sqlQuery string, params []any, maxRows int) (*datasource.QueryResult, error) {
	queryToRun := sqlQuery
	if maxRows > 0 {
		queryToRun = boundQuery(sqlQuery, maxRows+1)
	}

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = sql.Named(fmt.Sprintf("p%d", i+1), p)
	}

	var result *datasource.QueryResult
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, queryToRun, args...)
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

// DataTypeMappings maps SQL Server type names to normalized types.
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
