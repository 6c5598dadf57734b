package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Target loads sampled relations into a single SQLite file. Source identity is
// folded into the table name, so analytics.public.orders becomes
// "analytics__public__orders".
type Target struct {
	Dialect
	config   *Config
	connMgr  *datasource.ConnectionManager
	ownedMgr bool
	logger   *zap.Logger
}

// NewTarget opens (creating if needed) the target file.
func NewTarget(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, logger *zap.Logger) (*Target, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Target{
		config:  cfg,
		connMgr: connMgr,
		logger:  logger.Named("sqlite-target"),
	}
	if connMgr == nil {
		t.connMgr = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, logger)
		t.ownedMgr = true
	}

	if err := t.withDB(ctx, func(db *sql.DB) error {
		return db.PingContext(ctx)
	}); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

// Kind returns the registered adapter identifier.
func (t *Target) Kind() string {
	return adapterType
}

// TargetTypes maps normalized types to SQLite column types.
func (t *Target) TargetTypes() models.TypeMapping {
	return targetTypes
}

// withDB hands fn the target handle. SQLite allows one writer at a time, so the
// handle is limited to a single open connection.
func (t *Target) withDB(ctx context.Context, fn func(db *sql.DB) error) error {
	key := datasource.PoolKey(adapterType+"-target", t.config.Path)
	connector, release, err := t.connMgr.Acquire(ctx, key, datasource.SQLPoolCreator(driverName, t.config.dsn(), adapterType))
	if err != nil {
		return err
	}
	defer release()

	db, err := datasource.GetSQLDB(connector)
	if err != nil {
		return fmt.Errorf("failed to extract sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return fn(db)
}

// CreateAndLoad replaces the relation's table and inserts the rows in one
// transaction.
func (t *Target) CreateAndLoad(ctx context.Context, rel *models.Relation, data *datasource.QueryResult) error {
	columns, err := rel.TypedColumns(targetTypes, t.QuoteIdentifier)
	if err != nil {
		return err
	}
	table := t.QuoteIdentifier(targetTableName(rel))

	return t.withDB(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (\n%s\n)", table, columns)); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}

		if data.RowCount() > 0 {
			names := rel.ColumnNames()
			quoted := make([]string, len(names))
			for i, n := range names {
				quoted[i] = t.QuoteIdentifier(n)
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
			insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), placeholders)

			stmt, err := tx.PrepareContext(ctx, insert)
			if err != nil {
				return fmt.Errorf("prepare insert into %s: %w", table, err)
			}
			defer stmt.Close()

			for _, row := range data.Rows {
				if _, err := stmt.ExecContext(ctx, row...); err != nil {
					return fmt.Errorf("insert into %s: %w", table, err)
				}
			}
			t.logger.Debug("Loaded relation",
				zap.String("relation", rel.DotNotation()),
				zap.Int("rows", len(data.Rows)),
			)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", table, err)
		}
		return nil
	})
}

// Close releases the target (and the connection manager, if it owns one).
func (t *Target) Close() error {
	if t.ownedMgr {
		return t.connMgr.Close()
	}
	return nil
}

// Ensure Target implements TargetAdapter at compile time.
var _ datasource.TargetAdapter = (*Target)(nil)
