package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Target loads sampled relations into a single PostgreSQL database. Source
// database and schema are folded into the target schema name, so
// analytics.public.orders lands in "analytics__public"."orders".
type Target struct {
	Dialect
	config   *Config
	connMgr  *datasource.ConnectionManager
	ownedMgr bool
	logger   *zap.Logger
}

// NewTarget creates a PostgreSQL target. If connMgr is nil, a private manager is
// created and closed with the target.
func NewTarget(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, logger *zap.Logger) (*Target, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Target{
		config:  cfg,
		connMgr: connMgr,
		logger:  logger.Named("postgres-target"),
	}
	if connMgr == nil {
		t.connMgr = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, logger)
		t.ownedMgr = true
	}

	if err := t.withPool(ctx, func(pool *pgxpool.Pool) error {
		return pool.Ping(ctx)
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

// TargetTypes maps normalized types to PostgreSQL column types.
func (t *Target) TargetTypes() models.TypeMapping {
	return targetTypes
}

// TargetSchema returns the schema a source relation is loaded into.
func TargetSchema(rel *models.Relation) string {
	return rel.Database + "__" + rel.Schema
}

func (t *Target) withPool(ctx context.Context, fn func(pool *pgxpool.Pool) error) error {
	key := datasource.PoolKey(adapterType+"-target", t.config.Host+"/"+t.config.Database)
	connector, release, err := t.connMgr.Acquire(ctx, key, datasource.PostgresPoolCreator(t.config.connectionString(t.config.Database)))
	if err != nil {
		return err
	}
	defer release()

	pool, err := datasource.GetPostgresPool(connector)
	if err != nil {
		return fmt.Errorf("failed to extract postgres pool: %w", err)
	}
	return fn(pool)
}

// CreateAndLoad replaces the relation in the target and copies the rows in with
// COPY, all in one transaction.
func (t *Target) CreateAndLoad(ctx context.Context, rel *models.Relation, data *datasource.QueryResult) error {
	columns, err := rel.TypedColumns(targetTypes, t.QuoteIdentifier)
	if err != nil {
		return err
	}

	schema := TargetSchema(rel)
	qualified := pgx.Identifier{schema, rel.Name}.Sanitize()

	return t.withPool(ctx, func(pool *pgxpool.Pool) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		statements := []string{
			fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", t.QuoteIdentifier(schema)),
			fmt.Sprintf("DROP TABLE IF EXISTS %s", qualified),
			fmt.Sprintf("CREATE TABLE %s (\n%s\n)", qualified, columns),
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", qualified, err)
			}
		}

		if data.RowCount() > 0 {
			copied, err := tx.CopyFrom(ctx, pgx.Identifier{schema, rel.Name}, rel.ColumnNames(), pgx.CopyFromRows(data.Rows))
			if err != nil {
				return fmt.Errorf("copy into %s: %w", qualified, err)
			}
			t.logger.Debug("Loaded relation",
				zap.String("relation", rel.DotNotation()),
				zap.Int64("rows", copied),
			)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit %s: %w", qualified, err)
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
