package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

const adapterType = "clickhouse"

// connWrapper lets the connection manager own a ClickHouse connection pool.
type connWrapper struct {
	conn driver.Conn
}

func (w *connWrapper) Ping(ctx context.Context) error { return w.conn.Ping(ctx) }
func (w *connWrapper) Close() error                   { return w.conn.Close() }
func (w *connWrapper) Kind() string                { return adapterType }

// Target loads sampled relations into ClickHouse. Each source database and schema
// pair becomes one ClickHouse database named "<database>__<schema>".
type Target struct {
	config   *Config
	connMgr  *datasource.ConnectionManager
	ownedMgr bool
	logger   *zap.Logger
}

// NewTarget connects to ClickHouse and verifies the server answers.
func NewTarget(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, logger *zap.Logger) (*Target, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Target{
		config:  cfg,
		connMgr: connMgr,
		logger:  logger.Named("clickhouse-target"),
	}
	if connMgr == nil {
		t.connMgr = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, logger)
		t.ownedMgr = true
	}

	if err := t.withConn(ctx, func(conn driver.Conn) error {
		return conn.Ping(ctx)
	}); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Target) poolCreator() datasource.PoolCreator {
	return func(ctx context.Context, cmCfg datasource.ConnectionManagerConfig) (datasource.PoolConnector, error) {
		conn, err := clickhouse.Open(&clickhouse.Options{
			Addr: []string{t.config.addr()},
			Auth: clickhouse.Auth{
				Database: t.config.Database,
				Username: t.config.User,
				Password: t.config.Password,
			},
			DialTimeout:  t.config.DialTimeout,
			MaxOpenConns: int(cmCfg.PoolMaxConns),
		})
		if err != nil {
			return nil, err
		}
		if err := conn.Ping(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &connWrapper{conn: conn}, nil
	}
}

func (t *Target) withConn(ctx context.Context, fn func(conn driver.Conn) error) error {
	key := datasource.PoolKey(adapterType+"-target", t.config.addr())
	connector, release, err := t.connMgr.Acquire(ctx, key, t.poolCreator())
	if err != nil {
		return err
	}
	defer release()

	w, ok := connector.(*connWrapper)
	if !ok {
		return fmt.Errorf("connector is not a clickhouse connection")
	}
	return fn(w.conn)
}

// Kind returns the registered adapter identifier.
func (t *Target) Kind() string {
	return adapterType
}

// TargetTypes maps normalized types to ClickHouse column types.
func (t *Target) TargetTypes() models.TypeMapping {
	return targetTypes
}

// QuoteIdentifier backtick-quotes an identifier.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// TargetDatabase returns the ClickHouse database a source relation is loaded into.
func TargetDatabase(rel *models.Relation) string {
	return rel.Database + "__" + rel.Schema
}

// columnDefinitions renders the column list, wrapping nullable attributes.
func columnDefinitions(rel *models.Relation) (string, error) {
	if _, err := rel.TypedColumns(targetTypes, QuoteIdentifier); err != nil {
		return "", err
	}
	defs := make([]string, len(rel.Attributes))
	for i, attr := range rel.Attributes {
		native := targetTypes[attr.DataType]
		if attr.Nullable {
			native = "Nullable(" + native + ")"
		}
		defs[i] = QuoteIdentifier(attr.Name) + " " + native
	}
	return strings.Join(defs, ",\n"), nil
}

// CreateAndLoad recreates the table with a MergeTree engine and inserts the rows
// in batches. ClickHouse has no multi-statement transactions, so a failure can
// leave a partially loaded table; the next run replaces it.
func (t *Target) CreateAndLoad(ctx context.Context, rel *models.Relation, data *datasource.QueryResult) error {
	columns, err := columnDefinitions(rel)
	if err != nil {
		return err
	}

	database := QuoteIdentifier(TargetDatabase(rel))
	table := database + "." + QuoteIdentifier(rel.Name)

	return t.withConn(ctx, func(conn driver.Conn) error {
		statements := []string{
			"CREATE DATABASE IF NOT EXISTS " + database,
			"DROP TABLE IF EXISTS " + table,
			fmt.Sprintf("CREATE TABLE %s (\n%s\n) ENGINE = MergeTree ORDER BY tuple()", table, columns),
		}
		for _, stmt := range statements {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", table, err)
			}
		}

		for start := 0; start < data.RowCount(); start += t.config.BatchSize {
			end := min(start+t.config.BatchSize, data.RowCount())
			if err := t.sendBatch(ctx, conn, rel, table, data.Rows[start:end]); err != nil {
				return err
			}
		}

		t.logger.Debug("Loaded relation",
			zap.String("relation", rel.DotNotation()),
			zap.Int("rows", data.RowCount()),
		)
		return nil
	})
}

func (t *Target) sendBatch(ctx context.Context, conn driver.Conn, rel *models.Relation, table string, rows [][]any) error {
	batch, err := conn.PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return fmt.Errorf("prepare batch for %s: %w", table, err)
	}
	defer func() { _ = batch.Abort() }()

	values := make([]any, len(rel.Attributes))
	for _, row := range rows {
		for i, attr := range rel.Attributes {
			v, err := convertValue(attr.DataType, row[i])
			if err != nil {
				return fmt.Errorf("%s column %s: %w", rel.DotNotation(), attr.Name, err)
			}
			values[i] = v
		}
		if err := batch.Append(values...); err != nil {
			return fmt.Errorf("append to %s: %w", table, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch to %s: %w", table, err)
	}
	return nil
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
