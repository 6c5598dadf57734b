package datasource

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolCreator returns a PoolCreator that opens a pgx pool for connString.
func PostgresPoolCreator(connString string) PoolCreator {
	return func(ctx context.Context, config ConnectionManagerConfig) (PoolConnector, error) {
		poolConfig, err := pgxpool.ParseConfig(connString)
		if err != nil {
			return nil, err
		}

		poolConfig.MaxConns = config.PoolMaxConns
		poolConfig.MinConns = config.PoolMinConns
		poolConfig.MaxConnIdleTime = time.Duration(config.TTLMinutes) * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresPoolWrapper(pool), nil
	}
}

// SQLPoolCreator returns a PoolCreator that opens a database/sql handle for the
// registered driver name and verifies it with a ping.
func SQLPoolCreator(driverName, dataSourceName, dbType string) PoolCreator {
	return func(ctx context.Context, config ConnectionManagerConfig) (PoolConnector, error) {
		db, err := sql.Open(driverName, dataSourceName)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(int(config.PoolMaxConns))
		db.SetMaxIdleConns(int(config.PoolMaxConns))
		db.SetConnMaxIdleTime(time.Duration(config.TTLMinutes) * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewSQLPoolWrapper(db, dbType), nil
	}
}
