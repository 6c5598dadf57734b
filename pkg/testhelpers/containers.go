package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// PostgresImage is the warehouse image used by integration tests.
	PostgresImage = "postgres:16-alpine"
	// ClickHouseImage is the target image used by integration tests.
	ClickHouseImage = "clickhouse/clickhouse-server:24.8-alpine"

	warehouseDatabase = "warehouse"
	warehouseUser     = "replica"
	warehousePassword = "test_password"
)

// warehouseSchema seeds a small shop: every order belongs to a customer, and
// about a third of order items have no order.
var warehouseSchema = []string{
	`CREATE SCHEMA shop`,
	`CREATE TABLE shop.customers (id bigint PRIMARY KEY, name text NOT NULL)`,
	`CREATE TABLE shop.orders (id bigint PRIMARY KEY, customer_id bigint NOT NULL REFERENCES shop.customers(id), placed_at timestamptz NOT NULL, total numeric(12,2))`,
	`CREATE TABLE shop.order_items (id bigint PRIMARY KEY, order_id bigint REFERENCES shop.orders(id), sku varchar(32), quantity integer)`,
	`CREATE VIEW shop.big_orders AS SELECT id, customer_id FROM shop.orders WHERE total > 500`,
	`INSERT INTO shop.customers SELECT g, 'customer-' || g FROM generate_series(1, 100) g`,
	`INSERT INTO shop.orders SELECT g, g % 100 + 1, timestamptz '2026-01-01' + g * interval '1 hour', (g * 37) % 1000 FROM generate_series(1, 1000) g`,
	`INSERT INTO shop.order_items SELECT g, CASE WHEN g % 3 = 0 THEN NULL ELSE (g * 7) % 1000 + 1 END, 'sku-' || (g % 17), g % 5 + 1 FROM generate_series(1, 5000) g`,
}

// Warehouse is a seeded PostgreSQL container.
type Warehouse struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	Host      string
	Port      int
}

// ConnectionMap returns the source adapter connection map for the warehouse.
func (w *Warehouse) ConnectionMap() map[string]any {
	return map[string]any{
		"host":     w.Host,
		"port":     w.Port,
		"user":     warehouseUser,
		"password": warehousePassword,
		"database": warehouseDatabase,
		"ssl_mode": "disable",
	}
}

var (
	sharedWarehouse     *Warehouse
	sharedWarehouseOnce sync.Once
	sharedWarehouseErr  error
)

// GetWarehouse returns a shared PostgreSQL container seeded with the shop schema.
// The container is created once and reused across all tests in the run.
func GetWarehouse(t *testing.T) *Warehouse {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedWarehouseOnce.Do(func() {
		sharedWarehouse, sharedWarehouseErr = setupWarehouse()
	})

	if sharedWarehouseErr != nil {
		t.Fatalf("Failed to setup warehouse: %v", sharedWarehouseErr)
	}

	return sharedWarehouse
}

func setupWarehouse() (*Warehouse, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       warehouseDatabase,
			"POSTGRES_USER":     warehouseUser,
			"POSTGRES_PASSWORD": warehousePassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start warehouse container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		warehouseUser, warehousePassword, host, port.Port(), warehouseDatabase)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	for _, stmt := range warehouseSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to seed warehouse: %w", err)
		}
	}

	return &Warehouse{
		Container: container,
		Pool:      pool,
		Host:      host,
		Port:      port.Int(),
	}, nil
}

// ClickHouse is a running ClickHouse container used as a sample target.
type ClickHouse struct {
	Container *clickhouse.ClickHouseContainer
	Host      string
	Port      int
}

// ConnectionMap returns the target adapter connection map for the container.
func (c *ClickHouse) ConnectionMap() map[string]any {
	return map[string]any{
		"host":     c.Host,
		"port":     c.Port,
		"user":     "default",
		"password": "",
		"database": "default",
	}
}

var (
	sharedClickHouse     *ClickHouse
	sharedClickHouseOnce sync.Once
	sharedClickHouseErr  error
)

// GetClickHouse returns a shared ClickHouse container.
func GetClickHouse(t *testing.T) *ClickHouse {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedClickHouseOnce.Do(func() {
		sharedClickHouse, sharedClickHouseErr = setupClickHouse()
	})

	if sharedClickHouseErr != nil {
		t.Fatalf("Failed to setup ClickHouse: %v", sharedClickHouseErr)
	}

	return sharedClickHouse
}

func setupClickHouse() (*ClickHouse, error) {
	ctx := context.Background()

	container, err := clickhouse.Run(ctx, ClickHouseImage,
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		testcontainers.WithEnv(map[string]string{"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1"}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start ClickHouse container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		return nil, fmt.Errorf("failed to get native port: %w", err)
	}

	return &ClickHouse{Container: container, Host: host, Port: port.Int()}, nil
}
