//go:build integration

package replica

import (
	"context"
	"fmt"
	"testing"

	chdriver "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource/clickhouse"
	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-replica/pkg/config"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/report"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
	"github.com/ekaya-inc/ekaya-replica/pkg/testhelpers"
)

func warehouseRegistry() *datasource.Registry {
	reg := datasource.NewRegistry()
	reg.Register(postgres.Registration())
	reg.Register(clickhouse.Registration())
	return reg
}

func warehouseConfig(w *testhelpers.Warehouse, target config.TargetConfig) *config.Config {
	return &config.Config{
		Threads:      4,
		MaxDatabases: 50,
		MaxRows:      100_000,
		Source: config.SourceConfig{
			Adapter:      "postgres",
			Connection:   w.ConnectionMap(),
			SampleMethod: sampling.MethodBernoulli,
			Probability:  0.1,
			Include:      []models.Pattern{{Database: "warehouse", Schema: "shop", Relation: ".*"}},
		},
		Target: target,
	}
}

func TestIntegration_PostgresToClickHouse(t *testing.T) {
	w := testhelpers.GetWarehouse(t)
	ch := testhelpers.GetClickHouse(t)
	ctx := context.Background()

	cfg := warehouseConfig(w, config.TargetConfig{Adapter: "clickhouse", Connection: ch.ConnectionMap()})
	r, err := New(cfg, warehouseRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := r.Run(ctx)
	require.NoError(t, err)
	require.False(t, result.Failed(), "%+v", result.Rows)
	assert.Equal(t, 4, result.Summary.Relations)
	assert.Equal(t, 4, result.Summary.Loaded)

	conn, err := chdriver.Open(&chdriver.Options{
		Addr: []string{fmt.Sprintf("%s:%d", ch.Host, ch.Port)},
		Auth: chdriver.Auth{Database: "default", Username: "default"},
	})
	require.NoError(t, err)
	defer conn.Close()

	keys := func(query string) map[int64]bool {
		rows, err := conn.Query(ctx, query)
		require.NoError(t, err)
		defer rows.Close()
		out := map[int64]bool{}
		for rows.Next() {
			var v int64
			require.NoError(t, rows.Scan(&v))
			out[v] = true
		}
		require.NoError(t, rows.Err())
		return out
	}

	referencedOrders := keys(`SELECT DISTINCT assumeNotNull(order_id) FROM warehouse__shop.order_items WHERE order_id IS NOT NULL`)
	orders := keys(`SELECT id FROM warehouse__shop.orders`)
	require.NotEmpty(t, referencedOrders)
	assert.Equal(t, referencedOrders, orders)

	referencedCustomers := keys(`SELECT DISTINCT customer_id FROM warehouse__shop.orders`)
	customers := keys(`SELECT id FROM warehouse__shop.customers`)
	assert.Equal(t, referencedCustomers, customers)
}

func TestIntegration_PostgresAnalyze(t *testing.T) {
	w := testhelpers.GetWarehouse(t)

	cfg := warehouseConfig(w, config.TargetConfig{})
	r, err := New(cfg, warehouseRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := r.Analyze(context.Background())
	require.NoError(t, err)

	byName := map[string]report.Row{}
	for _, row := range result.Rows {
		byName[row.Relation] = row
	}
	assert.Equal(t, int64(5000), byName["warehouse.shop.order_items"].PopulationSize)
	assert.Equal(t, int64(1000), byName["warehouse.shop.orders"].PopulationSize)
	assert.Equal(t, int64(100), byName["warehouse.shop.customers"].PopulationSize)
	assert.Equal(t, "view", byName["warehouse.shop.big_orders"].Materialization)
	for _, row := range result.Rows {
		assert.LessOrEqual(t, row.SampleSize, row.PopulationSize, row.Relation)
	}
}
