package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/compiler"
	"github.com/ekaya-inc/ekaya-replica/pkg/graph"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/retry"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
	"github.com/ekaya-inc/ekaya-replica/pkg/testhelpers"
)

var relationPattern = regexp.MustCompile(`FROM "db"\."([^"]+)"`)

// warehouse serves the fake source. Core queries return every row, restricted
// queries keep rows whose id is in any bound key set.
type warehouse struct {
	mu      sync.Mutex
	tables  map[string]*datasource.QueryResult
	errs    map[string]error
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	queried map[string]int
}

func newWarehouse() *warehouse {
	return &warehouse{
		tables:  map[string]*datasource.QueryResult{},
		errs:    map[string]error{},
		queried: map[string]int{},
	}
}

func (w *warehouse) add(name string, columns []string, rows ...[]any) {
	w.tables[name] = &datasource.QueryResult{Columns: columns, Rows: rows}
}

func (w *warehouse) query(ctx context.Context, database, q string, params []any, maxRows int) (*datasource.QueryResult, error) {
	n := w.active.Add(1)
	defer w.active.Add(-1)
	for {
		peak := w.peak.Load()
		if n <= peak || w.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if w.delay > 0 {
		time.Sleep(w.delay)
	}

	m := relationPattern.FindStringSubmatch(q)
	if m == nil {
		return nil, fmt.Errorf("no relation in %q", q)
	}
	name := m[1]

	w.mu.Lock()
	w.queried[name]++
	err := w.errs[name]
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}

	data := w.tables[name]
	if strings.HasPrefix(q, "SELECT (SELECT COUNT(*)") {
		return &datasource.QueryResult{
			Columns: []string{compiler.PopulationColumn, compiler.SampleColumn},
			Rows:    [][]any{{int64(len(data.Rows)), int64(len(data.Rows) / 2)}},
		}, nil
	}
	if strings.HasPrefix(q, "SELECT COUNT(*)") {
		return &datasource.QueryResult{Columns: []string{"count"}, Rows: [][]any{{int64(len(data.Rows))}}}, nil
	}

	rows := data.Rows
	if len(params) > 0 {
		allowed := map[string]bool{}
		for _, p := range params {
			var keys []string
			if err := json.Unmarshal([]byte(p.(string)), &keys); err != nil {
				return nil, err
			}
			for _, k := range keys {
				allowed[k] = true
			}
		}
		rows = nil
		for _, row := range data.Rows {
			if s, _ := datasource.KeyString(row[0]); allowed[s] {
				rows = append(rows, row)
			}
		}
	}
	if maxRows > 0 && len(rows) > maxRows {
		return nil, &apperrors.RowLimitExceededError{Limit: maxRows}
	}
	return &datasource.QueryResult{Columns: data.Columns, Rows: rows}, nil
}

func (w *warehouse) timesQueried(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queried[name]
}

var all = []models.Pattern{{Database: ".*", Schema: ".*", Relation: ".*"}}

func compileGraphs(t *testing.T, source *testhelpers.FakeSource, analyze bool, rels ...*models.Relation) []*graph.DependencyGraph {
	t.Helper()
	catalog, err := models.NewCatalog(rels)
	require.NoError(t, err)
	graphs, err := graph.NewBuilder(zaptest.NewLogger(t)).Build(catalog, all, nil)
	require.NoError(t, err)
	graphs, err = compiler.NewCompiler(zaptest.NewLogger(t)).Compile(context.Background(), graphs, source, sampling.Bernoulli{Probability: 0.5}, analyze)
	require.NoError(t, err)
	return graphs
}

func newRunner(t *testing.T) *Runner {
	return New(Config{
		MaxRows: 100,
		Retry:   &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}, zaptest.NewLogger(t))
}

func find(graphs []*graph.DependencyGraph, name string) (*graph.DependencyGraph, *models.Relation) {
	for _, g := range graphs {
		for _, rel := range g.Relations() {
			if rel.Name == name {
				return g, rel
			}
		}
	}
	return nil, nil
}

func ordersWarehouse() *warehouse {
	w := newWarehouse()
	w.add("customers", []string{"id"}, []any{int64(1)}, []any{int64(2)})
	w.add("orders", []string{"id"}, []any{int64(10)}, []any{int64(11)}, []any{int64(12)})
	w.add("order_items", []string{"id", "order_id"},
		[]any{int64(100), int64(10)},
		[]any{int64(101), int64(12)},
		[]any{int64(102), nil},
	)
	return w
}

func ordersRelations() []*models.Relation {
	return []*models.Relation{
		testhelpers.Relation("db", "main", "orders", []string{"id"}),
		testhelpers.Relation("db", "main", "customers", []string{"id"}),
		testhelpers.Relation("db", "main", "order_items", []string{"id", "order_id"}, "order_id->orders.id"),
	}
}

func TestExecute_ParentRestrictedToChildKeys(t *testing.T) {
	w := ordersWarehouse()
	source := testhelpers.NewFakeSource()
	source.QueryFunc = w.query
	target := testhelpers.NewFakeTarget()

	graphs := compileGraphs(t, source, false, ordersRelations()...)
	newRunner(t).Execute(context.Background(), graphs, source, target, 4, false)

	for _, g := range graphs {
		assert.False(t, g.Failed())
		for _, rel := range g.Relations() {
			assert.Equal(t, models.RelationStatusLoaded, rel.Status, rel.DotNotation())
			assert.True(t, rel.SourceExtracted)
			assert.True(t, rel.TargetLoaded)
			assert.LessOrEqual(t, rel.SampleSize, rel.PopulationSize)
		}
	}

	orders, ok := target.Loaded("db.main.orders")
	require.True(t, ok)
	assert.Equal(t, [][]any{{int64(10)}, {int64(12)}}, orders.Rows)

	_, ordersRel := find(graphs, "orders")
	assert.Equal(t, int64(3), ordersRel.PopulationSize)
	assert.Equal(t, int64(2), ordersRel.SampleSize)

	order := target.LoadOrder()
	assert.Less(t, indexOf(order, "db.main.order_items"), indexOf(order, "db.main.orders"))

	var bound []any
	for _, q := range source.Queries() {
		if strings.Contains(q.SQL, "json_each") {
			bound = q.Params
		}
	}
	assert.Equal(t, []any{`["10","12"]`}, bound, "NULL keys are not bound")
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestExecute_Analyze(t *testing.T) {
	w := ordersWarehouse()
	source := testhelpers.NewFakeSource()
	source.QueryFunc = w.query
	target := testhelpers.NewFakeTarget()

	graphs := compileGraphs(t, source, true, ordersRelations()...)
	newRunner(t).Execute(context.Background(), graphs, source, target, 2, true)

	assert.Zero(t, target.LoadCount())
	for _, g := range graphs {
		for _, rel := range g.Relations() {
			assert.False(t, rel.TargetLoaded, rel.DotNotation())
			assert.Equal(t, models.RelationStatusAnalyzed, rel.Status)
			assert.LessOrEqual(t, rel.SampleSize, rel.PopulationSize)
		}
	}
	_, orders := find(graphs, "orders")
	assert.Equal(t, int64(3), orders.PopulationSize)
	assert.Equal(t, int64(1), orders.SampleSize)
}

func TestExecute_AnalyzeWithoutTarget(t *testing.T) {
	w := ordersWarehouse()
	source := testhelpers.NewFakeSource()
	source.QueryFunc = w.query

	graphs := compileGraphs(t, source, true, ordersRelations()...)
	newRunner(t).Execute(context.Background(), graphs, source, nil, 2, true)
	for _, g := range graphs {
		assert.False(t, g.Failed())
	}
}

func TestExecute_FailureIsolatedToGraph(t *testing.T) {
	w := ordersWarehouse()
	source := testhelpers.NewFakeSource()
	source.QueryFunc = w.query
	target := testhelpers.NewFakeTarget()
	loadErr := errors.New("disk full")
	target.FailOn["db.main.order_items"] = loadErr

	graphs := compileGraphs(t, source, false, ordersRelations()...)
	newRunner(t).Execute(context.Background(), graphs, source, target, 4, false)

	failed, items := find(graphs, "order_items")
	assert.True(t, failed.Failed())
	assert.ErrorIs(t, failed.Err(), loadErr)
	assert.Equal(t, models.RelationStatusFailed, items.Status)
	assert.True(t, items.SourceExtracted)
	assert.False(t, items.TargetLoaded)

	_, orders := find(graphs, "orders")
	assert.Equal(t, models.RelationStatusSkipped, orders.Status)
	assert.ErrorIs(t, orders.Err, apperrors.ErrSkipped)
	assert.Zero(t, w.timesQueried("orders"), "nothing is dispatched after a failure")

	other, customers := find(graphs, "customers")
	assert.False(t, other.Failed())
	assert.Equal(t, models.RelationStatusLoaded, customers.Status)
	_, ok := target.Loaded("db.main.customers")
	assert.True(t, ok)
}

func TestExecute_RowLimitExceeded(t *testing.T) {
	w := newWarehouse()
	var rows [][]any
	for i := 0; i < 101; i++ {
		rows = append(rows, []any{int64(i)})
	}
	w.add("events", []string{"id"}, rows...)
	w.add("users", []string{"id"}, []any{int64(1)})

	source := testhelpers.NewFakeSource()
	source.QueryFunc = w.query
	target := testhelpers.NewFakeTarget()

	graphs := compileGraphs(t, source, false,
		testhelpers.Relation("db", "main", "events", []string{"id"}),
		testhelpers.Relation("db", "main", "users", []string{"id"}),
	)
	newRunner(t).Execute(context.Background(), graphs, source, target, 2, false)

	g, events := find(graphs, "events")
	assert.True(t, g.Failed())
	require.ErrorIs(t, events.Err, apperrors.ErrRowLimitExceeded)
	var limitErr *apperrors.RowLimitExceededError
	require.ErrorAs(t, events.Err, &limitErr)
	assert.Equal(t, "db.main.events", limitErr.Relation)
	assert.Equal(t, 100, limitErr.Limit)

	_, users := find(graphs, "users")
	assert.Equal(t, models.RelationStatusLoaded, users.Status)
}

func TestExecute_RetriesTransientErrors(t *testing.T) {
	w := ordersWarehouse()
	var calls atomic.Int32
	source := testhelpers.NewFakeSource()
	source.QueryFunc = func(ctx context.Context, database, q string, params []any, maxRows int) (*datasource.QueryResult, error) {
		if strings.Contains(q, `"customers"`) && calls.Add(1) == 1 {
			return nil, errors.New("read tcp: connection reset by peer")
		}
		return w.query(ctx, database, q, params, maxRows)
	}
	target := testhelpers.NewFakeTarget()

	graphs := compileGraphs(t, source, false, ordersRelations()...)
	newRunner(t).Execute(context.Background(), graphs, source, target, 4, false)

	g, customers := find(graphs, "customers")
	assert.False(t, g.Failed())
	assert.Equal(t, models.RelationStatusLoaded, customers.Status)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestExecute_PermanentErrorsAreNotRetried(t *testing.T) {
	w := ordersWarehouse()
	w.errs["customers"] = errors.New(`no such table: customers`)
	source := testhelpers.NewFakeSource()
	source.QueryFunc = w.query

	graphs := compileGraphs(t, source, false, ordersRelations()...)
	newRunner(t).Execute(context.Background(), graphs, source, testhelpers.NewFakeTarget(), 4, false)

	g, _ := find(graphs, "customers")
	assert.True(t, g.Failed())
	assert.Equal(t, 1, w.timesQueried("customers"))
}

func TestExecute_ClusterExtractedTogether(t *testing.T) {
	w := newWarehouse()
	w.add("a", []string{"id", "b_id"}, []any{int64(1), int64(2)})
	w.add("b", []string{"id", "a_id"}, []any{int64(2), int64(1)})
	w.add("c", []string{"id", "a_id"}, []any{int64(3), int64(1)})

	source := testhelpers.NewFakeSource()
	source.QueryFunc = w.query
	target := testhelpers.NewFakeTarget()

	graphs := compileGraphs(t, source, false,
		testhelpers.Relation("db", "main", "a", []string{"id", "b_id"}, "b_id->b.id"),
		testhelpers.Relation("db", "main", "b", []string{"id", "a_id"}, "a_id->a.id"),
		testhelpers.Relation("db", "main", "c", []string{"id", "a_id"}, "a_id->a.id"),
	)
	r := newRunner(t)
	var tick atomic.Int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }
	r.Execute(context.Background(), graphs, source, target, 4, false)

	_, a := find(graphs, "a")
	_, b := find(graphs, "b")
	_, c := find(graphs, "c")
	for _, rel := range []*models.Relation{a, b, c} {
		assert.Equal(t, models.RelationStatusLoaded, rel.Status, rel.Name)
	}
	assert.False(t, a.ExtractedAt.IsZero())
	assert.Equal(t, a.ExtractedAt, b.ExtractedAt, "cluster members share one extraction")
	assert.NotEqual(t, a.ExtractedAt, c.ExtractedAt)
	assert.True(t, c.ExtractedAt.Before(a.ExtractedAt), "the referencing relation runs first")
}

func TestExecute_ClusterClosedOverReferences(t *testing.T) {
	w := newWarehouse()
	w.add("a", []string{"id", "b_id"},
		[]any{int64(1), int64(20)},
		[]any{int64(2), int64(21)},
		[]any{int64(3), int64(22)},
		[]any{int64(4), int64(23)},
	)
	w.add("b", []string{"id", "a_id"},
		[]any{int64(20), int64(2)},
		[]any{int64(21), int64(3)},
		[]any{int64(22), nil},
		[]any{int64(23), int64(4)},
	)

	// Samples keep only the first row, so every other row must come from the
	// closure.
	source := testhelpers.NewFakeSource()
	source.QueryFunc = func(ctx context.Context, database, q string, params []any, maxRows int) (*datasource.QueryResult, error) {
		res, err := w.query(ctx, database, q, params, maxRows)
		if err == nil && strings.Contains(q, "random()") && len(res.Rows) > 1 {
			res.Rows = res.Rows[:1]
		}
		return res, err
	}
	target := testhelpers.NewFakeTarget()

	graphs := compileGraphs(t, source, false,
		testhelpers.Relation("db", "main", "a", []string{"id", "b_id"}, "b_id->b.id"),
		testhelpers.Relation("db", "main", "b", []string{"id", "a_id"}, "a_id->a.id"),
	)
	newRunner(t).Execute(context.Background(), graphs, source, target, 2, false)

	g, a := find(graphs, "a")
	_, b := find(graphs, "b")
	require.False(t, g.Failed(), "%v", g.Err())

	loadedA, ok := target.Loaded("db.main.a")
	require.True(t, ok)
	loadedB, ok := target.Loaded("db.main.b")
	require.True(t, ok)

	// a(1) -> b(20) -> a(2) -> b(21) -> a(3) -> b(22) ends the chain; a(4) and
	// b(23) are never referenced.
	assert.ElementsMatch(t, [][]any{{int64(1), int64(20)}, {int64(2), int64(21)}, {int64(3), int64(22)}}, loadedA.Rows)
	assert.ElementsMatch(t, [][]any{{int64(20), int64(2)}, {int64(21), int64(3)}, {int64(22), nil}}, loadedB.Rows)
	assert.Equal(t, int64(3), a.SampleSize)
	assert.Equal(t, int64(4), a.PopulationSize)
	assert.Equal(t, int64(3), b.SampleSize)
	assert.Equal(t, a.ExtractedAt, b.ExtractedAt)

	for _, q := range source.Queries() {
		if strings.Contains(q.SQL, "json_each") {
			for _, p := range q.Params {
				assert.NotEqual(t, "[]", p, "closure rounds only run when there are keys to fetch")
			}
		}
	}
}

func TestExecute_ClusterRowLimit(t *testing.T) {
	w := newWarehouse()
	var aRows, bRows [][]any
	for i := 0; i < 60; i++ {
		aRows = append(aRows, []any{int64(i), int64(1000 + i)})
		bRows = append(bRows, []any{int64(1000 + i), int64((i + 1) % 60)})
	}
	w.add("a", []string{"id", "b_id"}, aRows...)
	w.add("b", []string{"id", "a_id"}, bRows...)

	source := testhelpers.NewFakeSource()
	source.QueryFunc = func(ctx context.Context, database, q string, params []any, maxRows int) (*datasource.QueryResult, error) {
		res, err := w.query(ctx, database, q, params, maxRows)
		if err == nil && strings.Contains(q, "random()") && len(res.Rows) > 1 {
			res.Rows = res.Rows[:1]
		}
		return res, err
	}

	graphs := compileGraphs(t, source, false,
		testhelpers.Relation("db", "main", "a", []string{"id", "b_id"}, "b_id->b.id"),
		testhelpers.Relation("db", "main", "b", []string{"id", "a_id"}, "a_id->a.id"),
	)
	r := New(Config{MaxRows: 10, Retry: &retry.Config{MaxRetries: 0}}, zaptest.NewLogger(t))
	target := testhelpers.NewFakeTarget()
	r.Execute(context.Background(), graphs, source, target, 2, false)

	g, _ := find(graphs, "a")
	require.True(t, g.Failed())
	assert.ErrorIs(t, g.Err(), apperrors.ErrRowLimitExceeded)
	assert.Zero(t, target.LoadCount(), "nothing of a cluster is loaded before its closure completes")
}

func TestExecute_UnsampledRelationUnblocksParent(t *testing.T) {
	w := ordersWarehouse()
	source := testhelpers.NewFakeSource()
	source.QueryFunc = w.query
	target := testhelpers.NewFakeTarget()

	ext := testhelpers.Relation("db", "main", "order_items", []string{"id", "order_id"}, "order_id->orders.id")
	ext.Materialization = models.MaterializationExternal
	graphs := compileGraphs(t, source, false,
		testhelpers.Relation("db", "main", "orders", []string{"id"}),
		ext,
	)
	newRunner(t).Execute(context.Background(), graphs, source, target, 2, false)

	_, items := find(graphs, "order_items")
	assert.Equal(t, models.RelationStatusUnsampled, items.Status)
	assert.Zero(t, w.timesQueried("order_items"))

	_, orders := find(graphs, "orders")
	assert.Equal(t, models.RelationStatusLoaded, orders.Status)
	assert.Equal(t, int64(3), orders.SampleSize)
}

func TestExecute_SharedThreadLimit(t *testing.T) {
	w := newWarehouse()
	w.delay = 5 * time.Millisecond
	var rels []*models.Relation
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("t%02d", i)
		w.add(name, []string{"id"}, []any{int64(i)})
		rels = append(rels, testhelpers.Relation("db", "main", name, []string{"id"}))
	}
	source := testhelpers.NewFakeSource()
	source.QueryFunc = w.query

	graphs := compileGraphs(t, source, false, rels...)
	require.Len(t, graphs, 12)
	newRunner(t).Execute(context.Background(), graphs, source, testhelpers.NewFakeTarget(), 3, false)

	for _, g := range graphs {
		assert.False(t, g.Failed())
	}
	assert.LessOrEqual(t, w.peak.Load(), int32(3))
}

func TestExecute_CanceledContext(t *testing.T) {
	w := ordersWarehouse()
	source := testhelpers.NewFakeSource()
	source.QueryFunc = w.query
	graphs := compileGraphs(t, source, false, ordersRelations()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	newRunner(t).Execute(ctx, graphs, source, testhelpers.NewFakeTarget(), 1, false)

	for _, g := range graphs {
		assert.True(t, g.Failed())
		for _, rel := range g.Relations() {
			assert.Contains(t, []models.RelationStatus{models.RelationStatusFailed, models.RelationStatusSkipped}, rel.Status)
		}
	}
}
