// Package runner executes compiled dependency graphs against a source and target.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/compiler"
	"github.com/ekaya-inc/ekaya-replica/pkg/graph"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/retry"
	"github.com/ekaya-inc/ekaya-replica/pkg/workerpool"
)

// DefaultMaxRows is the extraction guard used when Config.MaxRows is zero.
const DefaultMaxRows = 1_000_000

// Source is the part of a source adapter the runner needs.
type Source interface {
	SelectQuery(rel *models.Relation) string
	KeyText(v any, dt models.DataType) (string, bool)
	Query(ctx context.Context, database, sqlQuery string, params []any, maxRows int) (*datasource.QueryResult, error)
}

// Target loads extracted rows. It is unused in analyze mode and may be nil there.
type Target interface {
	CreateAndLoad(ctx context.Context, rel *models.Relation, data *datasource.QueryResult) error
}

// Config configures a Runner.
type Config struct {
	MaxRows int           // per-relation extraction guard
	Retry   *retry.Config // nil uses retry.DefaultConfig
}

// Runner schedules relation tasks from every graph on one shared worker pool.
type Runner struct {
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a runner.
func New(config Config, logger *zap.Logger) *Runner {
	if config.MaxRows == 0 {
		config.MaxRows = DefaultMaxRows
	}
	if config.Retry == nil {
		config.Retry = retry.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{config: config, logger: logger.Named("runner"), now: time.Now}
}

// Execute runs every graph concurrently and returns them with progress recorded on
// each relation. At most threads relation tasks run at once across all graphs.
// A failing relation fails its graph: nothing further is dispatched in that graph,
// in-flight work drains and untouched relations are marked skipped. Other graphs
// are unaffected. Per-relation errors are recorded, never returned.
func (r *Runner) Execute(ctx context.Context, graphs []*graph.DependencyGraph, source Source, target Target, threads int, analyze bool) []*graph.DependencyGraph {
	pool := workerpool.New(workerpool.Config{MaxConcurrent: threads}, r.logger)

	r.logger.Info("Executing dependency graphs",
		zap.Int("graphs", len(graphs)),
		zap.Int("threads", pool.Size()),
		zap.Bool("analyze", analyze),
	)

	var wg sync.WaitGroup
	for _, g := range graphs {
		wg.Add(1)
		go func(g *graph.DependencyGraph) {
			defer wg.Done()
			c := &coordinator{runner: r, graph: g, pool: pool, source: source, target: target, analyze: analyze}
			c.run(ctx)
		}(g)
	}
	wg.Wait()
	return graphs
}

// coordinator owns one graph for the run. It is the only goroutine that writes to
// the graph's relations; workers report back over a channel.
type coordinator struct {
	runner  *Runner
	graph   *graph.DependencyGraph
	pool    *workerpool.WorkerPool
	source  Source
	target  Target
	analyze bool

	// keys[relation][column] holds the distinct non-null values extracted for a
	// foreign key column, ready to bind into a parent's query.
	keys map[int]map[string][]string
}

// task is everything a worker needs for one node, prepared by the coordinator.
type task struct {
	node    graph.Node
	members []memberTask
}

type memberTask struct {
	index      int
	rel        *models.Relation
	params     []any
	keyColumns []string
	keyTypes   map[string]models.DataType
	closure    []graph.Binding
}

type memberResult struct {
	index       int
	population  int64
	sample      int64
	extracted   bool
	loaded      bool
	extractedAt time.Time
	keys        map[string][]string
	err         error
}

type nodeResult struct {
	node    int
	members []memberResult
	err     error
}

func (c *coordinator) run(ctx context.Context) {
	g := c.graph
	logger := c.runner.logger.With(zap.Int("graph", g.ID))
	start := c.runner.now()
	c.keys = make(map[int]map[string][]string)

	pending := make([]int, len(g.Nodes()))
	var ready []int
	for _, n := range g.ReverseTopologicalOrder() {
		pending[n] = len(g.NodeChildren(n))
		if pending[n] == 0 {
			ready = append(ready, n)
		}
	}

	results := make(chan nodeResult, len(g.Nodes()))
	inflight := 0
	for {
		for !g.Failed() && len(ready) > 0 {
			n := ready[0]
			ready = ready[1:]
			t := c.prepare(n)
			inflight++
			c.pool.Go(ctx, func(ctx context.Context) error {
				res := c.execute(ctx, t)
				results <- res
				return nil
			}, func(err error) {
				if err != nil {
					results <- nodeResult{node: n, err: err}
				}
			})
		}
		if inflight == 0 {
			break
		}

		res := <-results
		inflight--
		if c.record(res) {
			for _, p := range g.NodeParents(res.node) {
				pending[p]--
				if pending[p] == 0 {
					ready = append(ready, p)
				}
			}
			sort.Ints(ready)
		}
	}

	skipped := 0
	for _, rel := range g.Relations() {
		if rel.Status == models.RelationStatusPending {
			rel.Status = models.RelationStatusSkipped
			rel.Err = apperrors.ErrSkipped
			skipped++
		}
	}

	fields := []zap.Field{zap.Int("relations", g.Len()), zap.Duration("elapsed", c.runner.now().Sub(start))}
	if g.Failed() {
		logger.Error("Dependency graph failed",
			append(fields, zap.Int("skipped", skipped), zap.String("error", logging.SanitizeError(g.Err())))...)
		return
	}
	logger.Info("Dependency graph completed", fields...)
}

// prepare builds the key-set parameters of every member from the values its
// children reported.
func (c *coordinator) prepare(n int) task {
	g := c.graph
	node := g.Nodes()[n]
	t := task{node: node}
	for _, i := range node.Members {
		rel := g.Relation(i)
		mt := memberTask{index: i, rel: rel, keyTypes: make(map[string]models.DataType)}
		if !c.analyze {
			for _, b := range g.Bindings(i) {
				mt.params = append(mt.params, keySetParam(c.keys[b.Child][b.ChildColumn]))
			}
			for _, e := range g.OutgoingEdges(i) {
				mt.keyColumns = appendUnique(mt.keyColumns, e.Column)
				mt.keyTypes[e.Column] = columnType(rel, e.Column)
			}
			mt.closure = g.ClusterBindings(i)
			for _, b := range mt.closure {
				mt.keyTypes[b.ParentColumn] = columnType(rel, b.ParentColumn)
			}
		}
		t.members = append(t.members, mt)
	}
	return t
}

func columnType(rel *models.Relation, column string) models.DataType {
	if attr, ok := rel.LookupAttribute(column); ok {
		return attr.DataType
	}
	return models.DataTypeVariant
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func keySetParam(keys []string) string {
	if keys == nil {
		keys = []string{}
	}
	b, _ := json.Marshal(keys)
	return string(b)
}

// record applies a node's outcome to the graph. It reports whether the node
// completed and may unblock its parents.
func (c *coordinator) record(res nodeResult) bool {
	g := c.graph
	if res.err != nil {
		for _, i := range g.Nodes()[res.node].Members {
			g.Relation(i).Fail(res.err)
		}
		g.Fail(res.err)
		return false
	}

	ok := true
	for _, m := range res.members {
		rel := g.Relation(m.index)
		rel.PopulationSize = m.population
		rel.SampleSize = m.sample
		rel.SourceExtracted = m.extracted
		rel.TargetLoaded = m.loaded
		rel.ExtractedAt = m.extractedAt
		switch {
		case m.err != nil:
			rel.Fail(m.err)
			g.Fail(m.err)
			ok = false
			c.runner.logger.Error("Relation failed",
				zap.Int("graph", g.ID),
				zap.String("relation", rel.DotNotation()),
				zap.String("error", logging.SanitizeError(m.err)),
			)
		case rel.Unsampled:
			rel.Status = models.RelationStatusUnsampled
		case c.analyze:
			rel.Status = models.RelationStatusAnalyzed
		case m.loaded:
			rel.Status = models.RelationStatusLoaded
		default:
			rel.Status = models.RelationStatusExtracted
		}
		if m.keys != nil {
			c.keys[m.index] = m.keys
		}
	}
	return ok
}

// execute runs on a worker. It reads the member relations but never writes them.
// Members of a cluster share one extraction timestamp; after the first failure
// the remaining members are left for the coordinator to skip.
func (c *coordinator) execute(ctx context.Context, t task) nodeResult {
	res := nodeResult{node: t.node.ID}
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}
	extractedAt := c.runner.now().UTC()
	if t.node.IsCluster() && !c.analyze {
		res.members = c.executeCluster(ctx, t, extractedAt)
		return res
	}
	for _, m := range t.members {
		if m.rel.Unsampled {
			res.members = append(res.members, memberResult{index: m.index})
			continue
		}
		mr := c.executeRelation(ctx, m)
		mr.extractedAt = extractedAt
		res.members = append(res.members, mr)
		if mr.err != nil {
			break
		}
	}
	return res
}

func (c *coordinator) executeRelation(ctx context.Context, m memberTask) memberResult {
	rel := m.rel
	mr := memberResult{index: m.index}
	logger := c.runner.logger.With(zap.Int("graph", c.graph.ID), zap.String("relation", rel.DotNotation()))

	if c.analyze {
		population, sample, err := c.analyzeRelation(ctx, rel)
		if err != nil {
			mr.err = err
			return mr
		}
		mr.population, mr.sample, mr.extracted = population, sample, true
		logger.Debug("Relation analyzed", zap.Int64("population", population), zap.Int64("sample", sample))
		return mr
	}

	population, err := c.count(ctx, rel)
	if err != nil {
		mr.err = fmt.Errorf("count population: %w", err)
		return mr
	}
	mr.population = population

	data, err := c.extract(ctx, rel, rel.CompiledQuery, m.params)
	if err != nil {
		mr.err = err
		return mr
	}
	mr.sample = int64(data.RowCount())
	mr.extracted = true
	mr.keys = c.extractKeys(data, m.keyColumns, m.keyTypes)

	if mr.err = c.load(ctx, rel, data); mr.err != nil {
		return mr
	}
	mr.loaded = true
	logger.Debug("Relation loaded", zap.Int64("population", population), zap.Int64("sample", mr.sample))
	return mr
}

// extract runs one bounded extraction query with retry.
func (c *coordinator) extract(ctx context.Context, rel *models.Relation, query string, params []any) (*datasource.QueryResult, error) {
	var data *datasource.QueryResult
	err := retry.DoIfRetryable(ctx, c.runner.config.Retry, func() error {
		var qerr error
		data, qerr = c.source.Query(ctx, rel.Database, query, params, c.runner.config.MaxRows)
		return qerr
	})
	if err != nil {
		var limitErr *apperrors.RowLimitExceededError
		if errors.As(err, &limitErr) {
			limitErr.Relation = rel.DotNotation()
		}
		c.runner.logger.Debug("Extraction failed",
			zap.Int("graph", c.graph.ID),
			zap.String("relation", rel.DotNotation()),
			zap.String("query", logging.SanitizeQuery(query)),
		)
		return nil, fmt.Errorf("extract: %w", err)
	}
	return data, nil
}

func (c *coordinator) load(ctx context.Context, rel *models.Relation, data *datasource.QueryResult) error {
	if err := retry.DoIfRetryable(ctx, c.runner.config.Retry, func() error {
		return c.target.CreateAndLoad(ctx, rel, data)
	}); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

func (c *coordinator) count(ctx context.Context, rel *models.Relation) (int64, error) {
	var n int64
	err := retry.DoIfRetryable(ctx, c.runner.config.Retry, func() error {
		res, err := c.source.Query(ctx, rel.Database, datasource.CountQuery(c.source.SelectQuery(rel)), nil, 0)
		if err != nil {
			return err
		}
		if res.RowCount() != 1 || len(res.Rows[0]) != 1 {
			return fmt.Errorf("count query returned %d rows", res.RowCount())
		}
		n, err = toInt64(res.Rows[0][0])
		return err
	})
	return n, err
}

func (c *coordinator) analyzeRelation(ctx context.Context, rel *models.Relation) (int64, int64, error) {
	var population, sample int64
	err := retry.DoIfRetryable(ctx, c.runner.config.Retry, func() error {
		res, err := c.source.Query(ctx, rel.Database, rel.CompiledQuery, nil, 0)
		if err != nil {
			return err
		}
		pi, si := res.ColumnIndex(compiler.PopulationColumn), res.ColumnIndex(compiler.SampleColumn)
		if res.RowCount() != 1 || pi < 0 || si < 0 {
			return fmt.Errorf("analyze query returned %d rows with columns %v", res.RowCount(), res.Columns)
		}
		if population, err = toInt64(res.Rows[0][pi]); err != nil {
			return err
		}
		sample, err = toInt64(res.Rows[0][si])
		return err
	})
	return population, sample, err
}

// extractKeys collects the distinct non-null values of each column as text the
// source can cast back to the column's type.
func (c *coordinator) extractKeys(data *datasource.QueryResult, columns []string, types map[string]models.DataType) map[string][]string {
	if len(columns) == 0 {
		return nil
	}
	keys := make(map[string][]string, len(columns))
	for _, col := range columns {
		keys[col] = c.columnKeys(data.Rows, data.ColumnIndex(col), types[col])
	}
	return keys
}

func (c *coordinator) columnKeys(rows [][]any, idx int, dt models.DataType) []string {
	values := []string{}
	if idx < 0 {
		return values
	}
	seen := make(map[string]bool)
	for _, row := range rows {
		s, ok := c.source.KeyText(row[idx], dt)
		if !ok || seen[s] {
			continue
		}
		seen[s] = true
		values = append(values, s)
	}
	sort.Strings(values)
	return values
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}
