// Package compiler attaches extraction queries to every relation of a dependency
// graph.
//
// Integrity flows from child to parent: a relation that other relations reference
// is restricted to the keys its sampled children actually point at, so no sampled
// row ever references a missing parent row. Children are compiled (and later
// executed) before their parents.
package compiler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/graph"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
)

// Column aliases of the analyze query.
const (
	PopulationColumn = "population_size"
	SampleColumn     = "sample_size"
)

// Source is the part of a source adapter the compiler needs.
type Source interface {
	datasource.Dialect
	Kind() string
	SupportedSampleMethods() []string
}

// Compiler renders queries with the source's dialect.
type Compiler struct {
	logger *zap.Logger
}

// NewCompiler creates a compiler.
func NewCompiler(logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{logger: logger.Named("compiler")}
}

// Compile sets CoreQuery and CompiledQuery on every sampleable relation of every
// graph, in place. It fails with *apperrors.UnsupportedSampleMethodError before
// touching any relation if the source cannot render method.
//
// In a full run a relation with sampled children gets a CompiledQuery selecting
// every row whose key appears in one of its children's extracted foreign key
// columns; each incoming foreign key is one bound JSON key set, recorded as a
// graph.Binding. Members of a cluster referenced by other members also get a
// ClosureQuery over those intra-cluster keys, which the runner repeats until
// the cluster's rows reference nothing outside it. In analyze mode CompiledQuery is a count query returning
// PopulationColumn and SampleColumn, with the children's restrictions inlined as
// sub-selects and no parameters.
func (c *Compiler) Compile(ctx context.Context, graphs []*graph.DependencyGraph, source Source, method sampling.Method, analyze bool) ([]*graph.DependencyGraph, error) {
	if !sampling.Supports(source.SupportedSampleMethods(), method) {
		return nil, &apperrors.UnsupportedSampleMethodError{
			Method:    method.Name(),
			Adapter:   source.Kind(),
			Supported: source.SupportedSampleMethods(),
		}
	}

	for _, g := range graphs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.compileGraph(g, source, method, analyze); err != nil {
			return nil, fmt.Errorf("graph %d: %w", g.ID, err)
		}
	}
	c.logger.Info("Compiled dependency graphs",
		zap.Int("graphs", len(graphs)),
		zap.String("method", method.String()),
		zap.Bool("analyze", analyze),
	)
	return graphs, nil
}

func (c *Compiler) compileGraph(g *graph.DependencyGraph, source Source, method sampling.Method, analyze bool) error {
	// restricted holds the select each compiled relation contributes to its
	// parents' analyze sub-selects.
	restricted := make(map[int]string, g.Len())

	for _, n := range g.ReverseTopologicalOrder() {
		node := g.Nodes()[n]
		for _, i := range node.Members {
			rel := g.Relation(i)
			if !sampleable(rel) {
				rel.Unsampled = true
				rel.Status = models.RelationStatusUnsampled
				c.logger.Info("Relation cannot be sampled",
					zap.String("relation", rel.DotNotation()),
					zap.String("materialization", string(rel.Materialization)),
					zap.Int("attributes", len(rel.Attributes)),
				)
				continue
			}

			core, err := source.SampleQuery(rel, method)
			if err != nil {
				return fmt.Errorf("relation %s: %w", rel.DotNotation(), err)
			}
			rel.CoreQuery = core

			edges := constrainingEdges(g, i)
			if analyze {
				query := core
				if len(edges) > 0 {
					query = analyzeRestriction(g, source, rel, edges, restricted)
				}
				restricted[i] = query
				rel.CompiledQuery = analyzeQuery(source.SelectQuery(rel), query)
			} else {
				bindings := toBindings(edges)
				g.SetBindings(i, bindings)
				rel.CompiledQuery = core
				if len(bindings) > 0 {
					rel.CompiledQuery = keySetRestriction(source, rel, bindings)
				}
				if cb := toBindings(clusterEdges(g, i)); len(cb) > 0 {
					g.SetClusterBindings(i, cb)
					rel.ClosureQuery = keySetRestriction(source, rel, cb)
				}
			}

			c.logger.Debug("Compiled relation",
				zap.String("relation", rel.DotNotation()),
				zap.Bool("cluster", node.IsCluster()),
				zap.Int("constraints", len(edges)),
				zap.String("query", logging.SanitizeQuery(rel.CompiledQuery)),
			)
		}
	}
	return nil
}

func sampleable(rel *models.Relation) bool {
	return len(rel.Attributes) > 0 && rel.Materialization.IsSampleable()
}

// constrainingEdges returns the incoming edges of relation i whose child lives in a
// different node and will be sampled. Edges inside a cluster go to clusterEdges.
func constrainingEdges(g *graph.DependencyGraph, i int) []graph.Edge {
	var out []graph.Edge
	for _, e := range g.IncomingEdges(i) {
		if g.NodeOf(e.Child) == g.NodeOf(i) {
			continue
		}
		if !sampleable(g.Relation(e.Child)) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// clusterEdges returns the incoming edges of relation i from sampled members of
// its own cluster.
func clusterEdges(g *graph.DependencyGraph, i int) []graph.Edge {
	var out []graph.Edge
	for _, e := range g.IncomingEdges(i) {
		if g.NodeOf(e.Child) != g.NodeOf(i) || !sampleable(g.Relation(e.Child)) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func toBindings(edges []graph.Edge) []graph.Binding {
	if len(edges) == 0 {
		return nil
	}
	bindings := make([]graph.Binding, len(edges))
	for k, e := range edges {
		bindings[k] = graph.Binding{Child: e.Child, ChildColumn: e.Column, ParentColumn: e.ReferencedColumn}
	}
	return bindings
}

// keySetRestriction selects every row of rel matching at least one bound key set.
func keySetRestriction(source Source, rel *models.Relation, bindings []graph.Binding) string {
	preds := make([]string, len(bindings))
	for k, b := range bindings {
		dt := models.DataTypeVariant
		if attr, ok := rel.LookupAttribute(b.ParentColumn); ok {
			dt = attr.DataType
		}
		preds[k] = "(" + source.KeySetPredicate(b.ParentColumn, dt, k+1) + ")"
	}
	return source.SelectQuery(rel) + " WHERE " + strings.Join(preds, " OR ")
}

// analyzeRestriction inlines each child's own restricted select as a sub-select.
func analyzeRestriction(g *graph.DependencyGraph, source Source, rel *models.Relation, edges []graph.Edge, restricted map[int]string) string {
	preds := make([]string, len(edges))
	for k, e := range edges {
		preds[k] = fmt.Sprintf("(%s IN (SELECT %s FROM (%s) AS _ref%d))",
			source.QuoteIdentifier(e.ReferencedColumn),
			source.QuoteIdentifier(e.Column),
			restricted[e.Child],
			k+1,
		)
	}
	return source.SelectQuery(rel) + " WHERE " + strings.Join(preds, " OR ")
}

func analyzeQuery(population, sample string) string {
	return fmt.Sprintf("SELECT (SELECT COUNT(*) FROM (%s) AS _population) AS %s, (SELECT COUNT(*) FROM (%s) AS _sample) AS %s",
		population, PopulationColumn, sample, SampleColumn)
}
