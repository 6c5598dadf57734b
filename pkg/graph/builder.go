package graph

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Builder filters a catalog and partitions it into dependency graphs.
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a graph builder.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{logger: logger.Named("graph")}
}

// Filter returns the relations that match at least one include pattern and no
// exclude pattern, in catalog order.
func Filter(catalog *models.Catalog, include, exclude []*models.CompiledPattern) []*models.Relation {
	var out []*models.Relation
	for _, rel := range catalog.Relations() {
		if models.AtLeastOneFullPatternMatch(rel, include) && !models.AtLeastOneFullPatternMatch(rel, exclude) {
			out = append(out, rel)
		}
	}
	return out
}

// Build filters catalog and returns one DependencyGraph per weakly-connected
// component, ordered by the dot notation of each graph's first relation. The
// catalog is not modified; every graph holds its own clones.
func (b *Builder) Build(catalog *models.Catalog, include, exclude []models.Pattern) ([]*DependencyGraph, error) {
	inc, err := models.CompilePatterns(include)
	if err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	exc, err := models.CompilePatterns(exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}

	relations := Filter(catalog, inc, exc)
	b.logger.Info("Filtered catalog",
		zap.Int("catalog", catalog.Len()),
		zap.Int("included", len(relations)),
	)

	index := make(map[models.RelationKey]int, len(relations))
	for i, rel := range relations {
		index[rel.Key()] = i
	}

	edges := b.resolveEdges(relations, index)
	sccs := stronglyConnected(len(relations), edges)
	components := weaklyConnected(len(relations), edges)

	graphs := make([]*DependencyGraph, 0, len(components))
	for id, members := range components {
		graphs = append(graphs, assemble(id, members, relations, edges, sccs))
	}

	LogGraphs(graphs, len(edges), b.logger)
	return graphs, nil
}

// resolveEdges turns foreign keys into child -> parent edges between filtered
// relations. Keys pointing outside the filtered set, and self references, are
// dropped with a warning.
func (b *Builder) resolveEdges(relations []*models.Relation, index map[models.RelationKey]int) []Edge {
	var edges []Edge
	for child, rel := range relations {
		for _, fk := range rel.ForeignKeys {
			parent, ok := index[fk.ReferencedRelation]
			if !ok {
				b.logger.Warn("Dropping foreign key to relation outside the sample; integrity is not guaranteed",
					zap.String("relation", rel.DotNotation()),
					zap.String("column", fk.Column),
					zap.String("references", fk.ReferencedRelation.String()),
				)
				continue
			}
			if parent == child {
				b.logger.Warn("Ignoring self-referencing foreign key",
					zap.String("relation", rel.DotNotation()),
					zap.String("column", fk.Column),
				)
				continue
			}
			edges = append(edges, Edge{
				Child:            child,
				Parent:           parent,
				Column:           fk.Column,
				ReferencedColumn: fk.ReferencedColumn,
			})
		}
	}
	sortEdges(edges)
	return edges
}

func sortEdges(edges []Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Child != b.Child {
			return a.Child < b.Child
		}
		if a.Parent != b.Parent {
			return a.Parent < b.Parent
		}
		return a.Column < b.Column
	})
}

// assemble copies one component into its own arena and derives the node graph.
// members is sorted, so local indices keep dot-notation order.
func assemble(id int, members []int, relations []*models.Relation, edges []Edge, sccs []int) *DependencyGraph {
	local := make(map[int]int, len(members))
	g := &DependencyGraph{
		ID:              id,
		relations:       make([]*models.Relation, len(members)),
		index:           make(map[models.RelationKey]int, len(members)),
		incoming:        make([][]int, len(members)),
		outgoing:        make([][]int, len(members)),
		bindings:        make([][]Binding, len(members)),
		clusterBindings: make([][]Binding, len(members)),
		nodeOf:          make([]int, len(members)),
	}
	for i, global := range members {
		local[global] = i
		g.relations[i] = relations[global].Clone()
		g.index[g.relations[i].Key()] = i
	}

	for _, e := range edges {
		child, ok := local[e.Child]
		if !ok {
			continue
		}
		g.edges = append(g.edges, Edge{
			Child:            child,
			Parent:           local[e.Parent],
			Column:           e.Column,
			ReferencedColumn: e.ReferencedColumn,
		})
	}
	for i, e := range g.edges {
		g.outgoing[e.Child] = append(g.outgoing[e.Child], i)
		g.incoming[e.Parent] = append(g.incoming[e.Parent], i)
	}

	// Members are visited in local order, so nodes are numbered by first member.
	nodeBySCC := make(map[int]int)
	for i, global := range members {
		scc := sccs[global]
		n, ok := nodeBySCC[scc]
		if !ok {
			n = len(g.nodes)
			nodeBySCC[scc] = n
			g.nodes = append(g.nodes, Node{ID: n})
		}
		g.nodes[n].Members = append(g.nodes[n].Members, i)
		g.nodeOf[i] = n
	}

	g.nodeParents = make([][]int, len(g.nodes))
	g.nodeChildren = make([][]int, len(g.nodes))
	seen := make(map[[2]int]bool)
	for _, e := range g.edges {
		from, to := g.nodeOf[e.Child], g.nodeOf[e.Parent]
		if from == to || seen[[2]int{from, to}] {
			continue
		}
		seen[[2]int{from, to}] = true
		g.nodeParents[from] = append(g.nodeParents[from], to)
		g.nodeChildren[to] = append(g.nodeChildren[to], from)
	}
	for n := range g.nodes {
		sort.Ints(g.nodeParents[n])
		sort.Ints(g.nodeChildren[n])
	}
	return g
}

// LogGraphs logs the shape of the built graphs in a human-readable format.
func LogGraphs(graphs []*DependencyGraph, edgeCount int, logger *zap.Logger) {
	var islands []string
	clusters := 0
	logger.Info(fmt.Sprintf("Dependency graphs: %d graphs, %d foreign keys", len(graphs), edgeCount))

	for _, g := range graphs {
		for _, n := range g.Nodes() {
			if n.IsCluster() {
				clusters++
			}
		}
		if g.Len() == 1 {
			islands = append(islands, g.Relation(0).DotNotation())
			continue
		}

		names := make([]string, 0, 5)
		for _, rel := range g.Relations() {
			if len(names) == 5 {
				break
			}
			names = append(names, rel.DotNotation())
		}
		suffix := ""
		if g.Len() > 5 {
			suffix = fmt.Sprintf(", ... (%d more)", g.Len()-5)
		}
		logger.Debug(fmt.Sprintf("  Graph %d (%d relations): %v%s", g.ID, g.Len(), names, suffix))
	}

	if len(islands) > 0 {
		preview := islands
		suffix := ""
		if len(islands) > 5 {
			preview = islands[:5]
			suffix = fmt.Sprintf(", ... (%d more)", len(islands)-5)
		}
		logger.Debug(fmt.Sprintf("  Single relations (%d): %v%s", len(islands), preview, suffix))
	}
	if clusters > 0 {
		logger.Info(fmt.Sprintf("Collapsed %d foreign-key cycles into clusters", clusters))
	}
}
