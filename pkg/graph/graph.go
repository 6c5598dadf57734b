// Package graph builds the foreign-key dependency graphs that drive compilation and
// execution. Relations live in a per-graph arena addressed by integer index; edges
// run child -> parent and strongly-connected relations are grouped into cluster
// nodes so the node graph is always acyclic.
package graph

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// Edge is one foreign key between two relations of the same graph. Child owns the
// key, Parent is referenced by it.
type Edge struct {
	Child            int
	Parent           int
	Column           string
	ReferencedColumn string
}

// Node is a unit of scheduling: a single relation, or a cluster of relations that
// reference each other in a cycle.
type Node struct {
	ID      int
	Members []int
}

// IsCluster reports whether the node collapses more than one relation.
func (n Node) IsCluster() bool {
	return len(n.Members) > 1
}

// Binding ties one key-set placeholder of a compiled query to the child column whose
// extracted values fill it.
type Binding struct {
	Child        int
	ChildColumn  string
	ParentColumn string
}

// DependencyGraph is one weakly-connected component of the filtered catalog. Graphs
// never share relations; each owns its clones.
type DependencyGraph struct {
	ID int

	relations []*models.Relation
	index     map[models.RelationKey]int

	edges    []Edge
	incoming [][]int // relation -> indices into edges where it is the parent
	outgoing [][]int // relation -> indices into edges where it is the child

	nodes        []Node
	nodeOf       []int
	nodeParents  [][]int
	nodeChildren [][]int

	bindings        [][]Binding
	clusterBindings [][]Binding

	failed bool
	err    error
}

func (g *DependencyGraph) String() string {
	return fmt.Sprintf("<DependencyGraph %d: %d relations, %d nodes>", g.ID, len(g.relations), len(g.nodes))
}

// Len returns the number of relations.
func (g *DependencyGraph) Len() int {
	return len(g.relations)
}

// Relations returns the graph's relations in arena order (sorted by dot notation).
func (g *DependencyGraph) Relations() []*models.Relation {
	return g.relations
}

// Relation returns the relation stored at index i.
func (g *DependencyGraph) Relation(i int) *models.Relation {
	return g.relations[i]
}

// IndexOf returns the arena index of the relation with the given identity.
func (g *DependencyGraph) IndexOf(key models.RelationKey) (int, bool) {
	i, ok := g.index[key]
	return i, ok
}

// Edges returns every edge sorted by child, then parent, then column.
func (g *DependencyGraph) Edges() []Edge {
	return g.edges
}

// IncomingEdges returns the edges that reference relation i, in child order.
func (g *DependencyGraph) IncomingEdges(i int) []Edge {
	out := make([]Edge, len(g.incoming[i]))
	for k, e := range g.incoming[i] {
		out[k] = g.edges[e]
	}
	return out
}

// OutgoingEdges returns the edges owned by relation i, in parent order.
func (g *DependencyGraph) OutgoingEdges(i int) []Edge {
	out := make([]Edge, len(g.outgoing[i]))
	for k, e := range g.outgoing[i] {
		out[k] = g.edges[e]
	}
	return out
}

// ParentsOf returns the distinct relations referenced by relation i.
func (g *DependencyGraph) ParentsOf(i int) []int {
	return distinctEnds(g.edges, g.outgoing[i], func(e Edge) int { return e.Parent })
}

// ChildrenOf returns the distinct relations that reference relation i.
func (g *DependencyGraph) ChildrenOf(i int) []int {
	return distinctEnds(g.edges, g.incoming[i], func(e Edge) int { return e.Child })
}

func distinctEnds(edges []Edge, idx []int, end func(Edge) int) []int {
	seen := make(map[int]bool, len(idx))
	var out []int
	for _, e := range idx {
		n := end(edges[e])
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// Nodes returns the condensed nodes ordered by their first member.
func (g *DependencyGraph) Nodes() []Node {
	return g.nodes
}

// NodeOf returns the node ID that relation i belongs to.
func (g *DependencyGraph) NodeOf(i int) int {
	return g.nodeOf[i]
}

// NodeParents returns the nodes referenced by node n, excluding n itself.
func (g *DependencyGraph) NodeParents(n int) []int {
	return g.nodeParents[n]
}

// NodeChildren returns the nodes that reference node n, excluding n itself.
func (g *DependencyGraph) NodeChildren(n int) []int {
	return g.nodeChildren[n]
}

// ReverseTopologicalOrder returns node IDs so that every node appears after all of
// the nodes that reference it. Nodes nothing references come first. Ties are
// broken by node ID, so the order is stable for a given catalog.
func (g *DependencyGraph) ReverseTopologicalOrder() []int {
	order, _ := g.kahn()
	return order
}

// HasCycle reports whether the node graph contains a cycle. Cycles are always
// collapsed into clusters during Build, so this is false for every built graph.
func (g *DependencyGraph) HasCycle() bool {
	_, complete := g.kahn()
	return !complete
}

func (g *DependencyGraph) kahn() ([]int, bool) {
	pending := make([]int, len(g.nodes))
	var queue []int
	for n := range g.nodes {
		pending[n] = len(g.nodeChildren[n])
		if pending[n] == 0 {
			queue = append(queue, n)
		}
	}

	order := make([]int, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, p := range g.nodeParents[n] {
			pending[p]--
			if pending[p] == 0 {
				queue = append(queue, p)
			}
		}
	}
	return order, len(order) == len(g.nodes)
}

// Bindings returns the key-set bindings the compiler recorded for relation i.
func (g *DependencyGraph) Bindings(i int) []Binding {
	return g.bindings[i]
}

// SetBindings records the key-set bindings of relation i in placeholder order.
func (g *DependencyGraph) SetBindings(i int, b []Binding) {
	g.bindings[i] = b
}

// ClusterBindings returns the bindings of relation i to the members of its own
// cluster that reference it. They drive the closure query, not CompiledQuery.
func (g *DependencyGraph) ClusterBindings(i int) []Binding {
	return g.clusterBindings[i]
}

// SetClusterBindings records the intra-cluster bindings of relation i in
// placeholder order of its ClosureQuery.
func (g *DependencyGraph) SetClusterBindings(i int, b []Binding) {
	g.clusterBindings[i] = b
}

// Fail marks the graph failed. Only the first error is kept.
func (g *DependencyGraph) Fail(err error) {
	if !g.failed {
		g.failed = true
		g.err = err
	}
}

// Failed reports whether any relation of the graph failed.
func (g *DependencyGraph) Failed() bool {
	return g.failed
}

// Err returns the first failure recorded on the graph.
func (g *DependencyGraph) Err() error {
	return g.err
}
