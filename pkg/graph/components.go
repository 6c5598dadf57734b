package graph

import "sort"

// stronglyConnected labels every relation with its strongly-connected component
// using Tarjan's algorithm over child -> parent edges.
func stronglyConnected(n int, edges []Edge) []int {
	adj := make([][]int, n)
	for _, e := range edges {
		adj[e.Child] = append(adj[e.Child], e.Parent)
	}

	t := &tarjan{
		adj:     adj,
		index:   make([]int, n),
		lowlink: make([]int, n),
		onStack: make([]bool, n),
		comp:    make([]int, n),
	}
	for i := range t.index {
		t.index[i] = -1
	}
	for v := 0; v < n; v++ {
		if t.index[v] == -1 {
			t.strongConnect(v)
		}
	}
	return t.comp
}

type tarjan struct {
	adj     [][]int
	index   []int
	lowlink []int
	onStack []bool
	stack   []int
	comp    []int
	next    int
	count   int
}

func (t *tarjan) strongConnect(v int) {
	t.index[v] = t.next
	t.lowlink[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.adj[v] {
		if t.index[w] == -1 {
			t.strongConnect(w)
			t.lowlink[v] = min(t.lowlink[v], t.lowlink[w])
		} else if t.onStack[w] {
			t.lowlink[v] = min(t.lowlink[v], t.index[w])
		}
	}

	if t.lowlink[v] != t.index[v] {
		return
	}
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		t.comp[w] = t.count
		if w == v {
			break
		}
	}
	t.count++
}

// weaklyConnected partitions relations into components, ignoring edge direction.
// Components are ordered by their smallest member and members are sorted.
func weaklyConnected(n int, edges []Edge) [][]int {
	neighbors := make([][]int, n)
	for _, e := range edges {
		neighbors[e.Child] = append(neighbors[e.Child], e.Parent)
		neighbors[e.Parent] = append(neighbors[e.Parent], e.Child)
	}

	visited := make([]bool, n)
	var components [][]int
	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		var component []int
		stack := []int{start}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[current] {
				continue
			}
			visited[current] = true
			component = append(component, current)
			for _, next := range neighbors[current] {
				if !visited[next] {
					stack = append(stack, next)
				}
			}
		}
		sort.Ints(component)
		components = append(components, component)
	}
	return components
}
