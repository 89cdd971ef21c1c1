// Package fkgraph models foreign-key relationships as an undirected table graph.
package fkgraph

import "github.com/duckmesh/askdb/internal/schema"

// DefaultFallbackSize is the number of tables Expand returns when none of the
// requested seeds exist.
const DefaultFallbackSize = 3

type Graph struct {
	// FallbackSize bounds the degraded result of Expand. Zero means DefaultFallbackSize.
	FallbackSize int

	order     []string
	known     map[string]bool
	adjacency map[string][]string
}

// Build adds an undirected edge T↔U for every foreign key declared on T that
// references U. Every table is a node, even without keys.
func Build(s schema.Schema) *Graph {
	g := &Graph{
		order:     make([]string, 0, len(s.Tables)),
		known:     make(map[string]bool, len(s.Tables)),
		adjacency: make(map[string][]string, len(s.Tables)),
	}
	for _, table := range s.Tables {
		if g.known[table.Name] {
			continue
		}
		g.known[table.Name] = true
		g.order = append(g.order, table.Name)
	}
	for _, table := range s.Tables {
		for _, fk := range table.ForeignKeys {
			if fk.RefTable == "" {
				continue
			}
			g.addEdge(table.Name, fk.RefTable)
			g.addEdge(fk.RefTable, table.Name)
		}
	}
	return g
}

func (g *Graph) addEdge(from, to string) {
	for _, existing := range g.adjacency[from] {
		if existing == to {
			return
		}
	}
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Neighbors returns the tables directly related to table.
func (g *Graph) Neighbors(table string) []string {
	out := make([]string, 0, len(g.adjacency[table]))
	for _, neighbor := range g.adjacency[table] {
		if g.known[neighbor] {
			out = append(out, neighbor)
		}
	}
	return out
}

// Expand runs a breadth-first traversal from all valid seeds at once and
// returns the seeds plus every table within hops edges, in schema order.
// When no seed exists the first FallbackSize tables are returned instead.
func (g *Graph) Expand(seeds []string, hops int) []string {
	type item struct {
		table string
		depth int
	}

	visited := make(map[string]bool, len(seeds))
	queue := make([]item, 0, len(seeds))
	for _, seed := range seeds {
		if !g.known[seed] || visited[seed] {
			continue
		}
		visited[seed] = true
		queue = append(queue, item{table: seed})
	}
	if len(queue) == 0 {
		return g.fallback()
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= hops {
			continue
		}
		for _, neighbor := range g.adjacency[current.table] {
			if visited[neighbor] || !g.known[neighbor] {
				continue
			}
			visited[neighbor] = true
			queue = append(queue, item{table: neighbor, depth: current.depth + 1})
		}
	}

	out := make([]string, 0, len(visited))
	for _, table := range g.order {
		if visited[table] {
			out = append(out, table)
		}
	}
	return out
}

// ShortestPath returns the tables on a shortest FK path from a to b, both
// included. It is empty when either table is unknown or unreachable.
func (g *Graph) ShortestPath(a, b string) []string {
	if !g.known[a] || !g.known[b] {
		return []string{}
	}
	if a == b {
		return []string{a}
	}

	parent := map[string]string{}
	visited := map[string]bool{a: true}
	queue := []string{a}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, neighbor := range g.adjacency[current] {
			if visited[neighbor] || !g.known[neighbor] {
				continue
			}
			visited[neighbor] = true
			parent[neighbor] = current
			if neighbor == b {
				return walkBack(parent, a, b)
			}
			queue = append(queue, neighbor)
		}
	}
	return []string{}
}

func walkBack(parent map[string]string, from, to string) []string {
	path := []string{to}
	for node := to; node != from; {
		node = parent[node]
		path = append(path, node)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func (g *Graph) fallback() []string {
	size := g.FallbackSize
	if size <= 0 {
		size = DefaultFallbackSize
	}
	if size > len(g.order) {
		size = len(g.order)
	}
	return append([]string(nil), g.order[:size]...)
}
