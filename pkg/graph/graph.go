// SPDX-License-Identifier: Apache-2.0
// Package graph builds directed job-dependency graphs on demand from the
// workload-automation backend and answers structural, temporal and
// verification queries over them.
package graph

import (
	"sort"
	"time"
)

// Confidence classifies how an edge is known, in ascending strength.
// An edge's confidence is the maximum ever observed for it.
type Confidence int

const (
	ConfidenceUnknown Confidence = iota
	ConfidenceCoOccurrence
	ConfidenceInferred
	ConfidenceExplicit
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceExplicit:
		return "EXPLICIT"
	case ConfidenceInferred:
		return "INFERRED"
	case ConfidenceCoOccurrence:
		return "CO_OCCURRENCE"
	default:
		return "UNKNOWN"
	}
}

// RelationDependsOn is the relation attached to edges discovered through
// the backend's predecessor/successor endpoints.
const RelationDependsOn = "DEPENDS_ON"

// Edge is a directed dependency between two nodes. Source and Target are
// indices into the graph's node arena, never pointers.
type Edge struct {
	Source     int
	Target     int
	Relation   string
	FirstSeen  time.Time
	LastSeen   time.Time
	Evidence   map[string]struct{}
	Confidence Confidence
}

// Graph is an arena-backed directed graph. Nodes live in a vector and are
// referenced by index; adjacency lists hold edge indices. The layout keeps
// a graph cheap to copy into the TTL cache.
type Graph struct {
	nodes []string
	index map[string]int
	edges []Edge
	out   [][]int // node index -> outgoing edge indices
	in    [][]int // node index -> incoming edge indices

	edgeIndex map[[2]int]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		index:     make(map[string]int),
		edgeIndex: make(map[[2]int]int),
	}
}

// AddNode interns id and returns its index.
func (g *Graph) AddNode(id string) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, id)
	g.index[id] = i
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return i
}

// AddEdge records source→target, creating the nodes as needed. A repeat
// observation updates LastSeen, unions evidence and raises - never
// lowers - the edge's confidence.
func (g *Graph) AddEdge(source, target, relation string, confidence Confidence, evidence []string, at time.Time) {
	s := g.AddNode(source)
	t := g.AddNode(target)
	key := [2]int{s, t}

	if ei, ok := g.edgeIndex[key]; ok {
		e := &g.edges[ei]
		if at.After(e.LastSeen) {
			e.LastSeen = at
		}
		if confidence > e.Confidence {
			e.Confidence = confidence
		}
		for _, ev := range evidence {
			e.Evidence[ev] = struct{}{}
		}
		return
	}

	evSet := make(map[string]struct{}, len(evidence))
	for _, ev := range evidence {
		evSet[ev] = struct{}{}
	}
	ei := len(g.edges)
	g.edges = append(g.edges, Edge{
		Source:     s,
		Target:     t,
		Relation:   relation,
		FirstSeen:  at,
		LastSeen:   at,
		Evidence:   evSet,
		Confidence: confidence,
	})
	g.edgeIndex[key] = ei
	g.out[s] = append(g.out[s], ei)
	g.in[t] = append(g.in[t], ei)
}

// HasNode reports whether id is in the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Nodes returns all node identifiers in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// EdgeBetween returns the edge source→target if present.
func (g *Graph) EdgeBetween(source, target string) (Edge, bool) {
	s, ok := g.index[source]
	if !ok {
		return Edge{}, false
	}
	t, ok := g.index[target]
	if !ok {
		return Edge{}, false
	}
	ei, ok := g.edgeIndex[[2]int{s, t}]
	if !ok {
		return Edge{}, false
	}
	return g.edges[ei], true
}

// Successors returns the direct successors of id.
func (g *Graph) Successors(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.out[i]))
	for _, ei := range g.out[i] {
		out = append(out, g.nodes[g.edges[ei].Target])
	}
	return out
}

// Predecessors returns the direct predecessors of id.
func (g *Graph) Predecessors(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.in[i]))
	for _, ei := range g.in[i] {
		out = append(out, g.nodes[g.edges[ei].Source])
	}
	return out
}

// Descendants returns every node reachable from id, excluding id itself.
func (g *Graph) Descendants(id string) []string {
	return g.reach(id, g.out, func(e Edge) int { return e.Target })
}

// Ancestors returns every node that reaches id, excluding id itself.
func (g *Graph) Ancestors(id string) []string {
	return g.reach(id, g.in, func(e Edge) int { return e.Source })
}

func (g *Graph) reach(id string, adj [][]int, next func(Edge) int) []string {
	start, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := make(map[int]struct{})
	queue := []int{start}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ei := range adj[cur] {
			n := next(g.edges[ei])
			if _, dup := seen[n]; dup || n == start {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, g.nodes[n])
			queue = append(queue, n)
		}
	}
	sort.Strings(out)
	return out
}

// topoOrder returns a topological order of the node indices, or false when
// the graph contains a cycle.
func (g *Graph) topoOrder() ([]int, bool) {
	indeg := make([]int, len(g.nodes))
	for _, e := range g.edges {
		indeg[e.Target]++
	}
	queue := make([]int, 0, len(g.nodes))
	for i, d := range indeg {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, len(g.nodes))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, ei := range g.out[cur] {
			t := g.edges[ei].Target
			indeg[t]--
			if indeg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	return order, len(order) == len(g.nodes)
}
