// Package dag implements C5: a directed acyclic graph of session nodes with
// typed edges, deterministic topological iteration, and cycle detection.
// The orchestrator (C7) is the graph's sole owner for the lifetime of a
// session; every other component refers to a node by its string ID, never
// by a reference that outlives the graph.
package dag

import (
	"fmt"

	"github.com/eonseed/srbn/internal/srbnmodel"
)

// Edge is a typed dependency between two nodes, identified by ID.
type Edge struct {
	From string
	To   string
	Kind string // e.g. "depends_on"; diagnostic only, the scheduler treats all kinds uniformly
	// order records insertion sequence for deterministic tie-breaking during
	// topological sort; unexported because callers never need to set it.
	order int
}

// Graph is a directed acyclic graph over *Node values, referenced by ID. The zero value is not usable; use New.
type Graph struct {
	nodes     map[string]*Node
	nodeOrder []string // insertion order, for deterministic tie-breaks
	edges     []Edge
	adjOut    map[string][]int // node ID -> indices into edges, outgoing
	adjIn     map[string][]int // node ID -> indices into edges, incoming
}

// Node is a DAG node: the orchestrator's view of an SRBN node. Children
// and edge-based parents come from the graph's edges (Children/Parents);
// ParentID records only the node that expanded this one, if any.
type Node struct {
	ID             string
	Goal           string
	ContextFiles   []string
	OutputTargets  []string
	Contract       srbnmodel.BehavioralContract
	Tier           srbnmodel.ModelTier
	State          srbnmodel.NodeState
	ParentID       string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:  make(map[string]*Node),
		adjOut: make(map[string][]int),
		adjIn:  make(map[string][]int),
	}
}

// AddNode inserts a node. Returns an error if a node with the same ID
// already exists.
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("dag: node must have a non-empty ID")
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("dag: node %q already exists", n.ID)
	}
	g.nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
	return nil
}

// Node returns the node for the given ID, or nil if absent.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// AddEdge adds a typed edge from fromID to toID. Fails if either ID is
// unknown, or if adding the edge would introduce a cycle — the graph is
// acyclic after every successful mutation and after every failed one.
func (g *Graph) AddEdge(fromID, toID, kind string) error {
	if _, ok := g.nodes[fromID]; !ok {
		return fmt.Errorf("dag: unknown from-node %q", fromID)
	}
	if _, ok := g.nodes[toID]; !ok {
		return fmt.Errorf("dag: unknown to-node %q", toID)
	}
	idx := len(g.edges)
	e := Edge{From: fromID, To: toID, Kind: kind, order: idx}
	g.edges = append(g.edges, e)
	g.adjOut[fromID] = append(g.adjOut[fromID], idx)
	g.adjIn[toID] = append(g.adjIn[toID], idx)

	if g.HasCycle() {
		// Roll back: this edge must not have been added.
		g.edges = g.edges[:idx]
		g.adjOut[fromID] = g.adjOut[fromID][:len(g.adjOut[fromID])-1]
		g.adjIn[toID] = g.adjIn[toID][:len(g.adjIn[toID])-1]
		return fmt.Errorf("dag: adding edge %s->%s would introduce a cycle", fromID, toID)
	}
	return nil
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Parents returns the IDs of nodes with an edge into id, in insertion order.
func (g *Graph) Parents(id string) []string {
	var out []string
	for _, idx := range g.adjIn[id] {
		out = append(out, g.edges[idx].From)
	}
	return out
}

// Children returns the IDs of nodes with an edge from id, in insertion order.
func (g *Graph) Children(id string) []string {
	var out []string
	for _, idx := range g.adjOut[id] {
		out = append(out, g.edges[idx].To)
	}
	return out
}

// HasCycle reports whether the graph currently contains a cycle, via
// recursive DFS with a three-color (white/gray/black) visited set.
func (g *Graph) HasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		color[id] = white
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, idx := range g.adjOut[id] {
			next := g.edges[idx].To
			switch color[next] {
			case gray:
				return true // back edge: cycle
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.nodeOrder {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// TopologicalOrder returns node IDs in a deterministic topological order:
// Kahn's algorithm with ties broken by insertion order (the order nodes
// were added via AddNode). Returns an error if the graph contains a cycle.
func (g *Graph) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		inDegree[id] = len(g.adjIn[id])
	}

	// Ready set ordered by insertion order for determinism; a slice acting
	// as an ordered queue, refilled by scanning nodeOrder each round keeps
	// ties resolved by original insertion position rather than by when a
	// node's dependencies happened to clear.
	var ready []string
	seen := make(map[string]bool, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		if inDegree[id] == 0 {
			ready = append(ready, id)
			seen[id] = true
		}
	}

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, idx := range g.adjOut[id] {
			next := g.edges[idx].To
			inDegree[next]--
			if inDegree[next] == 0 && !seen[next] {
				seen[next] = true
				ready = insertSorted(ready, next, g.nodeOrder)
			}
		}
	}

	if len(order) != len(g.nodeOrder) {
		return nil, fmt.Errorf("dag: cycle detected, cannot produce topological order")
	}
	return order, nil
}

// insertSorted inserts id into ready keeping the slice ordered by each
// element's position in insertionOrder, so ties are always broken by
// insertion order regardless of which round a node became ready in.
func insertSorted(ready []string, id string, insertionOrder []string) []string {
	pos := indexOf(insertionOrder, id)
	for i, r := range ready {
		if indexOf(insertionOrder, r) > pos {
			out := make([]string, 0, len(ready)+1)
			out = append(out, ready[:i]...)
			out = append(out, id)
			out = append(out, ready[i:]...)
			return out
		}
	}
	return append(ready, id)
}

func indexOf(order []string, id string) int {
	for i, o := range order {
		if o == id {
			return i
		}
	}
	return len(order)
}
