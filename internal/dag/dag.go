// Package dag provides directed acyclic graph operations for ordering
// constraints between protections. It supports cycle detection and a
// deterministic topological sort.
package dag

import (
	"fmt"
	"slices"
	"strings"
)

// CycleError indicates that the graph contains a cycle, preventing
// topological ordering.
type CycleError struct {
	// Cycle lists the nodes of one cycle, starting and ending with the same node.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("ordering cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Node represents a node in the DAG.
type Node struct {
	// ID is the unique identifier (protection id)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph represents a directed acyclic graph. An edge from parent to child
// means parent must come before child.
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]string // parent -> children
	parents map[string][]string // child -> parents
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node to the graph, replacing the data of an existing node.
func (g *Graph) AddNode(id string, data any) {
	if n, exists := g.nodes[id]; exists {
		n.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
}

// AddEdge adds a directed edge from parent to child (parent comes first).
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return &CycleError{Cycle: []string{parentID, parentID}}
	}

	if !slices.Contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the nodes that must come before id, sorted.
func (g *Graph) GetParents(id string) []string {
	return sorted(g.parents[id])
}

// GetChildren returns the nodes that must come after id, sorted.
func (g *Graph) GetChildren(id string) []string {
	return sorted(g.edges[id])
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

func (g *Graph) ids() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// HasCycle returns true if the graph contains a cycle, along with the cycle
// path. Traversal follows sorted ids so the reported path is stable.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string
	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, childID := range sorted(g.edges[id]) {
			if !visited[childID] {
				if dfs(childID) {
					return true
				}
			} else if onStack[childID] {
				start := slices.Index(stack, childID)
				cyclePath = append(slices.Clone(stack[start:]), childID)
				return true
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
		return false
	}

	for _, id := range g.ids() {
		if !visited[id] && dfs(id) {
			return true, cyclePath
		}
	}
	return false, nil
}

// TopologicalSort returns nodes so that every parent precedes its children.
// Among unconstrained nodes the order is by id. Returns a *CycleError if the
// graph contains a cycle.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, &CycleError{Cycle: cyclePath}
	}

	visited := make(map[string]bool)
	result := make([]*Node, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, parentID := range sorted(g.parents[id]) {
			visit(parentID)
		}
		result = append(result, g.nodes[id])
	}

	for _, id := range g.ids() {
		visit(id)
	}
	return result, nil
}

// Subgraph returns a new graph containing only the specified nodes and the
// edges between them.
func (g *Graph) Subgraph(nodeIDs []string) *Graph {
	sub := NewGraph()
	for _, id := range nodeIDs {
		if node, exists := g.nodes[id]; exists {
			sub.AddNode(id, node.Data)
		}
	}
	for _, id := range nodeIDs {
		for _, childID := range g.edges[id] {
			if _, ok := sub.nodes[childID]; ok {
				_ = sub.AddEdge(id, childID)
			}
		}
	}
	return sub
}

func sorted(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}
