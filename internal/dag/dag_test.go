package dag

import (
	"errors"
	"testing"
)

func newTestGraph(ids ...string) *Graph {
	g := NewGraph()
	for _, id := range ids {
		g.AddNode(id, nil)
	}
	return g
}

func positions(nodes []*Node) map[string]int {
	pos := make(map[string]int, len(nodes))
	for i, n := range nodes {
		pos[n.ID] = i
	}
	return pos
}

func TestGraph_AddEdge_InvalidNodes(t *testing.T) {
	g := newTestGraph("ref proxy")

	if err := g.AddEdge("ref proxy", "nonexistent"); err == nil {
		t.Error("expected error for nonexistent child node")
	}
	if err := g.AddEdge("nonexistent", "ref proxy"); err == nil {
		t.Error("expected error for nonexistent parent node")
	}
}

func TestGraph_AddEdge_SelfLoop(t *testing.T) {
	g := newTestGraph("rename")

	err := g.AddEdge("rename", "rename")
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycle.Cycle) != 2 {
		t.Errorf("expected two-element cycle, got %v", cycle.Cycle)
	}
}

func TestGraph_GetParentsAndChildren(t *testing.T) {
	g := newTestGraph("a", "b", "c")
	_ = g.AddEdge("a", "c")
	_ = g.AddEdge("b", "c")
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("a", "b") // duplicate

	if got := g.GetParents("c"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected sorted parents [a b], got %v", got)
	}
	if got := g.GetChildren("a"); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("expected sorted children [b c], got %v", got)
	}
}

func TestGraph_HasCycle(t *testing.T) {
	g := newTestGraph("a", "b", "c")
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("b", "c")

	if hasCycle, path := g.HasCycle(); hasCycle {
		t.Fatalf("expected no cycle, but found: %v", path)
	}

	_ = g.AddEdge("c", "a")
	hasCycle, path := g.HasCycle()
	if !hasCycle {
		t.Fatal("expected cycle to be detected")
	}
	want := []string{"a", "b", "c", "a"}
	if len(path) != len(want) {
		t.Fatalf("expected path %v, got %v", want, path)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("expected path %v, got %v", want, path)
		}
	}
}

func TestGraph_TopologicalSort_Diamond(t *testing.T) {
	g := newTestGraph("d", "c", "b", "a")
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("a", "c")
	_ = g.AddEdge("b", "d")
	_ = g.AddEdge("c", "d")

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("failed to sort: %v", err)
	}
	got := ""
	for _, n := range sorted {
		got += n.ID
	}
	if got != "abcd" {
		t.Errorf("expected order abcd, got %s", got)
	}
}

func TestGraph_TopologicalSort_ParentsFirst(t *testing.T) {
	g := newTestGraph("anti ildasm", "ref proxy", "rename", "constants")
	_ = g.AddEdge("ref proxy", "rename")
	_ = g.AddEdge("ref proxy", "anti ildasm")

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("failed to sort: %v", err)
	}
	pos := positions(sorted)
	if pos["ref proxy"] >= pos["rename"] || pos["ref proxy"] >= pos["anti ildasm"] {
		t.Errorf("ref proxy should come first, got %v", pos)
	}
	want := []string{"ref proxy", "anti ildasm", "constants", "rename"}
	for i, id := range want {
		if pos[id] != i {
			t.Errorf("expected order %v, got %v", want, pos)
			break
		}
	}
}

func TestGraph_TopologicalSort_WithCycle(t *testing.T) {
	g := newTestGraph("a", "b")
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("b", "a")

	_, err := g.TopologicalSort()
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if cycle.Error() != "ordering cycle detected: a -> b -> a" {
		t.Errorf("unexpected message %q", cycle.Error())
	}
}

func TestGraph_Subgraph(t *testing.T) {
	g := newTestGraph("a", "b", "c")
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("b", "c")

	sub := g.Subgraph([]string{"a", "c", "missing"})
	if sub.NodeCount() != 2 {
		t.Fatalf("expected 2 nodes, got %d", sub.NodeCount())
	}
	if len(sub.GetChildren("a")) != 0 {
		t.Error("edge through an excluded node must not survive")
	}
}

func TestGraph_AddNode_UpdatesData(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", 1)
	g.AddNode("a", 2)
	n, ok := g.GetNode("a")
	if !ok || n.Data != 2 {
		t.Errorf("expected updated data, got %+v", n)
	}
	if g.NodeCount() != 1 {
		t.Errorf("expected 1 node, got %d", g.NodeCount())
	}
}
