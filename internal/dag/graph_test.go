package dag

import (
	"testing"

	"github.com/eonseed/srbn/internal/srbnmodel"
)

func mustNode(id string) *Node {
	return &Node{ID: id, State: srbnmodel.StateTaskQueued}
}

func TestAddEdgeUnknownNode(t *testing.T) {
	g := New()
	if err := g.AddNode(mustNode("n1")); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge("n1", "missing", "depends_on"); err == nil {
		t.Fatal("expected error for unknown to-node")
	}
}

func TestAcyclicAfterEveryMutation(t *testing.T) {
	g := New()
	for _, id := range []string{"n1", "n2", "n3"} {
		if err := g.AddNode(mustNode(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.AddEdge("n1", "n2", "depends_on"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge("n2", "n3", "depends_on"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge("n3", "n1", "depends_on"); err == nil {
		t.Fatal("expected cycle rejection")
	}
	if g.HasCycle() {
		t.Fatal("rejected edge must not leave the graph cyclic")
	}
}

func TestTopologicalOrderDeterministic(t *testing.T) {
	g := New()
	for _, id := range []string{"n1", "n2"} {
		if err := g.AddNode(mustNode(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.AddEdge("n1", "n2", "depends_on"); err != nil {
		t.Fatal(err)
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "n1" || order[1] != "n2" {
		t.Fatalf("order = %v, want [n1 n2]", order)
	}
}

func TestTopologicalOrderStableTieBreak(t *testing.T) {
	g := New()
	// No edges at all: independent nodes, tie-break must follow insertion order.
	for _, id := range []string{"c", "a", "b"} {
		if err := g.AddNode(mustNode(id)); err != nil {
			t.Fatal(err)
		}
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestHasCycleFalseForLinearChain(t *testing.T) {
	g := New()
	for _, id := range []string{"n1", "n2", "n3"} {
		_ = g.AddNode(mustNode(id))
	}
	_ = g.AddEdge("n1", "n2", "depends_on")
	_ = g.AddEdge("n2", "n3", "depends_on")
	if g.HasCycle() {
		t.Fatal("linear chain must not be reported as cyclic")
	}
}
