package orchestrator

import (
	"testing"

	"github.com/eonseed/srbn/internal/dag"
	"github.com/eonseed/srbn/internal/srbnmodel"
)

func newGraphWithRoot(t *testing.T) (*dag.Graph, string) {
	t.Helper()
	g := dag.New()
	root := &dag.Node{ID: "root", Goal: "build a thing", Tier: srbnmodel.TierArchitect, Contract: srbnmodel.NewBehavioralContract()}
	if err := g.AddNode(root); err != nil {
		t.Fatal(err)
	}
	return g, root.ID
}

func TestExpandSubgraphAddsNodesAndEdges(t *testing.T) {
	g, root := newGraphWithRoot(t)
	resp := `{
		"nodes": [
			{"id": "n1", "goal": "write the parser", "tier": "Actuator"},
			{"id": "n2", "goal": "write the tests", "tier": "Actuator"}
		],
		"edges": [
			{"from": "n1", "to": "n2", "kind": "depends_on"}
		]
	}`

	ids, err := ExpandSubgraph(g, root, resp, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 {
		t.Fatalf("got %d nodes in topo order, want 3", len(order))
	}

	n1 := g.Node("n1")
	if n1 == nil || n1.Tier != srbnmodel.TierActuator {
		t.Fatalf("n1 = %+v", n1)
	}
	if n1.ParentID != root {
		t.Fatalf("n1.ParentID = %q, want %q", n1.ParentID, root)
	}
}

func TestExpandSubgraphRejectsMissingRequiredField(t *testing.T) {
	g, root := newGraphWithRoot(t)
	resp := `{"nodes": [{"id": "n1", "tier": "Actuator"}]}` // missing "goal"

	if _, err := ExpandSubgraph(g, root, resp, 5, false); err == nil {
		t.Fatal("expected schema validation to reject a node missing goal")
	}
}

func TestExpandSubgraphRejectsInvalidTierEnum(t *testing.T) {
	g, root := newGraphWithRoot(t)
	resp := `{"nodes": [{"id": "n1", "goal": "x", "tier": "Overlord"}]}`

	if _, err := ExpandSubgraph(g, root, resp, 5, false); err == nil {
		t.Fatal("expected schema validation to reject an unknown tier")
	}
}

func TestExpandSubgraphIgnoresProseResponse(t *testing.T) {
	g, root := newGraphWithRoot(t)
	ids, err := ExpandSubgraph(g, root, "No expansion needed; this task is a leaf.", 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if ids != nil {
		t.Fatalf("expected nil ids for a prose response, got %v", ids)
	}
}

func TestExpandSubgraphRejectsOversizeExpansionWithoutAutoApprove(t *testing.T) {
	g, root := newGraphWithRoot(t)
	resp := `{
		"nodes": [
			{"id": "n1", "goal": "a", "tier": "Actuator"},
			{"id": "n2", "goal": "b", "tier": "Actuator"},
			{"id": "n3", "goal": "c", "tier": "Actuator"}
		]
	}`

	if _, err := ExpandSubgraph(g, root, resp, 2, false); err == nil {
		t.Fatal("expected a 3-node expansion to be rejected when complexity_k=2 and auto_approve=false")
	}

	ids, err := ExpandSubgraph(g, root, resp, 2, true)
	if err != nil {
		t.Fatalf("expected auto_approve=true to admit the same expansion: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
}

func TestExpandSubgraphRejectsCycle(t *testing.T) {
	g, root := newGraphWithRoot(t)
	resp := `{
		"nodes": [
			{"id": "n1", "goal": "a", "tier": "Actuator"},
			{"id": "n2", "goal": "b", "tier": "Actuator"}
		],
		"edges": [
			{"from": "n1", "to": "n2"},
			{"from": "n2", "to": "n1"}
		]
	}`
	if _, err := ExpandSubgraph(g, root, resp, 5, false); err == nil {
		t.Fatal("expected cyclic sub-graph edges to be rejected")
	}
}
