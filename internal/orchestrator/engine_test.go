package orchestrator

import (
	"context"
	"testing"

	"github.com/eonseed/srbn/internal/agentroster"
	"github.com/eonseed/srbn/internal/config"
	"github.com/eonseed/srbn/internal/dag"
	"github.com/eonseed/srbn/internal/ledger"
	"github.com/eonseed/srbn/internal/retriever"
	"github.com/eonseed/srbn/internal/srbnmodel"
	"github.com/eonseed/srbn/internal/testrunner"
)

// stubClient always succeeds immediately, so energy should be computed
// purely from the (empty) contract, diagnostics, and test results — driving
// VStr/VSyn/VLog all to zero and converging on the first attempt.
type stubClient struct{}

func (stubClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	return "done", nil
}

func TestEngineRunSingleNodeConvergesImmediately(t *testing.T) {
	g := dag.New()
	node := &dag.Node{
		ID:       "n1",
		Goal:     "a trivial task",
		Tier:     srbnmodel.TierActuator,
		Contract: srbnmodel.NewBehavioralContract(),
	}
	if err := g.AddNode(node); err != nil {
		t.Fatal(err)
	}

	roster := agentroster.NewRoster(stubClient{}, nil)
	led := ledger.NewMemoryLedger()
	ret := retriever.New(t.TempDir())
	runner := testrunner.New(ret.WorkingDir)

	eng := New(g, roster, led, ret, runner, config.Default())

	result, err := eng.Run(context.Background(), "sess-1", "a trivial task")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.NodeOrder) != 1 {
		t.Fatalf("got %d nodes in order, want 1", len(result.NodeOrder))
	}

	outcome := result.Outcomes["n1"]
	if outcome.State != srbnmodel.StateCompleted {
		t.Fatalf("state = %v, want Completed", outcome.State)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (should converge immediately on an empty contract)", outcome.Attempts)
	}
	if outcome.CommitID == "" {
		t.Fatal("expected a non-empty commit ID")
	}
	if led.CurrentMerkleRoot() == ledger.ZeroRoot {
		t.Fatal("ledger root should have advanced past zero after a commit")
	}
}

func TestEngineRunRespectsTopologicalOrder(t *testing.T) {
	g := dag.New()
	a := &dag.Node{ID: "a", Goal: "first", Tier: srbnmodel.TierActuator, Contract: srbnmodel.NewBehavioralContract()}
	b := &dag.Node{ID: "b", Goal: "second", Tier: srbnmodel.TierActuator, Contract: srbnmodel.NewBehavioralContract()}
	if err := g.AddNode(a); err != nil {
		t.Fatal(err)
	}
	if err := g.AddNode(b); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge("a", "b", "depends_on"); err != nil {
		t.Fatal(err)
	}

	roster := agentroster.NewRoster(stubClient{}, nil)
	led := ledger.NewMemoryLedger()
	ret := retriever.New(t.TempDir())
	runner := testrunner.New(ret.WorkingDir)
	eng := New(g, roster, led, ret, runner, nil)

	result, err := eng.Run(context.Background(), "sess-2", "ordered task")
	if err != nil {
		t.Fatal(err)
	}
	if result.NodeOrder[0] != "a" || result.NodeOrder[1] != "b" {
		t.Fatalf("order = %v, want [a b]", result.NodeOrder)
	}
	if result.Outcomes["a"].State != srbnmodel.StateCompleted || result.Outcomes["b"].State != srbnmodel.StateCompleted {
		t.Fatalf("both nodes should complete: %+v", result.Outcomes)
	}
}

type failingContractClient struct{}

func (failingContractClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	return "implementation containing a forbidden thing", nil
}

func TestEngineEscalatesWhenEnergyNeverConverges(t *testing.T) {
	g := dag.New()
	c := srbnmodel.NewBehavioralContract()
	c.ForbiddenPatterns = []string{"forbidden thing"}
	node := &dag.Node{ID: "n1", Goal: "x", Tier: srbnmodel.TierActuator, Contract: c}
	if err := g.AddNode(node); err != nil {
		t.Fatal(err)
	}

	roster := agentroster.NewRoster(failingContractClient{}, nil)
	led := ledger.NewMemoryLedger()
	ret := retriever.New(t.TempDir())
	runner := testrunner.New(ret.WorkingDir)
	cfg := config.Default()
	cfg.MaxRetries = 2

	eng := New(g, roster, led, ret, runner, cfg)
	result, err := eng.Run(context.Background(), "sess-3", "x")
	if err == nil {
		t.Fatal("expected an error from an escalated node")
	}
	if result.Outcomes["n1"].State != srbnmodel.StateEscalated {
		t.Fatalf("state = %v, want Escalated", result.Outcomes["n1"].State)
	}
	if !result.Outcomes["n1"].Escalated {
		t.Fatal("Escalated flag should be set")
	}
}
