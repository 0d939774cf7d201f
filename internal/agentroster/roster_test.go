package agentroster

import (
	"context"
	"strings"
	"testing"

	"github.com/eonseed/srbn/internal/dag"
	"github.com/eonseed/srbn/internal/retriever"
	"github.com/eonseed/srbn/internal/srbnmodel"
	"github.com/eonseed/srbn/internal/toolexec"
)

// sequencedClient returns one response per call, in order, so tests can
// exercise runToolRounds's "tool call, then final answer" conversation.
type sequencedClient struct {
	responses []string
	prompts   []string
}

func (s *sequencedClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	i := len(s.prompts) - 1
	if i >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	return s.responses[i], nil
}

type fakeClient struct {
	lastModel  string
	lastPrompt string
	response   string
	err        error
}

func (f *fakeClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	f.lastModel = model
	f.lastPrompt = prompt
	return f.response, f.err
}

func TestCanHandleMatchesTier(t *testing.T) {
	client := &fakeClient{response: "ok"}
	architect := New(srbnmodel.TierArchitect, "", client)

	n := &dag.Node{ID: "n1", Tier: srbnmodel.TierArchitect}
	if !architect.CanHandle(n) {
		t.Fatal("architect should handle an Architect-tier node")
	}

	n2 := &dag.Node{ID: "n2", Tier: srbnmodel.TierActuator}
	if architect.CanHandle(n2) {
		t.Fatal("architect should not handle an Actuator-tier node")
	}
}

func TestProcessReturnsTaggedMessage(t *testing.T) {
	client := &fakeClient{response: "plan: split into 3 subtasks"}
	architect := New(srbnmodel.TierArchitect, "custom-model", client)

	n := &dag.Node{ID: "root", Goal: "build a thing", Tier: srbnmodel.TierArchitect}
	msg, err := architect.Process(context.Background(), n, SessionContext{WorkingDir: "/ws"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Role != srbnmodel.TierArchitect {
		t.Fatalf("role = %v, want Architect", msg.Role)
	}
	if msg.NodeID != "root" {
		t.Fatalf("node id = %q, want root", msg.NodeID)
	}
	if client.lastModel != "custom-model" {
		t.Fatalf("model = %q, want custom-model override", client.lastModel)
	}
}

func TestVerifierUsesLastHistoryEntry(t *testing.T) {
	client := &fakeClient{response: "PASS"}
	verifier := New(srbnmodel.TierVerifier, "", client)

	n := &dag.Node{ID: "n1", Tier: srbnmodel.TierVerifier, Contract: srbnmodel.NewBehavioralContract()}
	sctx := SessionContext{History: []srbnmodel.AgentMessage{
		{Role: srbnmodel.TierActuator, Content: "func Foo() {}"},
	}}
	if _, err := verifier.Process(context.Background(), n, sctx); err != nil {
		t.Fatal(err)
	}
	if got := client.lastPrompt; !strings.Contains(got, "func Foo() {}") {
		t.Fatalf("prompt did not include the last history entry: %q", got)
	}
}

func TestVerifierPlaceholderWhenHistoryEmpty(t *testing.T) {
	client := &fakeClient{response: "PASS"}
	verifier := New(srbnmodel.TierVerifier, "", client)
	n := &dag.Node{ID: "n1", Tier: srbnmodel.TierVerifier, Contract: srbnmodel.NewBehavioralContract()}
	if _, err := verifier.Process(context.Background(), n, SessionContext{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(client.lastPrompt, "No implementation provided") {
		t.Fatalf("prompt did not include the placeholder: %q", client.lastPrompt)
	}
}

func TestActuatorPromptIncludesContextTextAndToolSurface(t *testing.T) {
	client := &fakeClient{response: "done"}
	actuator := New(srbnmodel.TierActuator, "", client)

	n := &dag.Node{ID: "n1", Tier: srbnmodel.TierActuator, Contract: srbnmodel.NewBehavioralContract()}
	sctx := SessionContext{WorkingDir: "/ws", ContextText: "## Context file: a.go\nfunc A() {}\n\n"}
	if _, err := actuator.Process(context.Background(), n, sctx); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(client.lastPrompt, "func A() {}") {
		t.Fatalf("prompt did not include retrieved context text: %q", client.lastPrompt)
	}
	if !strings.Contains(client.lastPrompt, "read_file") || !strings.Contains(client.lastPrompt, "run_command") {
		t.Fatalf("prompt did not list the tool surface: %q", client.lastPrompt)
	}
}

func TestActuatorExecutesToolCallsAndIncorporatesResults(t *testing.T) {
	dir := t.TempDir()
	tools := toolexec.New(dir, retriever.New(dir), false)

	client := &sequencedClient{responses: []string{
		"```tool\n{\"name\": \"list_files\", \"arguments\": {}}\n```",
		"final implementation",
	}}
	actuator := New(srbnmodel.TierActuator, "", client)

	n := &dag.Node{ID: "n1", Tier: srbnmodel.TierActuator, Contract: srbnmodel.NewBehavioralContract()}
	msg, err := actuator.Process(context.Background(), n, SessionContext{WorkingDir: dir, Tools: tools})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "final implementation" {
		t.Fatalf("content = %q, want the model's post-tool-call response", msg.Content)
	}
	if len(client.prompts) != 2 {
		t.Fatalf("expected 2 completion rounds, got %d", len(client.prompts))
	}
	if !strings.Contains(client.prompts[1], "Tool result: list_files") {
		t.Fatalf("second round prompt missing tool result: %q", client.prompts[1])
	}
}

func TestParseToolCallsSkipsMalformedBlocks(t *testing.T) {
	response := "```tool\nnot json\n```\n\n```tool\n{\"name\": \"read_file\", \"arguments\": {\"path\": \"a.go\"}}\n```"
	calls := parseToolCalls(response)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1 (malformed block skipped)", len(calls))
	}
	if calls[0].Name != "read_file" || calls[0].Arguments["path"] != "a.go" {
		t.Fatalf("got %+v", calls[0])
	}
}

func TestNewRosterDispatchesByTier(t *testing.T) {
	client := &fakeClient{response: "ok"}
	r := NewRoster(client, nil)
	for _, tier := range []srbnmodel.ModelTier{
		srbnmodel.TierArchitect, srbnmodel.TierActuator, srbnmodel.TierVerifier, srbnmodel.TierSpeculator,
	} {
		agent := r.For(tier)
		if agent == nil {
			t.Fatalf("no agent registered for tier %v", tier)
		}
		n := &dag.Node{ID: "n", Tier: tier}
		if !agent.CanHandle(n) {
			t.Fatalf("agent for tier %v does not handle its own tier", tier)
		}
	}
}
