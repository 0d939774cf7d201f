package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/eonseed/srbn/internal/agentroster"
	"github.com/eonseed/srbn/internal/config"
	"github.com/eonseed/srbn/internal/contract"
	"github.com/eonseed/srbn/internal/dag"
	"github.com/eonseed/srbn/internal/ledger"
	"github.com/eonseed/srbn/internal/lsp"
	"github.com/eonseed/srbn/internal/monitor"
	"github.com/eonseed/srbn/internal/retriever"
	"github.com/eonseed/srbn/internal/srbnmodel"
	"github.com/eonseed/srbn/internal/testrunner"
	"github.com/eonseed/srbn/internal/toolexec"
)

// NodeOutcome is the result of running one node through the full
// speculate/verify/converge/sheaf-validate/commit cycle.
type NodeOutcome struct {
	NodeID      string
	State       srbnmodel.NodeState
	Energy      srbnmodel.EnergyComponents
	Attempts    int
	CommitID    string
	MerkleRoot  ledger.MerkleRoot
	Escalated   bool
	Error       error
}

// Result is the outcome of a full orchestrator run.
type Result struct {
	SessionID   string
	NodeOrder   []string
	Outcomes    map[string]NodeOutcome
	FinalRoot   ledger.MerkleRoot
}

// Engine runs the SRBN 7-step control loop over a task graph: sheafify,
// topological execution, and per-node speculate/verify/converge/
// sheaf-validate/commit. Grounded on the teacher's
// internal/attractor/engine.Engine.run/runLoop/executeNode/
// executeWithRetry/checkpoint pattern, generalized from a git-worktree
// DAG-of-handlers runner to an energy-stabilized agent loop.
type Engine struct {
	Graph     *dag.Graph
	Roster    *agentroster.Roster
	Ledger    ledger.Ledger
	Retriever *retriever.Retriever
	Runner    *testrunner.Runner
	LSP       *lsp.Session // optional; nil disables syntactic-energy LSP diagnostics
	Tools     *toolexec.Tools
	Config    *config.SessionConfig

	logger *log.Logger

	// openFileVersions tracks which output-target paths have been opened
	// with the LSP session and at what version, so verify can send DidOpen
	// once per path and DidChange thereafter, per spec.md §6's required
	// outbound LSP messages. runNode drives nodes sequentially, so no
	// locking is needed.
	openFileVersions map[string]int
}

// New builds an Engine from its collaborators. cfg may be nil, in which
// case config.Default() is used. A Tools surface is built automatically
// from ret and cfg.AutoApprove; assign Engine.LSP separately, since
// starting a language server is a side effect the caller should control.
func New(g *dag.Graph, roster *agentroster.Roster, led ledger.Ledger, ret *retriever.Retriever, runner *testrunner.Runner, cfg *config.SessionConfig) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	var tools *toolexec.Tools
	if ret != nil {
		tools = toolexec.New(ret.WorkingDir, ret, cfg.AutoApprove)
	}
	return &Engine{
		Graph:            g,
		Roster:           roster,
		Ledger:           led,
		Retriever:        ret,
		Runner:           runner,
		Tools:            tools,
		Config:           cfg,
		logger:           log.New(os.Stderr, "[srbn-orchestrator] ", log.LstdFlags),
		openFileVersions: make(map[string]int),
	}
}

// Run executes the full session: step 1 (sheafify) is implicit in each
// node's context assembly, step 2 orders the graph topologically, and
// steps 3-7 run per node via runNode.
func (e *Engine) Run(ctx context.Context, sessionID, task string) (*Result, error) {
	if err := e.Ledger.StartSession(sessionID, task); err != nil {
		return nil, fmt.Errorf("orchestrator: start session: %w", err)
	}

	order, err := e.Graph.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: step 2 (topological execution order): %w", err)
	}

	result := &Result{
		SessionID: sessionID,
		NodeOrder: order,
		Outcomes:  make(map[string]NodeOutcome, len(order)),
	}

	history := make([]srbnmodel.AgentMessage, 0, len(order)*2)
	runErr := error(nil)

	for _, nodeID := range order {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		node := e.Graph.Node(nodeID)
		if node == nil {
			continue
		}

		outcome, msgs := e.runNode(ctx, node, history)
		history = append(history, msgs...)
		result.Outcomes[nodeID] = outcome
		result.FinalRoot = outcome.MerkleRoot

		if outcome.Error != nil {
			runErr = outcome.Error
			e.logger.Printf("node %s terminated in state %s: %v", nodeID, outcome.State, outcome.Error)
			break
		}
	}

	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	if err := e.Ledger.EndSession(status); err != nil {
		e.logger.Printf("end session: %v", err)
	}

	return result, runErr
}

// runNode drives one node through steps 3-7 (Speculate -> Verify ->
// Converge -> Sheaf validate -> Commit), retrying the Verify step under
// the stability monitor until energy converges below epsilon or the
// escalation predicate fires, mirroring the teacher's
// executeWithRetry's attempt-bounded retry loop with backoff.
func (e *Engine) runNode(ctx context.Context, node *dag.Node, priorHistory []srbnmodel.AgentMessage) (NodeOutcome, []srbnmodel.AgentMessage) {
	var produced []srbnmodel.AgentMessage
	history := append(append([]srbnmodel.AgentMessage{}, priorHistory...))

	mon := monitor.NewWithConfig(e.Config.StabilityEpsilon, e.Config.MaxRetries)
	node.State = srbnmodel.StatePlanning

	// Step 3a: Speculate, when a Speculator is registered. A speculation
	// veto does not abort the node — it is advisory context for the
	// Actuator, per spec.md's framing of Speculator as a cheap pre-check,
	// not a gate.
	if spec := e.Roster.For(srbnmodel.TierSpeculator); spec != nil {
		sctx := agentroster.SessionContext{WorkingDir: e.workingDir(), History: history, ContextText: e.taskContext(node)}
		if msg, err := spec.Process(ctx, node, sctx); err == nil {
			history = append(history, msg)
			produced = append(produced, msg)
		}
	}

	node.State = srbnmodel.StateCoding
	actuator := e.Roster.For(srbnmodel.TierActuator)
	verifier := e.Roster.For(srbnmodel.TierVerifier)
	architect := e.Roster.For(srbnmodel.TierArchitect)

	// Step 1 (sheafify, continued): C9 assembles the bounded file context
	// the Architect/Actuator/Verifier prompts embed, so the agents reason
	// over real file content instead of bare path names.
	contextText := e.taskContext(node)

	var lastEnergy srbnmodel.EnergyComponents
	for {
		// Step 3b: Actuator implements (or Architect expands, for nodes at
		// its own tier).
		var implMsg srbnmodel.AgentMessage
		var err error
		switch node.Tier {
		case srbnmodel.TierArchitect:
			sctx := agentroster.SessionContext{WorkingDir: e.workingDir(), History: history, ContextText: contextText}
			implMsg, err = architect.Process(ctx, node, sctx)
			if err == nil {
				if _, expandErr := ExpandSubgraph(e.Graph, node.ID, implMsg.Content, e.Config.ComplexityK, e.Config.AutoApprove); expandErr != nil {
					err = expandErr
				}
			}
		default:
			sctx := agentroster.SessionContext{WorkingDir: e.workingDir(), History: history, ContextText: contextText, Tools: e.Tools}
			implMsg, err = actuator.Process(ctx, node, sctx)
		}
		if err != nil {
			return e.terminal(node, mon, srbnmodel.StateFailed, lastEnergy, err), history[len(priorHistory):]
		}
		history = append(history, implMsg)
		produced = append(produced, implMsg)

		// Step 4: Verify — run tests (if a runner + project are present)
		// and ask the Verifier agent to review the implementation; V_syn
		// folds in live LSP diagnostics when a session is attached.
		node.State = srbnmodel.StateVerifying
		components := e.verify(ctx, node, implMsg.Content)

		if verifier != nil {
			vctx := agentroster.SessionContext{WorkingDir: e.workingDir(), History: history, ContextText: contextText}
			if _, err := verifier.Process(ctx, node, vctx); err == nil {
				// Verifier's prose review is advisory context for the next
				// attempt; energy itself is computed from hard signals
				// (diagnostics + tests + contract text), not parsed from prose.
			}
		}

		energy := components.Total(node.Contract)
		lastEnergy = components
		mon.Record(energy)

		// Step 5: Converge.
		if mon.Stable {
			node.State = srbnmodel.StateSheafCheck
			break
		}
		if mon.ShouldEscalate() {
			node.State = srbnmodel.StateEscalated
			return e.escalated(node, mon, lastEnergy), history[len(priorHistory):]
		}

		node.State = srbnmodel.StateRetry
		time.Sleep(backoffDelay(mon.Attempts))
	}

	// Step 6: Sheaf validate — the graph must still be acyclic; a cheap
	// local check rather than a global re-verification, since AddEdge
	// already guarantees acyclicity continuously. Only acyclicity is
	// checked: parents' outputs and cross-node interfaces are not verified.
	if e.Graph.HasCycle() {
		err := fmt.Errorf("orchestrator: sheaf validation failed: graph is cyclic after node %s", node.ID)
		return e.terminal(node, mon, srbnmodel.StateFailed, lastEnergy, err), history[len(priorHistory):]
	}

	// Step 7: Commit.
	node.State = srbnmodel.StateCommitting
	var parentRoot *ledger.MerkleRoot
	if mr := e.Ledger.CurrentMerkleRoot(); mr != ledger.ZeroRoot {
		parentRoot = &mr
	}
	commitID, err := e.Ledger.CommitNode(node.ID, parentRoot, lastEnergy.Total(node.Contract))
	if err != nil {
		return e.terminal(node, mon, srbnmodel.StateFailed, lastEnergy, err), history[len(priorHistory):]
	}
	node.State = srbnmodel.StateCompleted

	return NodeOutcome{
		NodeID:     node.ID,
		State:      node.State,
		Energy:     lastEnergy,
		Attempts:   mon.Attempts,
		CommitID:   commitID,
		MerkleRoot: e.Ledger.CurrentMerkleRoot(),
	}, history[len(priorHistory):]
}

// verify computes the three energy components for node's current state:
// V_syn from live LSP diagnostics (if attached), V_log from a test run
// (if a runner is attached and the workspace has a project), and
// V_str from the contract text match.
func (e *Engine) verify(ctx context.Context, node *dag.Node, implementation string) srbnmodel.EnergyComponents {
	var diagnostics []srbnmodel.Diagnostic
	if e.LSP != nil && e.LSP.IsReady() {
		e.syncOutputTargets(node)
		for _, path := range node.OutputTargets {
			diagnostics = append(diagnostics, e.LSP.GetDiagnostics(path)...)
		}
	}

	results := srbnmodel.TestResultSet{RunSucceeded: true}
	if e.Runner != nil {
		if err := e.Runner.EnsureEnvironment(ctx); err != nil {
			e.logger.Printf("node %s: ensure_environment: %v", node.ID, err)
		}
		if e.Runner.HasProject() {
			if r, err := e.Runner.Run(ctx); err == nil {
				results = r
			}
		}
	}

	return srbnmodel.EnergyComponents{
		VSyn: contract.SyntacticEnergy(diagnostics),
		VStr: contract.StructuralEnergy(node.Contract, implementation),
		VLog: contract.LogicEnergy(results, node.Contract),
	}
}

// syncOutputTargets tells the attached LSP session about the current
// on-disk content of node's output targets, opening a path the first time
// it is seen and sending an incrementing-version DidChange thereafter —
// the two outbound notifications spec.md §6 names as required and that
// nothing previously called.
func (e *Engine) syncOutputTargets(node *dag.Node) {
	for _, path := range node.OutputTargets {
		full := path
		if e.Retriever != nil {
			full = filepath.Join(e.Retriever.WorkingDir, path)
		}
		content, err := os.ReadFile(full)
		if err != nil {
			continue // nothing written yet at this target; diagnostics stay empty
		}

		version, opened := e.openFileVersions[path]
		if !opened {
			if err := e.LSP.DidOpen(path, string(content)); err != nil {
				e.logger.Printf("node %s: lsp did_open %s: %v", node.ID, path, err)
				continue
			}
			e.openFileVersions[path] = 1
			continue
		}
		version++
		if err := e.LSP.DidChange(path, string(content), version); err != nil {
			e.logger.Printf("node %s: lsp did_change %s: %v", node.ID, path, err)
			continue
		}
		e.openFileVersions[path] = version
	}
}

// taskContext assembles C9's bounded file context for node, or "" when no
// retriever is attached.
func (e *Engine) taskContext(node *dag.Node) string {
	if e.Retriever == nil {
		return ""
	}
	return e.Retriever.TaskContext(node.ContextFiles, node.OutputTargets)
}

func (e *Engine) workingDir() string {
	if e.Retriever != nil {
		return e.Retriever.WorkingDir
	}
	return ""
}

func (e *Engine) terminal(node *dag.Node, mon *monitor.Monitor, state srbnmodel.NodeState, energy srbnmodel.EnergyComponents, err error) NodeOutcome {
	node.State = state
	return NodeOutcome{
		NodeID:   node.ID,
		State:    state,
		Energy:   energy,
		Attempts: mon.Attempts,
		Error:    err,
	}
}

func (e *Engine) escalated(node *dag.Node, mon *monitor.Monitor, energy srbnmodel.EnergyComponents) NodeOutcome {
	node.State = srbnmodel.StateEscalated
	return NodeOutcome{
		NodeID:    node.ID,
		State:     srbnmodel.StateEscalated,
		Energy:    energy,
		Attempts:  mon.Attempts,
		Escalated: true,
		Error:     fmt.Errorf("orchestrator: node %s escalated after %d attempts without converging below epsilon", node.ID, mon.Attempts),
	}
}

// backoffDelay is a short linear backoff between verify attempts (250ms
// per attempt so far), capped at 2 seconds, matching the spirit of the teacher's
// backoffDelayForNode without needing per-node jitter configuration.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 250 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
