// Package srbnmodel holds the shared data types of the Stabilized Recursive
// Barrier Network: contracts, energy components, diagnostics, test results,
// node states, agent messages, and ID generators. The node type itself lives
// in internal/dag. Beyond small accessors (weights, totals, pass rate) it
// has no behavior of its own; C1-C9 operate on these types.
package srbnmodel

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ModelTier is the role an agent fulfils.
type ModelTier string

const (
	TierArchitect  ModelTier = "architect"
	TierActuator   ModelTier = "actuator"
	TierVerifier   ModelTier = "verifier"
	TierSpeculator ModelTier = "speculator"
)

// DefaultModel returns the recommended model identifier for the tier.
// These are defaults only; callers may override per session configuration.
func (t ModelTier) DefaultModel() string {
	switch t {
	case TierArchitect:
		return "claude-3-5-sonnet-20241022"
	case TierActuator:
		return "gpt-4o"
	case TierVerifier:
		return "gpt-4o-mini"
	case TierSpeculator:
		return "gemini-2.0-flash"
	default:
		return ""
	}
}

// Criticality is the weight class of a weighted test.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityLow      Criticality = "low"
)

// Weight returns the energy weight multiplier for the criticality level.
func (c Criticality) Weight() float64 {
	switch c {
	case CriticalityCritical:
		return 10.0
	case CriticalityHigh:
		return 3.0
	case CriticalityLow:
		return 1.0
	default:
		return 3.0 // unknown criticality defaults to High per contract matching rules
	}
}

// WeightedTest associates a test name (or name fragment) with a criticality.
type WeightedTest struct {
	TestName    string      `json:"test_name" yaml:"test_name"`
	Criticality Criticality `json:"criticality" yaml:"criticality"`
}

// EnergyWeights are the (alpha, beta, gamma) multipliers applied to
// (V_syn, V_str, V_log) respectively when computing total energy.
type EnergyWeights struct {
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta" yaml:"beta"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
}

// DefaultEnergyWeights is (1.0, 0.5, 2.0) per the PSP default.
func DefaultEnergyWeights() EnergyWeights {
	return EnergyWeights{Alpha: 1.0, Beta: 0.5, Gamma: 2.0}
}

// BehavioralContract is attached to each DAG node and constrains what the
// Actuator may produce and how the Verifier/energy model scores it.
type BehavioralContract struct {
	InterfaceSignature string         `json:"interface_signature" yaml:"interface_signature"`
	Invariants          []string       `json:"invariants" yaml:"invariants"`
	ForbiddenPatterns   []string       `json:"forbidden_patterns" yaml:"forbidden_patterns"`
	WeightedTests       []WeightedTest `json:"weighted_tests" yaml:"weighted_tests"`
	EnergyWeights       EnergyWeights  `json:"energy_weights" yaml:"energy_weights"`
}

// NewBehavioralContract returns a contract with default energy weights and
// empty clause lists.
func NewBehavioralContract() BehavioralContract {
	return BehavioralContract{EnergyWeights: DefaultEnergyWeights()}
}

// EnergyComponents are the three non-negative reals that sum to V(x).
type EnergyComponents struct {
	VSyn float64
	VStr float64
	VLog float64
}

// Total computes V(x) = alpha*V_syn + beta*V_str + gamma*V_log.
func (c EnergyComponents) Total(contract BehavioralContract) float64 {
	w := contract.EnergyWeights
	return w.Alpha*c.VSyn + w.Beta*c.VStr + w.Gamma*c.VLog
}

// DiagnosticSeverity mirrors the LSP severity levels used for V_syn weighting.
type DiagnosticSeverity string

const (
	SeverityError       DiagnosticSeverity = "error"
	SeverityWarning     DiagnosticSeverity = "warning"
	SeverityInformation DiagnosticSeverity = "information"
	SeverityHint        DiagnosticSeverity = "hint"
)

// Weight returns the energy weight for the severity level; an unknown or
// empty severity is treated as 0.1 (the Warning weight), per spec default.
func (s DiagnosticSeverity) Weight() float64 {
	switch s {
	case SeverityError:
		return 1.0
	case SeverityWarning:
		return 0.1
	case SeverityInformation:
		return 0.01
	case SeverityHint:
		return 0.001
	default:
		return 0.1
	}
}

// Diagnostic is a single LSP diagnostic used to compute syntactic energy.
type Diagnostic struct {
	Path     string
	Line     int
	Column   int
	Severity DiagnosticSeverity
	Message  string
}

// TestFailure is a single scraped test failure.
type TestFailure struct {
	TestName    string
	File        string
	Line        int
	Message     string
	Criticality Criticality
}

// TestResultSet is the outcome of running a project's test suite.
type TestResultSet struct {
	Passed       int
	Failed       int
	Skipped      int
	Failures     []TestFailure
	RunSucceeded bool
	Duration     time.Duration
	RawOutput    string
}

// Total is passed+failed+skipped.
func (r TestResultSet) Total() int { return r.Passed + r.Failed + r.Skipped }

// AllPassed is true iff the run succeeded and nothing failed.
func (r TestResultSet) AllPassed() bool { return r.RunSucceeded && r.Failed == 0 }

// PassRate is passed/total, or 1.0 when total is zero (no tests is not a failure).
func (r TestResultSet) PassRate() float64 {
	total := r.Total()
	if total == 0 {
		return 1.0
	}
	return float64(r.Passed) / float64(total)
}

// NodeState is a position in the per-node state machine. Terminal states are
// Completed, Failed, Aborted.
type NodeState string

const (
	StateTaskQueued NodeState = "task_queued"
	StatePlanning   NodeState = "planning"
	StateCoding     NodeState = "coding"
	StateVerifying  NodeState = "verifying"
	StateRetry      NodeState = "retry"
	StateSheafCheck NodeState = "sheaf_check"
	StateCommitting NodeState = "committing"
	StateEscalated  NodeState = "escalated"
	StateCompleted  NodeState = "completed"
	StateFailed     NodeState = "failed"
	StateAborted    NodeState = "aborted"
)

// IsTerminal reports whether the state ends the node's lifecycle.
func (s NodeState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

// AgentMessage is a single entry in the session's append-only history.
type AgentMessage struct {
	Role      ModelTier
	Content   string
	Timestamp time.Time
	NodeID    string // empty if not associated with a node
}

// NewNodeID mints a fresh ULID-based node identifier. Callers that already
// have a stable ID (e.g. from Architect sub-graph expansion) should use it
// directly instead.
func NewNodeID() string {
	return ulid.Make().String()
}

// NewSessionID mints a fresh ULID-based session identifier.
func NewSessionID() string {
	return ulid.Make().String()
}
