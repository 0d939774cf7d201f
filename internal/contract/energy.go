// Package contract implements C1: pure, side-effect-free computation of the
// three energy components and their weighted sum. Nothing here performs I/O;
// callers (the LSP session, the test runner, the orchestrator) gather the
// raw inputs and hand them to these functions.
package contract

import (
	"strings"

	"github.com/eonseed/srbn/internal/srbnmodel"
)

// SyntacticEnergy sums per-diagnostic severity weights. This is V_syn.
func SyntacticEnergy(diagnostics []srbnmodel.Diagnostic) float64 {
	var total float64
	for _, d := range diagnostics {
		total += d.Severity.Weight()
	}
	return total
}

// LogicEnergy computes V_log = gamma * sum(weight(failure)) over a test
// result set's failures, where weight(failure) is the criticality of the
// contract's weighted-test entry whose name associates with the failure
// (bidirectional substring containment, per the original implementation),
// or the default High weight (3.0) when no entry matches.
func LogicEnergy(results srbnmodel.TestResultSet, c srbnmodel.BehavioralContract) float64 {
	var sum float64
	for _, f := range MatchWeightedTests(results, c).Failures {
		sum += f.Criticality.Weight()
	}
	return c.EnergyWeights.Gamma * sum
}

// MatchWeightedTests returns a copy of results with each failure's
// Criticality stamped from the first contract weighted-test entry whose
// name associates with the failure's test name, falling back to High for
// unmatched failures. Association is bidirectional substring containment:
// the failure name contains the entry's test name, or vice versa.
func MatchWeightedTests(results srbnmodel.TestResultSet, c srbnmodel.BehavioralContract) srbnmodel.TestResultSet {
	out := results
	out.Failures = make([]srbnmodel.TestFailure, len(results.Failures))
	for i, f := range results.Failures {
		f.Criticality = matchCriticality(f.TestName, c.WeightedTests)
		out.Failures[i] = f
	}
	return out
}

func matchCriticality(failureName string, tests []srbnmodel.WeightedTest) srbnmodel.Criticality {
	for _, wt := range tests {
		if associates(failureName, wt.TestName) {
			return wt.Criticality
		}
	}
	return srbnmodel.CriticalityHigh
}

func associates(failureName, weightedTestName string) bool {
	if weightedTestName == "" {
		return false
	}
	return strings.Contains(failureName, weightedTestName) || strings.Contains(weightedTestName, failureName)
}

// StructuralEnergy computes V_str: a non-negative measure of forbidden
// pattern hits and invariant breaks over the candidate implementation text.
//
// This is the concrete scheme this repo has chosen to satisfy the spec's
// Open Question ("structural_energy... design-level left open"): each
// forbidden pattern found as a literal substring of the implementation adds
// 1.0; each invariant clause whose keywords are entirely absent from the
// implementation text adds 0.5 (a heuristic stand-in for real semantic
// invariant checking, which would require a type-aware analysis this
// function deliberately does not attempt). Unmatched patterns contribute 0.
func StructuralEnergy(c srbnmodel.BehavioralContract, implementation string) float64 {
	var v float64
	for _, pattern := range c.ForbiddenPatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(implementation, pattern) {
			v += 1.0
		}
	}
	for _, invariant := range c.Invariants {
		if invariantBroken(invariant, implementation) {
			v += 0.5
		}
	}
	return v
}

// invariantBroken treats an invariant as broken when none of its
// significant (len > 2) words appear anywhere in the implementation text,
// case-insensitively. This is a heuristic, not a proof.
func invariantBroken(invariant, implementation string) bool {
	words := strings.Fields(invariant)
	impl := strings.ToLower(implementation)
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,;:()\"'"))
		if len(w) <= 2 {
			continue
		}
		if strings.Contains(impl, w) {
			return false
		}
	}
	return len(words) > 0
}

// Total computes V(x) = alpha*V_syn + beta*V_str + gamma*V_log.
func Total(components srbnmodel.EnergyComponents, c srbnmodel.BehavioralContract) float64 {
	return components.Total(c)
}
