// Package agentroster implements C6: four agent tiers over a common
// capability set (name/can_handle/process). The tiers are tagged variants
// of a single struct differing only in prompt template and default model —
// not implementation inheritance, per spec.md §9 "Polymorphic agents".
package agentroster

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/eonseed/srbn/internal/dag"
	"github.com/eonseed/srbn/internal/srbnmodel"
	"github.com/eonseed/srbn/internal/toolexec"
)

// maxToolRounds bounds how many times the Actuator may issue a batch of
// tool calls before its response is taken as final, preventing an
// unbounded tool-call loop if the model keeps asking for more tools.
const maxToolRounds = 3

// toolCallBlockRe matches a fenced ```tool ... ``` block containing one
// JSON tool-call object, the text-protocol stand-in for native
// function-calling: cmd/srbn's LLM client speaks plain prompt/completion,
// not the Anthropic Messages API's structured tool_use blocks, so the
// Actuator's prompt asks the model to emit calls in this fenced form
// instead.
var toolCallBlockRe = regexp.MustCompile("(?s)```tool\\s*\\n(.*?)\\n```")

// LLMClient is the narrow interface an Agent needs from the surrounding
// LLM client abstraction. Prompt engineering and provider wiring are named
// collaborators, not part of this specification (spec.md §1 Non-goals);
// this interface is the entire surface the roster depends on.
type LLMClient interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// SessionContext is the subset of session state an agent's process() call
// needs to build its prompt: the working directory, the message history up
// to the moment of invocation, retrieved file/search context assembled by
// C9 (the context retriever), and — for the Actuator only — the tool
// surface spec.md §6 names.
type SessionContext struct {
	WorkingDir string
	History    []srbnmodel.AgentMessage

	// ContextText is C9's task_context() output: the actual bounded content
	// of node.ContextFiles/OutputTargets, not just their path names.
	ContextText string

	// Tools is the Actuator's workspace tool surface (read_file,
	// search_code, apply_patch, write_file, list_files, run_command). Only
	// the Actuator tier writes to the workspace, per spec.md's "Shared
	// resources" paragraph, so only its prompt branch offers tool calls.
	Tools *toolexec.Tools
}

// Agent is any value with three capabilities, per spec.md §4.6.
type Agent interface {
	Name() string
	CanHandle(node *dag.Node) bool
	Process(ctx context.Context, node *dag.Node, sctx SessionContext) (srbnmodel.AgentMessage, error)
}

// tieredAgent is the single concrete type backing all four tiers; Tier
// selects both can_handle and the prompt-building branch in buildPrompt.
type tieredAgent struct {
	tier   srbnmodel.ModelTier
	model  string
	client LLMClient
}

// New returns an agent for the given tier. model overrides the tier's
// default model identifier when non-empty.
func New(tier srbnmodel.ModelTier, model string, client LLMClient) Agent {
	if model == "" {
		model = tier.DefaultModel()
	}
	return &tieredAgent{tier: tier, model: model, client: client}
}

func (a *tieredAgent) Name() string {
	switch a.tier {
	case srbnmodel.TierArchitect:
		return "Architect"
	case srbnmodel.TierActuator:
		return "Actuator"
	case srbnmodel.TierVerifier:
		return "Verifier"
	case srbnmodel.TierSpeculator:
		return "Speculator"
	default:
		return string(a.tier)
	}
}

// CanHandle is true iff the node's tier matches the agent's tier.
func (a *tieredAgent) CanHandle(node *dag.Node) bool {
	return node != nil && node.Tier == a.tier
}

// Process builds the tier-appropriate prompt, invokes the LLM client, and
// wraps the response as an AgentMessage. The Verifier's implementation
// source is the last message in sctx.History at invocation time; a
// placeholder substitutes when history is empty.
func (a *tieredAgent) Process(ctx context.Context, node *dag.Node, sctx SessionContext) (srbnmodel.AgentMessage, error) {
	prompt := a.buildPrompt(node, sctx)

	response, err := a.client.Complete(ctx, a.model, prompt)
	if err != nil {
		return srbnmodel.AgentMessage{}, fmt.Errorf("agentroster: %s.process(%s): %w", a.Name(), node.ID, err)
	}

	if a.tier == srbnmodel.TierActuator && sctx.Tools != nil {
		response, err = a.runToolRounds(ctx, prompt, response, sctx.Tools)
		if err != nil {
			return srbnmodel.AgentMessage{}, fmt.Errorf("agentroster: %s.process(%s): %w", a.Name(), node.ID, err)
		}
	}

	return srbnmodel.AgentMessage{
		Role:      a.tier,
		Content:   response,
		Timestamp: time.Now(),
		NodeID:    node.ID,
	}, nil
}

// runToolRounds executes any tool calls the Actuator's response requests,
// appends their results to the conversation, and asks the model to
// continue — up to maxToolRounds times — matching tools.rs's synchronous
// per-call AgentTools::execute, generalized into a short bounded loop since
// this repo's LLM client has no native multi-turn tool-use protocol.
func (a *tieredAgent) runToolRounds(ctx context.Context, prompt, response string, tools *toolexec.Tools) (string, error) {
	transcript := prompt
	for round := 0; round < maxToolRounds; round++ {
		calls := parseToolCalls(response)
		if len(calls) == 0 {
			return response, nil
		}

		var results strings.Builder
		for _, call := range calls {
			res := tools.Execute(ctx, call)
			if res.Success {
				fmt.Fprintf(&results, "## Tool result: %s\n%s\n\n", res.ToolName, res.Output)
			} else {
				fmt.Fprintf(&results, "## Tool error: %s\n%s\n\n", res.ToolName, res.Error)
			}
		}

		transcript = fmt.Sprintf("%s\n\n## Previous response\n%s\n\n%s## Continue\nIncorporate the tool results above and give your next response. Issue more ```tool``` blocks if you need them, or give the final implementation if you are done.", transcript, response, results.String())

		next, err := a.client.Complete(ctx, a.model, transcript)
		if err != nil {
			return "", err
		}
		response = next
	}
	return response, nil
}

// parseToolCalls extracts every fenced ```tool``` JSON object in response.
// A block that fails to parse is skipped rather than treated as fatal —
// malformed tool-call syntax degrades to "no tool call", not an error.
func parseToolCalls(response string) []toolexec.ToolCall {
	var calls []toolexec.ToolCall
	for _, m := range toolCallBlockRe.FindAllStringSubmatch(response, -1) {
		var raw struct {
			Name      string            `json:"name"`
			Arguments map[string]string `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(m[1]), &raw); err != nil || raw.Name == "" {
			continue
		}
		calls = append(calls, toolexec.ToolCall{Name: raw.Name, Arguments: raw.Arguments})
	}
	return calls
}

func (a *tieredAgent) buildPrompt(node *dag.Node, sctx SessionContext) string {
	switch a.tier {
	case srbnmodel.TierArchitect:
		return a.planningPrompt(node, sctx)
	case srbnmodel.TierActuator:
		return a.codingPrompt(node, sctx)
	case srbnmodel.TierVerifier:
		return a.verificationPrompt(node, sctx)
	case srbnmodel.TierSpeculator:
		return a.speculationPrompt(node)
	default:
		return node.Goal
	}
}

func (a *tieredAgent) planningPrompt(node *dag.Node, sctx SessionContext) string {
	return fmt.Sprintf(`You are an Architect agent in a multi-agent coding system.

## Task
Goal: %s

## Context
Working Directory: %s
Context Files: %v
Output Targets: %v
%s

## Requirements
1. Break down this task into subtasks if needed
2. Define behavioral contracts for each subtask
3. Identify dependencies between subtasks
4. Specify required interfaces and invariants

## Output Format
Reply with a JSON object {"nodes": [...], "edges": [...]} describing the
sub-graph expansion, or plain prose if no expansion is needed.`,
		node.Goal, sctx.WorkingDir, node.ContextFiles, node.OutputTargets, sctx.ContextText)
}

func (a *tieredAgent) codingPrompt(node *dag.Node, sctx SessionContext) string {
	c := node.Contract
	return fmt.Sprintf(`You are an Actuator agent responsible for implementing code.

## Task
Goal: %s

## Behavioral Contract
Interface Signature: %s
Invariants: %v
Forbidden Patterns: %v

## Context
Working Directory: %s
Files to Read: %v
Files to Modify: %v
%s

## Tools
You may call any of the following tools by replying with a fenced block:

`+"```tool\n{\"name\": \"<tool_name>\", \"arguments\": {\"<arg>\": \"<value>\"}}\n```"+`

%s

## Instructions
1. Implement the required functionality
2. Follow the interface signature exactly
3. Maintain all specified invariants
4. Avoid all forbidden patterns
5. Write clean, documented code`,
		node.Goal, c.InterfaceSignature, c.Invariants, c.ForbiddenPatterns,
		sctx.WorkingDir, node.ContextFiles, node.OutputTargets, sctx.ContextText, toolDefinitionsText())
}

// toolDefinitionsText renders toolexec.Definitions() as the prompt's
// tool-surface description, matching tools.rs::get_tool_definitions's
// name/description/parameter shape.
func toolDefinitionsText() string {
	var b strings.Builder
	for _, d := range toolexec.Definitions() {
		fmt.Fprintf(&b, "- %s(", d.Name)
		for i, p := range d.Parameters {
			if i > 0 {
				b.WriteString(", ")
			}
			if !p.Required {
				fmt.Fprintf(&b, "[%s]", p.Name)
			} else {
				b.WriteString(p.Name)
			}
		}
		fmt.Fprintf(&b, "): %s\n", d.Description)
	}
	return b.String()
}

func (a *tieredAgent) verificationPrompt(node *dag.Node, sctx SessionContext) string {
	c := node.Contract
	implementation := "No implementation provided"
	if n := len(sctx.History); n > 0 {
		implementation = sctx.History[n-1].Content
	}
	return fmt.Sprintf(`You are a Verifier agent responsible for checking code correctness.

## Behavioral Contract
Interface Signature: %s
Invariants: %v
Forbidden Patterns: %v
Weighted Tests: %v

## Implementation
%s

## Output Format
Report PASS or FAIL, a normalized energy in [0,1], violations, and fixes.`,
		c.InterfaceSignature, c.Invariants, c.ForbiddenPatterns, c.WeightedTests, implementation)
}

func (a *tieredAgent) speculationPrompt(node *dag.Node) string {
	return fmt.Sprintf("Answer YES/NO with one sentence: is this approach viable?\n\nApproach: %s", node.Goal)
}

// Roster holds one agent per tier and dispatches by node tier.
type Roster struct {
	agents map[srbnmodel.ModelTier]Agent
}

// NewRoster builds a roster with the four standard tiers, all backed by the
// same LLM client with per-tier model overrides (empty string uses the
// tier default).
func NewRoster(client LLMClient, modelOverrides map[srbnmodel.ModelTier]string) *Roster {
	r := &Roster{agents: make(map[srbnmodel.ModelTier]Agent, 4)}
	for _, tier := range []srbnmodel.ModelTier{
		srbnmodel.TierArchitect, srbnmodel.TierActuator, srbnmodel.TierVerifier, srbnmodel.TierSpeculator,
	} {
		r.agents[tier] = New(tier, modelOverrides[tier], client)
	}
	return r
}

// For returns the agent responsible for the given tier.
func (r *Roster) For(tier srbnmodel.ModelTier) Agent {
	return r.agents[tier]
}
