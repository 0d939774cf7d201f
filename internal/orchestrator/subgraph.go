// Package orchestrator implements C7: the SRBN 7-step control loop
// (sheafify, topological execution, and per-node speculate/verify/
// converge/sheaf-validate/commit). This file handles one piece of step 1:
// parsing and validating an Architect's sub-graph expansion.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/eonseed/srbn/internal/dag"
	"github.com/eonseed/srbn/internal/srbnmodel"
)

// subgraphSchemaJSON fixes the shape an Architect's JSON expansion must
// take, resolving spec.md Open Question 3: expansions are validated
// against this schema via jsonschema/v5 before being merged into the task
// graph, rather than accepted as unchecked free text.
const subgraphSchemaJSON = `{
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "goal", "tier"],
        "properties": {
          "id":    {"type": "string", "minLength": 1},
          "goal":  {"type": "string", "minLength": 1},
          "tier":  {"type": "string", "enum": ["Architect", "Actuator", "Verifier", "Speculator"]},
          "context_files":  {"type": "array", "items": {"type": "string"}},
          "output_targets": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to":   {"type": "string", "minLength": 1},
          "kind": {"type": "string"}
        }
      }
    }
  }
}`

func compileSubgraphSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("subgraph.json", strings.NewReader(subgraphSchemaJSON)); err != nil {
		return nil, fmt.Errorf("orchestrator: add subgraph schema resource: %w", err)
	}
	return c.Compile("subgraph.json")
}

// subgraphDoc is the decoded shape of an Architect's JSON expansion.
type subgraphDoc struct {
	Nodes []struct {
		ID            string   `json:"id"`
		Goal          string   `json:"goal"`
		Tier          string   `json:"tier"`
		ContextFiles  []string `json:"context_files"`
		OutputTargets []string `json:"output_targets"`
	} `json:"nodes"`
	Edges []struct {
		From string `json:"from"`
		To   string `json:"to"`
		Kind string `json:"kind"`
	} `json:"edges"`
}

// tierFromString maps the schema's tier enum strings to srbnmodel.ModelTier.
func tierFromString(s string) srbnmodel.ModelTier {
	switch s {
	case "Architect":
		return srbnmodel.TierArchitect
	case "Actuator":
		return srbnmodel.TierActuator
	case "Verifier":
		return srbnmodel.TierVerifier
	case "Speculator":
		return srbnmodel.TierSpeculator
	default:
		return srbnmodel.TierActuator
	}
}

// ExpandSubgraph parses and schema-validates an Architect's JSON response,
// then adds the described nodes and edges to g as children of parentID. It
// returns the IDs of the newly added nodes in the order they were declared,
// or an error if the JSON is malformed, fails schema validation, would
// introduce a cycle (dag.AddEdge rejects and rolls back automatically), or
// exceeds complexityK without autoApprove.
//
// Non-JSON Architect responses (plain prose, "no expansion needed") are not
// an error: ExpandSubgraph returns (nil, nil) for input that doesn't parse
// as a JSON object, since a leaf-level Architect decision is a valid
// outcome of step 1, not a failure of it.
//
// complexityK and autoApprove implement spec.md §6's approval gate: a
// sub-graph larger than complexityK requires a human in the loop, and since
// this repo has no interactive approval channel (a Non-goal, spec.md §1),
// autoApprove is the one way such an expansion can proceed unattended.
func ExpandSubgraph(g *dag.Graph, parentID string, architectResponse string, complexityK int, autoApprove bool) ([]string, error) {
	trimmed := strings.TrimSpace(architectResponse)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, nil
	}

	var raw any
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, nil // not valid JSON; treat as prose, not an error
	}

	schema, err := compileSubgraphSchema()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: compile subgraph schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("orchestrator: architect expansion for %s failed schema validation: %w", parentID, err)
	}

	var doc subgraphDoc
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, fmt.Errorf("orchestrator: decode validated subgraph: %w", err)
	}

	if complexityK > 0 && len(doc.Nodes) > complexityK && !autoApprove {
		return nil, fmt.Errorf("orchestrator: architect expansion for %s has %d nodes, exceeding complexity_k=%d, and auto_approve is false", parentID, len(doc.Nodes), complexityK)
	}

	ids := make([]string, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		node := &dag.Node{
			ID:            n.ID,
			Goal:          n.Goal,
			Tier:          tierFromString(n.Tier),
			ContextFiles:  n.ContextFiles,
			OutputTargets: n.OutputTargets,
			Contract:      srbnmodel.NewBehavioralContract(),
			State:         srbnmodel.StateTaskQueued,
			ParentID:      parentID,
		}
		if err := g.AddNode(node); err != nil {
			return nil, fmt.Errorf("orchestrator: add sub-graph node %s: %w", n.ID, err)
		}
		ids = append(ids, n.ID)
	}

	for _, e := range doc.Edges {
		kind := e.Kind
		if kind == "" {
			kind = "sequential"
		}
		if err := g.AddEdge(e.From, e.To, kind); err != nil {
			return nil, fmt.Errorf("orchestrator: add sub-graph edge %s->%s: %w", e.From, e.To, err)
		}
	}

	for _, id := range ids {
		if err := g.AddEdge(parentID, id, "expands_to"); err != nil {
			return nil, fmt.Errorf("orchestrator: link parent %s to sub-node %s: %w", parentID, id, err)
		}
	}

	return ids, nil
}
