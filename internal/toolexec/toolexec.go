// Package toolexec implements the Actuator's workspace tool surface named
// in spec.md §6 — read_file, search_code, apply_patch, write_file,
// list_files, run_command — dispatched by name exactly like the teacher's
// internal/agent.ToolRegistry.ExecuteCall, adapted from a per-tool
// JSON-schema-validated registry to the fixed six-tool surface
// original_source/tools.rs defines (SPEC_FULL.md's SUPPLEMENTED FEATURES
// section calls this out as adopted, not invented, from the original).
package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/eonseed/srbn/internal/retriever"
)

// ToolCall is one agent-issued tool invocation, matching tools.rs's
// ToolCall{name, arguments} shape.
type ToolCall struct {
	Name      string
	Arguments map[string]string
}

// ToolResult is the outcome of executing a ToolCall, matching tools.rs's
// ToolResult::success/failure shape.
type ToolResult struct {
	ToolName string
	Success  bool
	Output   string
	Error    string
}

// Parameter describes one tool argument for LLM function-calling, matching
// tools.rs::get_tool_definitions's ToolParameter.
type Parameter struct {
	Name        string
	Description string
	Required    bool
}

// Definition describes one tool for LLM function-calling: a
// name/description/JSON-schema-parameter block. Prompt engineering itself
// is a Non-goal (spec.md §1), but the surface shape of a tool-call offer
// is not, per SPEC_FULL.md's SUPPLEMENTED FEATURES section.
type Definition struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// Tools is the Actuator's workspace interaction surface. Relative paths
// resolve against WorkingDir, per spec.md §6.
type Tools struct {
	WorkingDir  string
	Retriever   *retriever.Retriever
	AutoApprove bool // gates run_command; see runCommand's doc comment
}

// New returns a Tools surface backed by ret (for read_file/search_code)
// rooted at workingDir. autoApprove mirrors SessionConfig.AutoApprove.
func New(workingDir string, ret *retriever.Retriever, autoApprove bool) *Tools {
	return &Tools{WorkingDir: workingDir, Retriever: ret, AutoApprove: autoApprove}
}

type registeredTool struct {
	def    Definition
	schema *jsonschema.Schema
	exec   func(t *Tools, ctx context.Context, args map[string]string) ToolResult
}

var (
	registryOnce sync.Once
	registry     map[string]registeredTool
)

func definitions() []Definition {
	return []Definition{
		{Name: "read_file", Description: "Read the contents of a file", Parameters: []Parameter{
			{Name: "path", Description: "Path to the file to read", Required: true},
		}},
		{Name: "search_code", Description: "Search for a literal string in the workspace", Parameters: []Parameter{
			{Name: "query", Description: "Search pattern", Required: true},
			{Name: "path", Description: "Directory to search under (default: working directory)", Required: false},
		}},
		{Name: "apply_patch", Description: "Write or replace file contents, creating parent directories", Parameters: []Parameter{
			{Name: "path", Description: "Path to the file to write", Required: true},
			{Name: "content", Description: "New file contents", Required: true},
		}},
		{Name: "write_file", Description: "Write or replace file contents (alias for apply_patch)", Parameters: []Parameter{
			{Name: "path", Description: "Path to the file to write", Required: true},
			{Name: "content", Description: "New file contents", Required: true},
		}},
		{Name: "list_files", Description: "List files in a directory", Parameters: []Parameter{
			{Name: "path", Description: "Directory path (default: working directory)", Required: false},
		}},
		{Name: "run_command", Description: "Execute a shell command in the working directory", Parameters: []Parameter{
			{Name: "command", Description: "Shell command to execute", Required: true},
		}},
	}
}

// Definitions returns the tool-calling schema surface, per
// tools.rs::get_tool_definitions.
func Definitions() []Definition {
	return definitions()
}

func buildRegistry() map[string]registeredTool {
	execs := map[string]func(t *Tools, ctx context.Context, args map[string]string) ToolResult{
		"read_file":   (*Tools).readFile,
		"search_code": (*Tools).searchCode,
		"apply_patch": (*Tools).applyPatch,
		"write_file":  (*Tools).applyPatch,
		"list_files":  (*Tools).listFiles,
		"run_command": (*Tools).runCommand,
	}

	out := make(map[string]registeredTool, len(execs))
	for _, def := range definitions() {
		schema, err := compileSchema(def)
		if err != nil {
			// The schema is a fixed literal built from definitions() above;
			// a compile failure here is a programming error, not a runtime
			// condition a caller can recover from.
			panic(fmt.Sprintf("toolexec: compile schema for %s: %v", def.Name, err))
		}
		out[def.Name] = registeredTool{def: def, schema: schema, exec: execs[def.Name]}
	}
	return out
}

// compileSchema builds a JSON Schema object type from a tool's parameter
// list and compiles it, matching the teacher's ToolRegistry.compileSchema.
func compileSchema(def Definition) (*jsonschema.Schema, error) {
	props := make(map[string]any, len(def.Parameters))
	var required []string
	for _, p := range def.Parameters {
		props[p.Name] = map[string]any{"type": "string", "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": true,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(def.Name+".json", bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile(def.Name + ".json")
}

// Execute validates call.Arguments against the tool's JSON schema, then
// dispatches by name — matching the teacher's
// ToolRegistry.ExecuteCall (schema validate, then Exec) and tools.rs's
// AgentTools::execute switch. An unknown tool name, or arguments failing
// schema validation, is reported as a tool failure rather than an error,
// per spec.md's External Interfaces table ("Unknown agent tool name ->
// Tool result = failure").
func (t *Tools) Execute(ctx context.Context, call ToolCall) ToolResult {
	registryOnce.Do(func() { registry = buildRegistry() })

	tool, ok := registry[call.Name]
	if !ok {
		return failure(call.Name, fmt.Sprintf("unknown tool: %s", call.Name))
	}

	args := make(map[string]any, len(call.Arguments))
	for k, v := range call.Arguments {
		args[k] = v
	}
	if err := tool.schema.Validate(args); err != nil {
		return failure(call.Name, fmt.Sprintf("invalid arguments: %v", err))
	}

	return tool.exec(t, ctx, call.Arguments)
}

func failure(name, msg string) ToolResult {
	return ToolResult{ToolName: name, Success: false, Error: msg}
}

func success(name, output string) ToolResult {
	return ToolResult{ToolName: name, Success: true, Output: output}
}

func (t *Tools) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(t.WorkingDir, path)
}

func (t *Tools) readFile(ctx context.Context, args map[string]string) ToolResult {
	content, err := t.Retriever.ReadFileTruncated(t.resolve(args["path"]), 0)
	if err != nil {
		return failure("read_file", err.Error())
	}
	return success("read_file", content)
}

func (t *Tools) searchCode(ctx context.Context, args map[string]string) ToolResult {
	hits, err := t.Retriever.Search(args["query"])
	if err != nil {
		return failure("search_code", err.Error())
	}
	if dir := args["path"]; dir != "" {
		prefix := filepath.ToSlash(t.resolve(dir))
		filtered := hits[:0]
		for _, h := range hits {
			if strings.HasPrefix(filepath.ToSlash(h.Path), prefix) {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "%s:%d:%s\n", h.Path, h.Line, h.Content)
	}
	return success("search_code", b.String())
}

func (t *Tools) applyPatch(ctx context.Context, args map[string]string) ToolResult {
	full := t.resolve(args["path"])
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return failure("apply_patch", fmt.Sprintf("create directories: %v", err))
	}
	if err := os.WriteFile(full, []byte(args["content"]), 0o644); err != nil {
		return failure("apply_patch", fmt.Sprintf("write %s: %v", full, err))
	}
	return success("apply_patch", fmt.Sprintf("wrote %s", full))
}

func (t *Tools) listFiles(ctx context.Context, args map[string]string) ToolResult {
	dir := t.WorkingDir
	if p := args["path"]; p != "" {
		dir = t.resolve(p)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return failure("list_files", fmt.Sprintf("list %s: %v", dir, err))
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return success("list_files", strings.Join(names, "\n"))
}

// runCommand executes command via "sh -c" in WorkingDir. spec.md §6 gates
// run_command "through the policy and sandbox collaborators"; the policy
// rule language itself is a Non-goal (spec.md §1), so AutoApprove is the
// one gate this repo implements directly. A denied command is a tool
// failure, not an error, per spec.md's External Interfaces table ("Sandbox/
// policy denial of a command -> Propagated to the Actuator as a tool
// failure").
func (t *Tools) runCommand(ctx context.Context, args map[string]string) ToolResult {
	command := args["command"]
	if !t.AutoApprove {
		return failure("run_command", "command denied: auto_approve is false and no interactive approval channel is configured")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.WorkingDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return failure("run_command", fmt.Sprintf("%v: %s", err, string(out)))
	}
	return success("run_command", string(out))
}
