// Package config loads and validates the SRBN session configuration: the
// Lyapunov energy weights, stability thresholds, retry budgets, LSP server
// table, and test-runner timeout — all the ambient knobs spec.md's
// components read at session start. Shape and strict-decode discipline
// follow the teacher's internal/attractor/engine.RunConfigFile.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LSPServerConfig names one LSP server entry in the config's server table.
type LSPServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// EnergyWeightsConfig mirrors srbnmodel.EnergyWeights for YAML round-trip.
type EnergyWeightsConfig struct {
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
	Gamma float64 `yaml:"gamma"`
}

// SessionConfig is the top-level SRBN session configuration document.
type SessionConfig struct {
	Version int `yaml:"version"`

	ComplexityK        int     `yaml:"complexity_k"`
	AutoApprove         bool    `yaml:"auto_approve"`
	MaxRetries          int     `yaml:"max_retries"`
	StabilityEpsilon    float64 `yaml:"stability_epsilon"`
	TestTimeoutSecs     int     `yaml:"test_timeout_secs"`

	EnergyWeights EnergyWeightsConfig `yaml:"energy_weights"`

	LSPServers []LSPServerConfig `yaml:"lsp_servers,omitempty"`

	WorkingDir string `yaml:"working_dir,omitempty"`
	LedgerPath string `yaml:"ledger_path,omitempty"`

	// DefaultLSPServer selects which entry of LSPServers (by name) the
	// orchestrator starts for live syntactic diagnostics. An empty value
	// reaching cmd/srbn disables LSP entirely, leaving V_syn at zero, per
	// internal/orchestrator.Engine's "LSP nil disables syntactic-energy
	// diagnostics" contract. Load and Default replace an empty value with
	// "ty", so a config file cannot leave it empty.
	DefaultLSPServer string `yaml:"default_lsp_server,omitempty"`
}

// Load reads and strictly decodes a YAML session config from path,
// applies defaults, then validates. Strict decoding (KnownFields) follows
// the teacher's decodeYAMLStrict, rejecting typos in field names rather
// than silently ignoring them.
func Load(path string) (*SessionConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg SessionConfig
	if err := decodeYAMLStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func decodeYAMLStrict(b []byte, cfg *SessionConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

// Default returns a SessionConfig with every field at its spec.md default:
// complexity_k=5, max_retries=3, stability_epsilon=0.1, energy weights
// 1.0/0.5/2.0, test_timeout_secs=300.
func Default() *SessionConfig {
	cfg := &SessionConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *SessionConfig) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.ComplexityK == 0 {
		cfg.ComplexityK = 5
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StabilityEpsilon == 0 {
		cfg.StabilityEpsilon = 0.1
	}
	if cfg.TestTimeoutSecs == 0 {
		cfg.TestTimeoutSecs = 300
	}
	if cfg.EnergyWeights == (EnergyWeightsConfig{}) {
		cfg.EnergyWeights = EnergyWeightsConfig{Alpha: 1.0, Beta: 0.5, Gamma: 2.0}
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "srbn-ledger.msgpack"
	}
	if len(cfg.LSPServers) == 0 {
		cfg.LSPServers = defaultLSPServers()
	}
	if cfg.DefaultLSPServer == "" {
		cfg.DefaultLSPServer = "ty"
	}
}

// defaultLSPServers matches the closed server table in internal/lsp's
// serverCommands, given here as config defaults so a session with no
// explicit lsp_servers block still gets the standard five.
func defaultLSPServers() []LSPServerConfig {
	return []LSPServerConfig{
		{Name: "rust-analyzer", Command: "rust-analyzer"},
		{Name: "pyright", Command: "pyright-langserver", Args: []string{"--stdio"}},
		{Name: "ty", Command: "uvx", Args: []string{"ty", "server"}},
		{Name: "typescript", Command: "typescript-language-server", Args: []string{"--stdio"}},
		{Name: "gopls", Command: "gopls", Args: []string{"serve"}},
	}
}

func validate(cfg *SessionConfig) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	if cfg.ComplexityK <= 0 {
		return fmt.Errorf("complexity_k must be > 0")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if cfg.StabilityEpsilon <= 0 {
		return fmt.Errorf("stability_epsilon must be > 0")
	}
	if cfg.TestTimeoutSecs <= 0 {
		return fmt.Errorf("test_timeout_secs must be > 0")
	}
	w := cfg.EnergyWeights
	if w.Alpha < 0 || w.Beta < 0 || w.Gamma < 0 {
		return fmt.Errorf("energy_weights must be non-negative")
	}
	known := make(map[string]bool, len(cfg.LSPServers))
	for _, s := range cfg.LSPServers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("lsp_servers entry missing name")
		}
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("lsp_servers.%s missing command", s.Name)
		}
		known[s.Name] = true
	}
	if cfg.DefaultLSPServer != "" && !known[cfg.DefaultLSPServer] {
		return fmt.Errorf("default_lsp_server %q is not listed in lsp_servers", cfg.DefaultLSPServer)
	}
	return nil
}
