package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ComplexityK != 5 {
		t.Fatalf("complexity_k = %d, want 5", cfg.ComplexityK)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("max_retries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.StabilityEpsilon != 0.1 {
		t.Fatalf("stability_epsilon = %v, want 0.1", cfg.StabilityEpsilon)
	}
	if cfg.EnergyWeights != (EnergyWeightsConfig{Alpha: 1.0, Beta: 0.5, Gamma: 2.0}) {
		t.Fatalf("energy weights = %+v", cfg.EnergyWeights)
	}
	if len(cfg.LSPServers) != 5 {
		t.Fatalf("got %d default lsp servers, want 5", len(cfg.LSPServers))
	}
	if cfg.DefaultLSPServer != "ty" {
		t.Fatalf("default_lsp_server = %q, want ty", cfg.DefaultLSPServer)
	}
}

func TestValidateRejectsUnknownDefaultLSPServer(t *testing.T) {
	cfg := Default()
	cfg.DefaultLSPServer = "cobol-analyzer"
	if err := validate(cfg); err == nil {
		t.Fatal("expected an unknown default_lsp_server to be rejected")
	}
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nmax_retries: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("max_retries = %d, want 5 (explicit)", cfg.MaxRetries)
	}
	if cfg.ComplexityK != 5 {
		t.Fatalf("complexity_k = %d, want 5 (default)", cfg.ComplexityK)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nmax_retriez: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	if err := os.WriteFile(path, []byte("version: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unsupported version")
	}
}

func TestValidateRejectsNegativeWeights(t *testing.T) {
	cfg := Default()
	cfg.EnergyWeights.Alpha = -1
	if err := validate(cfg); err == nil {
		t.Fatal("expected negative energy weight to be rejected")
	}
}
