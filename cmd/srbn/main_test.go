package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/eonseed/srbn/internal/config"
)

func TestRunFailsWithoutAPIKey(t *testing.T) {
	old, had := os.LookupEnv("ANTHROPIC_API_KEY")
	os.Unsetenv("ANTHROPIC_API_KEY")
	defer func() {
		if had {
			os.Setenv("ANTHROPIC_API_KEY", old)
		}
	}()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.LedgerPath = filepath.Join(dir, "ledger.msgpack")

	err := run(context.Background(), "do something", dir, cfg)
	if err == nil {
		t.Fatal("expected an error when ANTHROPIC_API_KEY is unset")
	}
}
