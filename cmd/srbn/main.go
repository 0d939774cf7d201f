// Command srbn runs a Stabilized Recursive Barrier Network session: it
// loads a session config, builds a single-node task graph from a goal
// string, wires up the agent roster, ledger, and test runner, and drives
// the orchestrator's 7-step control loop to completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eonseed/srbn/internal/agentroster"
	"github.com/eonseed/srbn/internal/config"
	"github.com/eonseed/srbn/internal/dag"
	"github.com/eonseed/srbn/internal/ledger"
	"github.com/eonseed/srbn/internal/lsp"
	"github.com/eonseed/srbn/internal/orchestrator"
	"github.com/eonseed/srbn/internal/retriever"
	"github.com/eonseed/srbn/internal/srbnmodel"
	"github.com/eonseed/srbn/internal/testrunner"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Println("srbn 0.1.0")
		os.Exit(0)
	case "run":
		runCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  srbn --version")
	fmt.Fprintln(os.Stderr, "  srbn run --goal <text> [--config <session.yaml>] [--workdir <dir>]")
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	goal := fs.String("goal", "", "the top-level task goal")
	configPath := fs.String("config", "", "path to a session.yaml (optional; defaults apply otherwise)")
	workDir := fs.String("workdir", ".", "workspace root for retrieval and test execution")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *goal == "" {
		fmt.Fprintln(os.Stderr, "srbn run: --goal is required")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "srbn: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	if err := run(ctx, *goal, *workDir, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "srbn: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, goal, workDir string, cfg *config.SessionConfig) error {
	g := dag.New()
	root := &dag.Node{
		ID:       srbnmodel.NewNodeID(),
		Goal:     goal,
		Tier:     srbnmodel.TierArchitect,
		Contract: srbnmodel.NewBehavioralContract(),
	}
	if err := g.AddNode(root); err != nil {
		return err
	}

	client, err := newLLMClient()
	if err != nil {
		return err
	}
	roster := agentroster.NewRoster(client, nil)

	led, err := ledger.OpenFileLedger(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer led.Close()

	ret := retriever.New(workDir)
	runner := testrunner.New(workDir)
	if cfg.TestTimeoutSecs > 0 {
		runner.Timeout = time.Duration(cfg.TestTimeoutSecs) * time.Second
	}

	eng := orchestrator.New(g, roster, led, ret, runner, cfg)
	eng.LSP = startLSP(ctx, cfg, workDir)
	if eng.LSP != nil {
		defer eng.LSP.Shutdown()
	}

	sessionID := srbnmodel.NewSessionID()
	result, err := eng.Run(ctx, sessionID, goal)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}

	fmt.Printf("session %s completed: %d node(s), final merkle root %x\n", sessionID, len(result.NodeOrder), result.FinalRoot)
	return nil
}

// startLSP starts cfg.DefaultLSPServer rooted at workDir for live syntactic
// diagnostics. A start failure (server binary missing, etc.) is not fatal
// to the session: it is logged and the session proceeds with V_syn pinned
// at zero, the same degraded mode as an explicitly disabled LSP.
func startLSP(ctx context.Context, cfg *config.SessionConfig, workDir string) *lsp.Session {
	if cfg.DefaultLSPServer == "" {
		return nil
	}
	session := lsp.NewSession(cfg.DefaultLSPServer)
	if err := session.Start(ctx, workDir); err != nil {
		fmt.Fprintf(os.Stderr, "srbn: starting %s language server: %v (continuing without live diagnostics)\n", cfg.DefaultLSPServer, err)
		return nil
	}
	return session
}

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}
