// Package lsp implements C3: one long-lived language-server subprocess per
// configured server name, speaking Content-Length-framed JSON-RPC over
// stdio, with a diagnostic cache and an optional CLI "trust but verify"
// fallback for servers known to race their own push updates.
package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eonseed/srbn/internal/srbnmodel"
)

// serverCommands maps a known language-server name to its (command, args).
// This is a closed table, per spec.md §4.3; unknown names fail to start.
var serverCommands = map[string][]string{
	"rust-analyzer": {"rust-analyzer"},
	"pyright":       {"pyright-langserver", "--stdio"},
	"ty":            {"uvx", "ty", "server"},
	"typescript":    {"typescript-language-server", "--stdio"},
	"gopls":         {"gopls", "serve"},
}

// ctlFallbackServer is the one known server name for which get_diagnostics
// falls back to an external CLI when the cache yields nothing, per spec.md
// §4.3's "trust but verify" note.
const ctlFallbackServer = "ty"

type pendingRequest struct {
	resultCh chan rpcResult
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// Session manages one language-server subprocess.
type Session struct {
	serverName string
	logger     *log.Logger

	mu        sync.Mutex // guards stdin, cmd and ready; held across each framed stdin write so writes never interleave
	stdin     io.WriteCloser
	cmd       *exec.Cmd
	ready     bool
	requestID atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]*pendingRequest

	diagMu sync.Mutex
	diag   map[string][]srbnmodel.Diagnostic

	readerDone chan struct{}
}

// NewSession returns a session for the given known server name. The
// subprocess is not started until Start is called.
func NewSession(serverName string) *Session {
	return &Session{
		serverName: serverName,
		logger:     log.New(os.Stderr, fmt.Sprintf("[srbn-lsp:%s] ", serverName), log.LstdFlags),
		pending:    make(map[uint64]*pendingRequest),
		diag:       make(map[string][]srbnmodel.Diagnostic),
		requestID:  atomic.Uint64{},
	}
}

// Start spawns the server process, begins the background reader, sends
// initialize with the workspace root's file:// URI, awaits the result,
// sends initialized, and marks the session ready.
func (s *Session) Start(ctx context.Context, workspaceRoot string) error {
	args, ok := serverCommands[s.serverName]
	if !ok {
		return fmt.Errorf("lsp: unknown language server %q", s.serverName)
	}

	s.logger.Printf("starting %v", args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workspaceRoot

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("lsp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("lsp: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("lsp: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("lsp: failed to start %s: %w", args[0], err)
	}

	s.mu.Lock()
	s.stdin = stdin
	s.cmd = cmd
	s.mu.Unlock()

	s.readerDone = make(chan struct{})
	go s.drainStderr(stderr)
	go s.readLoop(stdout)

	if err := s.initialize(workspaceRoot); err != nil {
		_ = s.Shutdown()
		return err
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Session) drainStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Printf("stderr: %s", scanner.Text())
	}
}

// readLoop is the background reader: infinite until EOF, parsing
// Content-Length-framed messages and dispatching each to handleMessage.
// It runs concurrently with the main goroutine; the only shared state it
// touches (pending map, diagnostic cache) is guarded by short-lived locks
// never held across I/O, per spec.md §5.
func (s *Session) readLoop(stdout io.ReadCloser) {
	defer close(s.readerDone)
	reader := bufio.NewReader(stdout)
	for {
		length, err := readHeaders(reader)
		if err != nil {
			if err != io.EOF {
				s.logger.Printf("header read error: %v", err)
			}
			s.releaseAllPending(fmt.Errorf("lsp: subprocess closed: %w", err))
			s.markNotReady()
			return
		}
		if length == 0 {
			continue
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			s.logger.Printf("body read error: %v", err)
			s.releaseAllPending(fmt.Errorf("lsp: subprocess closed: %w", err))
			s.markNotReady()
			return
		}
		s.handleMessage(body)
	}
}

// readHeaders reads ASCII header lines terminated by \r\n up to a blank
// \r\n, returning the Content-Length value.
func readHeaders(r *bufio.Reader) (int, error) {
	contentLength := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return contentLength, nil
		}
		if strings.HasPrefix(line, "Content-Length:") {
			v := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			n, err := strconv.Atoi(v)
			if err == nil {
				contentLength = n
			}
		}
	}
}

type wireMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (s *Session) handleMessage(body []byte) {
	var msg wireMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		s.logger.Printf("decode error: %v", err)
		return
	}

	if msg.ID != nil {
		s.pendingMu.Lock()
		pr, ok := s.pending[*msg.ID]
		if ok {
			delete(s.pending, *msg.ID)
		}
		s.pendingMu.Unlock()
		if !ok {
			return
		}
		if len(msg.Error) > 0 {
			pr.resultCh <- rpcResult{err: fmt.Errorf("lsp: server error: %s", string(msg.Error))}
		} else {
			pr.resultCh <- rpcResult{result: msg.Result}
		}
		return
	}

	if msg.Method == "textDocument/publishDiagnostics" {
		s.handlePublishDiagnostics(msg.Params)
	}
}

type publishDiagnosticsParams struct {
	URI         string           `json:"uri"`
	Diagnostics []wireDiagnostic `json:"diagnostics"`
}

type wireDiagnostic struct {
	Range struct {
		Start struct {
			Line      int `json:"line"`
			Character int `json:"character"`
		} `json:"start"`
	} `json:"range"`
	Severity *int   `json:"severity"`
	Message  string `json:"message"`
}

// lspSeverity converts the LSP wire severity integer (1=Error..4=Hint) to
// our DiagnosticSeverity. A missing severity is treated as Warning for
// energy purposes, per spec.md §4.3.
func lspSeverity(sev *int) srbnmodel.DiagnosticSeverity {
	if sev == nil {
		return srbnmodel.SeverityWarning
	}
	switch *sev {
	case 1:
		return srbnmodel.SeverityError
	case 2:
		return srbnmodel.SeverityWarning
	case 3:
		return srbnmodel.SeverityInformation
	case 4:
		return srbnmodel.SeverityHint
	default:
		return srbnmodel.SeverityWarning
	}
}

func (s *Session) handlePublishDiagnostics(raw json.RawMessage) {
	var params publishDiagnosticsParams
	if err := json.Unmarshal(raw, &params); err != nil {
		s.logger.Printf("bad publishDiagnostics params: %v", err)
		return
	}

	path := strings.TrimPrefix(params.URI, "file://")
	diags := make([]srbnmodel.Diagnostic, 0, len(params.Diagnostics))
	for _, d := range params.Diagnostics {
		diags = append(diags, srbnmodel.Diagnostic{
			Path:     path,
			Line:     d.Range.Start.Line,
			Column:   d.Range.Start.Character,
			Severity: lspSeverity(d.Severity),
			Message:  d.Message,
		})
	}

	s.diagMu.Lock()
	s.diag[params.URI] = diags
	s.diag[path] = diags
	if base := filepath.Base(path); base != "" {
		s.diag[base] = diags
	}
	s.diagMu.Unlock()
	s.logger.Printf("updated diagnostics for %s (%d)", path, len(diags))
}

func (s *Session) releaseAllPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, pr := range s.pending {
		pr.resultCh <- rpcResult{err: err}
		delete(s.pending, id)
	}
}

func (s *Session) markNotReady() {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
}

// fileURI builds a file:// URI from an absolute workspace path. On Windows,
// backslashes become forward slashes and the URI gets a triple slash.
func fileURI(path string) string {
	if runtime.GOOS == "windows" {
		return "file:///" + strings.ReplaceAll(path, "\\", "/")
	}
	return "file://" + path
}

func (s *Session) initialize(workspaceRoot string) error {
	params := map[string]any{
		"rootUri":     fileURI(workspaceRoot),
		"capabilities": map[string]any{},
	}
	if _, err := s.sendRequest("initialize", params); err != nil {
		return fmt.Errorf("lsp: initialize: %w", err)
	}
	if err := s.sendNotification("initialized", map[string]any{}); err != nil {
		return fmt.Errorf("lsp: initialized notification: %w", err)
	}
	return nil
}

func (s *Session) sendRequest(method string, params any) (json.RawMessage, error) {
	id := s.requestID.Add(1)
	pr := &pendingRequest{resultCh: make(chan rpcResult, 1)}

	s.pendingMu.Lock()
	s.pending[id] = pr
	s.pendingMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return nil, err
	}

	if err := s.writeMessage(body); err != nil {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return nil, err
	}

	res := <-pr.resultCh
	return res.result, res.err
}

func (s *Session) sendNotification(method string, params any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	return s.writeMessage(body)
}

func (s *Session) writeMessage(body []byte) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("lsp: not available (stdin closed)")
	}

	var framed bytes.Buffer
	fmt.Fprintf(&framed, "Content-Length: %d\r\n\r\n", len(body))
	framed.Write(body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return fmt.Errorf("lsp: not available (stdin closed)")
	}
	_, err := s.stdin.Write(framed.Bytes())
	return err
}

// DidOpen notifies the server that a document was opened.
func (s *Session) DidOpen(path, text string) error {
	if !s.IsReady() {
		return nil
	}
	return s.sendNotification("textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{
			"uri":        fileURI(path),
			"languageId": "plaintext",
			"version":    1,
			"text":       text,
		},
	})
}

// DidChange notifies the server that a document changed.
func (s *Session) DidChange(path, text string, version int) error {
	if !s.IsReady() {
		return nil
	}
	return s.sendNotification("textDocument/didChange", map[string]any{
		"textDocument": map[string]any{
			"uri":     fileURI(path),
			"version": version,
		},
		"contentChanges": []map[string]any{{"text": text}},
	})
}

// GetDiagnostics returns cached diagnostics for path, trying in order: exact
// key, URI-stripped key, URI-prefixed key, basename. For the one known
// server prone to racing its own push updates, an empty cache result is
// cross-checked with an external CLI invocation (spec.md §4.3 "trust but
// verify").
func (s *Session) GetDiagnostics(path string) []srbnmodel.Diagnostic {
	s.diagMu.Lock()
	cached := s.lookupDiagnostics(path)
	s.diagMu.Unlock()

	if len(cached) > 0 {
		return cached
	}
	if s.serverName == ctlFallbackServer {
		return s.runCLIFallback(path)
	}
	return nil
}

func (s *Session) lookupDiagnostics(path string) []srbnmodel.Diagnostic {
	if d, ok := s.diag[path]; ok {
		return d
	}
	stripped := strings.TrimPrefix(path, "file://")
	if d, ok := s.diag[stripped]; ok {
		return d
	}
	if !strings.HasPrefix(path, "file://") {
		if d, ok := s.diag["file://"+path]; ok {
			return d
		}
	}
	if base := filepath.Base(path); base != "" {
		if d, ok := s.diag[base]; ok {
			return d
		}
	}
	return nil
}

// IsReady reports whether the server is running and initialized. Beyond
// the ready flag flipped by the handshake, it checks the subprocess is
// still alive at the OS level: the reader goroutine only learns of a dead
// server once it observes EOF on stdout, which can lag the process's
// actual death by a tick if it was killed (not closed) from outside.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.cmd == nil || s.cmd.Process == nil {
		return false
	}
	return pidAlive(s.cmd.Process.Pid)
}

// Shutdown kills the subprocess and marks the session not-ready. Safe to
// call multiple times.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	cmd := s.cmd
	stdin := s.stdin
	s.ready = false
	s.cmd = nil
	s.stdin = nil
	s.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return nil
}
