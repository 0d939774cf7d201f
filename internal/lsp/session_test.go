package lsp

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/eonseed/srbn/internal/srbnmodel"
)

func TestReadHeadersParsesContentLength(t *testing.T) {
	raw := "Content-Length: 42\r\nSome-Other-Header: x\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	n, err := readHeaders(r)
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Fatalf("content length = %d, want 42", n)
	}
}

func TestWireRoundTripByID(t *testing.T) {
	s := NewSession("gopls")
	pr := &pendingRequest{resultCh: make(chan rpcResult, 1)}
	s.pending[7] = pr

	body := []byte(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`)
	s.handleMessage(body)

	select {
	case res := <-pr.resultCh:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if !bytes.Contains(res.result, []byte("ok")) {
			t.Fatalf("unexpected result payload: %s", res.result)
		}
	default:
		t.Fatal("expected the awaiter registered under id=7 to complete")
	}
}

func TestPublishDiagnosticsMultiKeyCache(t *testing.T) {
	s := NewSession("gopls")
	raw := []byte(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":"file:///ws/pkg/main.go","diagnostics":[{"range":{"start":{"line":4,"character":1},"end":{"line":4,"character":2}},"severity":1,"message":"boom"}]}}`)
	s.handleMessage(raw)

	for _, key := range []string{"file:///ws/pkg/main.go", "/ws/pkg/main.go", "main.go"} {
		diags := s.GetDiagnostics(key)
		if len(diags) != 1 {
			t.Fatalf("lookup by %q: got %d diagnostics, want 1", key, len(diags))
		}
		if diags[0].Severity != srbnmodel.SeverityError {
			t.Fatalf("lookup by %q: severity = %v, want Error", key, diags[0].Severity)
		}
	}
}

func TestMissingSeverityDefaultsWarning(t *testing.T) {
	if lspSeverity(nil) != srbnmodel.SeverityWarning {
		t.Fatal("missing severity must default to Warning")
	}
}

func TestFileURIConstruction(t *testing.T) {
	uri := fileURI("/home/user/project")
	if !strings.HasPrefix(uri, "file://") {
		t.Fatalf("uri = %q, want file:// prefix", uri)
	}
}
