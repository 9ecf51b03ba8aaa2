package toolserver

import (
	"context"
	"testing"
	"time"

	"github.com/auditforge/api/internal/model"
)

// responderScript answers newline-delimited JSON-RPC requests on stdin,
// dispatching on the method name embedded in each request line.
const responderScript = `
while IFS= read -r line; do
  case "$line" in
    *"tools/call"*) echo '{"jsonrpc":"2.0","id":0,"result":{"content":[{"type":"text","text":"scan complete"}],"isError":false}}' ;;
    *"tools/list"*) echo '{"jsonrpc":"2.0","id":0,"result":{"tools":[{"name":"slither_scan","description":"static analysis"}]}}' ;;
    *"resources/list"*) echo '{"jsonrpc":"2.0","id":0,"result":{"resources":[]}}' ;;
    *) echo '{"jsonrpc":"2.0","id":0,"result":{}}' ;;
  esac
done
`

func stdioConfig() model.ToolServerConfig {
	return model.ToolServerConfig{
		Name:       "scanner",
		Transport:  model.TransportStdio,
		Command:    "/bin/sh",
		Args:       []string{"-c", responderScript},
		TimeoutSec: 5,
		Enabled:    true,
		Priority:   1,
	}
}

// The subprocess must survive past the connect context: the connect
// timeout bounds the handshake only, and tool calls arrive much later.
func TestStdioCallSurvivesConnectContext(t *testing.T) {
	tr := newStdioTransport(stdioConfig())

	connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := tr.Connect(connectCtx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer tr.Close()
	cancel()

	resp, err := tr.Call(context.Background(), "tools/call", map[string]any{
		"name":      "slither_scan",
		"arguments": map[string]any{},
	})
	if err != nil {
		t.Fatalf("call after connect failed: %v", err)
	}
	if resp.Failed() {
		t.Fatalf("call returned no result: %+v", resp)
	}
}

func TestStdioManagerRoundTrip(t *testing.T) {
	m := NewManager()
	m.Initialize(context.Background(), []model.ToolServerConfig{stdioConfig()})
	defer m.Shutdown()

	if n := m.ConnectedCount(); n != 1 {
		t.Fatalf("expected 1 connected server, got %d", n)
	}
	tools := m.Tools()
	if len(tools) != 1 || tools[0].Name != "slither_scan" {
		t.Fatalf("unexpected catalog: %+v", tools)
	}

	result, err := m.CallTool(context.Background(), "slither_scan", map[string]any{"target": "contract.sol"}, "")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("call returned error result: %s", result.Text())
	}
	if result.Text() != "scan complete" {
		t.Errorf("unexpected result text: %q", result.Text())
	}
}

func TestStdioConnectHandshakeTimeout(t *testing.T) {
	cfg := stdioConfig()
	// A responder that never answers the handshake
	cfg.Args = []string{"-c", "while IFS= read -r line; do :; done"}

	tr := newStdioTransport(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := tr.Connect(ctx); err == nil {
		tr.Close()
		t.Fatal("connect should fail when the handshake never completes")
	}
}

func TestStdioMissingCommand(t *testing.T) {
	cfg := stdioConfig()
	cfg.Command = ""
	if err := newStdioTransport(cfg).Connect(context.Background()); err == nil {
		t.Fatal("connect should fail without a command")
	}
}
