package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/auditforge/api/internal/model"
)

// stdioTransport spawns the configured command and speaks
// newline-delimited JSON-RPC over its standard streams.
type stdioTransport struct {
	cfg model.ToolServerConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	nextID int64
}

func newStdioTransport(cfg model.ToolServerConfig) *stdioTransport {
	return &stdioTransport{cfg: cfg}
}

func (t *stdioTransport) Connect(ctx context.Context) error {
	if t.cfg.Command == "" {
		return fmt.Errorf("stdio transport requires command configuration")
	}

	args := append([]string(nil), t.cfg.Args...)
	if t.cfg.TokenEnv != "" {
		token := os.Getenv(t.cfg.TokenEnv)
		if token == "" {
			log.Printf("Warning: no token found for %s in %s", t.cfg.Name, t.cfg.TokenEnv)
		} else {
			args = append(args, "--token", token)
		}
	}

	// The subprocess must outlive the connect context: tool calls keep
	// arriving long after initialization, and the process is only torn
	// down by Close. The context bounds the handshake alone.
	cmd := exec.Command(t.cfg.Command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", t.cfg.Command, err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	t.mu.Unlock()

	// Kill the process if the handshake overruns the connect timeout.
	// The pipes are closed directly because Call holds the transport
	// lock while it reads.
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stdin.Close()
			cmd.Process.Kill()
		case <-handshakeDone:
		}
	}()

	_, err = t.Call(ctx, "initialize", map[string]any{"capabilities": map[string]any{}})
	close(handshakeDone)
	if err != nil {
		t.Close()
		return fmt.Errorf("initialize failed: %w", err)
	}
	return nil
}

// Call writes one request line and reads lines until a recognizable
// response shows up. Calls are serialized; the subprocess answers in
// order.
func (t *stdioTransport) Call(ctx context.Context, method string, params any) (*rpcResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil {
		return nil, fmt.Errorf("no active subprocess for %s", t.cfg.Name)
	}

	t.nextID++
	body, err := json.Marshal(newRequest(t.nextID, method, params))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := t.stdin.Write(append(body, '\n')); err != nil {
		return nil, fmt.Errorf("failed to write to %s: %w", t.cfg.Name, err)
	}

	for t.stdout.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if out, ok := decodeRPCLine(t.stdout.Bytes()); ok {
			return out, nil
		}
	}
	if err := t.stdout.Err(); err != nil {
		return nil, fmt.Errorf("failed to read from %s: %w", t.cfg.Name, err)
	}
	return nil, fmt.Errorf("subprocess %s closed its output", t.cfg.Name)
}

func (t *stdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin != nil {
		t.stdin.Close()
		t.stdin = nil
	}
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
		t.cmd.Wait()
		t.cmd = nil
	}
	return nil
}
