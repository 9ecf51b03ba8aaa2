package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/auditforge/api/internal/model"
)

// httpTransport speaks JSON-RPC over POST to a single endpoint. The
// same endpoint may answer with a plain JSON body or with an SSE
// stream whose data lines carry JSON-RPC fragments; both are handled.
type httpTransport struct {
	cfg    model.ToolServerConfig
	client *http.Client
	nextID atomic.Int64
}

func newHTTPTransport(cfg model.ToolServerConfig) *httpTransport {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *httpTransport) Connect(ctx context.Context) error {
	if t.cfg.URL == "" {
		return fmt.Errorf("http transport requires url configuration")
	}
	resp, err := t.Call(ctx, "initialize", map[string]any{"capabilities": map[string]any{}})
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	_ = resp // an error-shaped initialize result is tolerated; usability is decided by the tool listing
	return nil
}

func (t *httpTransport) Call(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(newRequest(t.nextID.Add(1), method, params))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if t.cfg.TokenEnv != "" {
		if token := os.Getenv(t.cfg.TokenEnv); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", t.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &rpcResponse{Status: resp.StatusCode, Raw: string(raw)}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		var out rpcResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return &rpcResponse{Status: resp.StatusCode, Raw: string(raw)}, nil
		}
		out.Status = resp.StatusCode
		out.Raw = string(raw)
		return &out, nil
	}

	// SSE (or unknown) content type: consume line by line and return
	// on the first line that decodes into a result shape. Malformed
	// intermediate lines are skipped, not fatal.
	return t.scanStream(resp)
}

func (t *httpTransport) scanStream(resp *http.Response) (*rpcResponse, error) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var tail string
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		tail = string(line)
		if out, ok := decodeRPCLine(line); ok {
			out.Status = resp.StatusCode
			return out, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event stream: %w", err)
	}
	return &rpcResponse{Status: resp.StatusCode, Raw: tail}, nil
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
