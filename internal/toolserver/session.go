package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/auditforge/api/internal/model"
)

// transport is the wire mechanism behind one session.
type transport interface {
	Connect(ctx context.Context) error
	Call(ctx context.Context, method string, params any) (*rpcResponse, error)
	Close() error
}

// ServerSession is one live connection to one tool server. It is owned
// and mutated exclusively by the Manager.
type ServerSession struct {
	Config model.ToolServerConfig

	tr        transport
	connected bool
	lastErr   error
	tools     []model.ToolDescriptor
	resources []model.ResourceDescriptor
}

func newSession(cfg model.ToolServerConfig) *ServerSession {
	s := &ServerSession{Config: cfg}
	switch cfg.Transport {
	case model.TransportStdio:
		s.tr = newStdioTransport(cfg)
	case model.TransportHTTP:
		s.tr = newHTTPTransport(cfg)
	}
	return s
}

// Connect establishes the transport. The sse transport is deliberately
// unsupported and fails fast.
func (s *ServerSession) Connect(ctx context.Context) error {
	if s.Config.Transport == model.TransportSSE {
		s.lastErr = fmt.Errorf("sse transport not implemented")
		return s.lastErr
	}
	if s.tr == nil {
		s.lastErr = fmt.Errorf("unsupported transport: %s", s.Config.Transport)
		return s.lastErr
	}
	if err := s.tr.Connect(ctx); err != nil {
		s.lastErr = err
		return err
	}
	s.connected = true
	return nil
}

// ListCapabilities refreshes the session's tool and resource lists. A
// transport failure on either listing leaves that list empty rather
// than failing the session; usability is decided by the caller from
// the tool count.
func (s *ServerSession) ListCapabilities(ctx context.Context) {
	s.tools = nil
	s.resources = nil

	resp, err := s.tr.Call(ctx, "tools/list", nil)
	if err != nil {
		log.Printf("Failed to list tools from %s: %v", s.Config.Name, err)
	} else if resp.Failed() {
		log.Printf("No tools in response from %s (status %d)", s.Config.Name, resp.Status)
	} else {
		var result model.ToolsResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			log.Printf("Failed to parse tool list from %s: %v", s.Config.Name, err)
		} else {
			for i := range result.Tools {
				result.Tools[i].Server = s.Config.Name
				result.Tools[i].Priority = s.Config.Priority
			}
			s.tools = result.Tools
		}
	}

	resp, err = s.tr.Call(ctx, "resources/list", nil)
	if err != nil {
		log.Printf("Failed to list resources from %s: %v", s.Config.Name, err)
	} else if !resp.Failed() {
		var result model.ResourcesResult
		if err := json.Unmarshal(resp.Result, &result); err == nil {
			for i := range result.Resources {
				result.Resources[i].Server = s.Config.Name
			}
			s.resources = result.Resources
		}
	}

	log.Printf("Tool server %s provides %d tools and %d resources",
		s.Config.Name, len(s.tools), len(s.resources))
}

// CallTool invokes a tool on this server. Failures are reported via
// the result's IsError flag, never as a Go error.
func (s *ServerSession) CallTool(ctx context.Context, name string, args map[string]any) model.ToolCallResult {
	resp, err := s.tr.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("Error: %v", err))
	}
	if resp.Failed() {
		if resp.Err != nil {
			return errorResult(fmt.Sprintf("Error in response: %s", resp.Err.Message))
		}
		return errorResult(fmt.Sprintf("HTTP %d: %s", resp.Status, resp.Raw))
	}
	var result model.ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return errorResult(fmt.Sprintf("Error parsing result: %v", err))
	}
	return result
}

// Disconnect closes the transport.
func (s *ServerSession) Disconnect() error {
	s.connected = false
	if s.tr == nil {
		return nil
	}
	return s.tr.Close()
}

// Connected reports whether the session is usable.
func (s *ServerSession) Connected() bool { return s.connected }

// LastError returns the most recent connection error, if any.
func (s *ServerSession) LastError() error { return s.lastErr }

// Tools returns the tools discovered on this server.
func (s *ServerSession) Tools() []model.ToolDescriptor { return s.tools }

func errorResult(msg string) model.ToolCallResult {
	return model.ToolCallResult{
		Content: []model.ToolContent{{Type: "text", Text: msg}},
		IsError: true,
	}
}
