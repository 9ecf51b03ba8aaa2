// Package toolserver implements the multi-server tool protocol client:
// concurrent session establishment over stdio/http transports, catalog
// aggregation with priority ordering, and call routing.
package toolserver

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/auditforge/api/internal/model"
)

// Manager owns the set of server sessions and the aggregate catalog.
type Manager struct {
	mu        sync.RWMutex
	sessions  []*ServerSession // discovery order
	byName    map[string]*ServerSession
	catalog   []model.ToolDescriptor
	resources []model.ResourceDescriptor
}

func NewManager() *Manager {
	return &Manager{byName: make(map[string]*ServerSession)}
}

// Initialize connects all enabled servers concurrently, each bounded
// by its own timeout. One broken or slow server never blocks or fails
// the others; it is recorded and excluded.
func (m *Manager) Initialize(ctx context.Context, configs []model.ToolServerConfig) {
	m.mu.Lock()
	for _, cfg := range configs {
		if !cfg.Enabled {
			log.Printf("Skipping disabled tool server: %s", cfg.Name)
			continue
		}
		session := newSession(cfg)
		m.sessions = append(m.sessions, session)
		m.byName[cfg.Name] = session
	}
	sessions := m.sessions
	m.mu.Unlock()

	log.Printf("Initializing %d tool servers...", len(sessions))

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *ServerSession) {
			defer wg.Done()
			m.connectSession(ctx, s)
		}(session)
	}
	wg.Wait()

	m.mu.Lock()
	m.rebuildCatalog()
	connected := 0
	for _, s := range m.sessions {
		if s.Connected() {
			connected++
		}
	}
	tools := len(m.catalog)
	m.mu.Unlock()

	log.Printf("Tool server initialization complete: %d/%d servers connected, %d tools available",
		connected, len(sessions), tools)
}

func (m *Manager) connectSession(ctx context.Context, s *ServerSession) {
	timeout := time.Duration(s.Config.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.Connect(cctx); err != nil {
		log.Printf("Failed to connect to tool server %s: %v", s.Config.Name, err)
		return
	}
	s.ListCapabilities(cctx)

	// A server that connects but exposes zero tools is a misconfigured
	// endpoint masquerading as healthy; treat it as unusable.
	if len(s.Tools()) == 0 {
		log.Printf("Tool server %s connected but exposes no tools, excluding", s.Config.Name)
		s.Disconnect()
		return
	}
	log.Printf("Connected to tool server: %s", s.Config.Name)
}

// rebuildCatalog recomputes the aggregate tool set: stable sort by
// descending priority, ties kept in discovery order. Callers hold mu.
func (m *Manager) rebuildCatalog() {
	m.catalog = nil
	m.resources = nil
	for _, s := range m.sessions {
		if !s.Connected() {
			continue
		}
		m.catalog = append(m.catalog, s.tools...)
		m.resources = append(m.resources, s.resources...)
	}
	sort.SliceStable(m.catalog, func(i, j int) bool {
		return m.catalog[i].Priority > m.catalog[j].Priority
	})
}

// Tools returns a copy of the priority-ordered catalog.
func (m *Manager) Tools() []model.ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.ToolDescriptor(nil), m.catalog...)
}

// Resources returns a copy of the aggregate resource list.
func (m *Manager) Resources() []model.ResourceDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.ResourceDescriptor(nil), m.resources...)
}

// ConnectedCount returns the number of usable sessions.
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.Connected() {
			n++
		}
	}
	return n
}

// CallTool routes a tool invocation. With server set the call goes
// only there (error if not connected, no fallback); otherwise the
// first catalog entry with a matching name wins, which is the
// highest-priority owner.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any, server string) (model.ToolCallResult, error) {
	m.mu.RLock()
	var target *ServerSession
	if server != "" {
		s, ok := m.byName[server]
		if !ok || !s.Connected() {
			m.mu.RUnlock()
			return model.ToolCallResult{}, fmt.Errorf("server %q is not connected", server)
		}
		target = s
	} else {
		for _, tool := range m.catalog {
			if tool.Name == name {
				target = m.byName[tool.Server]
				break
			}
		}
		if target == nil {
			m.mu.RUnlock()
			return model.ToolCallResult{}, fmt.Errorf("tool %q not found", name)
		}
		if !target.Connected() {
			name := target.Config.Name
			m.mu.RUnlock()
			return model.ToolCallResult{}, fmt.Errorf("server %q is not connected", name)
		}
	}
	m.mu.RUnlock()

	return target.CallTool(ctx, name, args), nil
}

// Shutdown disconnects all sessions concurrently, best-effort, and
// clears the catalog.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.byName = make(map[string]*ServerSession)
	m.catalog = nil
	m.resources = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		if !s.Connected() {
			continue
		}
		wg.Add(1)
		go func(s *ServerSession) {
			defer wg.Done()
			if err := s.Disconnect(); err != nil {
				log.Printf("Error disconnecting from %s: %v", s.Config.Name, err)
			}
		}(s)
	}
	wg.Wait()
	log.Printf("Tool server shutdown complete")
}
