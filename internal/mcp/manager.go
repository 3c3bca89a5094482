// Package mcp manages live connections to external tool servers and exposes
// their tools to the resolver. The registry is read-mostly: every update
// rebuilds an immutable snapshot that readers pick up via an atomic pointer,
// so the resolver never takes a lock.
package mcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/logger"
	"github.com/glowlab/deskagent/internal/tools"
)

// Connection is one live transport to a tool server. Implementations report
// the tools the server exposes and execute calls against it.
type Connection interface {
	ServerType() string
	Describe(ctx context.Context) ([]tools.Descriptor, error)
	CallTool(ctx context.Context, toolName string, params map[string]any) (any, error)
	Close() error
}

type entry struct {
	session     chat.Session
	conn        Connection
	descriptors []tools.Descriptor
	enabled     bool
}

type snapshot struct {
	entries     map[string]*entry
	sessions    []chat.Session
	descriptors []tools.Descriptor
}

var emptySnapshot = &snapshot{entries: map[string]*entry{}}

// Manager tracks sessions and implements the resolver's session directory.
type Manager struct {
	log *logger.Logger

	mu   sync.Mutex // serializes writers; readers go through snap
	snap atomic.Pointer[snapshot]
}

// NewManager creates a manager with no sessions.
func NewManager() *Manager {
	m := &Manager{log: logger.WithPrefix("mcp")}
	m.snap.Store(emptySnapshot)
	return m
}

// AddSession connects a new session: the connection is queried for its tool
// descriptors and the session becomes enabled immediately. The session id
// must be unique and must not shadow the synthetic system session.
func (m *Manager) AddSession(ctx context.Context, id, displayName string, conn Connection) (chat.Session, error) {
	if id == "" || id == chat.SystemSessionID {
		return chat.Session{}, fmt.Errorf("invalid session id %q", id)
	}

	descriptors, err := conn.Describe(ctx)
	if err != nil {
		return chat.Session{}, fmt.Errorf("describe session %s: %w", id, err)
	}
	for i := range descriptors {
		descriptors[i].Origin = chat.OriginMCP
		descriptors[i].SessionID = id
	}

	sess := chat.Session{
		ID:          id,
		DisplayName: displayName,
		ServerType:  conn.ServerType(),
		ToolCount:   len(descriptors),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.snap.Load()
	if _, exists := old.entries[id]; exists {
		return chat.Session{}, fmt.Errorf("session %s already registered", id)
	}

	m.rebuild(func(entries map[string]*entry) {
		entries[id] = &entry{
			session:     sess,
			conn:        conn,
			descriptors: descriptors,
			enabled:     true,
		}
	})

	m.log.Info("session %s (%s) connected with %d tools", id, sess.ServerType, len(descriptors))
	return sess, nil
}

// RemoveSession drops a session and closes its connection.
func (m *Manager) RemoveSession(id string) error {
	m.mu.Lock()
	e, ok := m.snap.Load().entries[id]
	if ok {
		m.rebuild(func(entries map[string]*entry) {
			delete(entries, id)
		})
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	if err := e.conn.Close(); err != nil {
		m.log.Warn("closing session %s: %v", id, err)
	}
	m.log.Info("session %s removed", id)
	return nil
}

// SetEnabled toggles a session without dropping its connection. Disabled
// sessions keep their descriptors registered but the resolver will refuse to
// bind tools to them.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snap.Load().entries[id]; !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	m.rebuild(func(entries map[string]*entry) {
		entries[id].enabled = enabled
	})
	return nil
}

// RefreshSession re-queries a session's tool list, e.g. after the server
// announced a tool change.
func (m *Manager) RefreshSession(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.snap.Load().entries[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}

	descriptors, err := e.conn.Describe(ctx)
	if err != nil {
		return fmt.Errorf("refresh session %s: %w", id, err)
	}
	for i := range descriptors {
		descriptors[i].Origin = chat.OriginMCP
		descriptors[i].SessionID = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snap.Load().entries[id]; !ok {
		return fmt.Errorf("session %s removed during refresh", id)
	}
	m.rebuild(func(entries map[string]*entry) {
		entries[id].descriptors = descriptors
		entries[id].session.ToolCount = len(descriptors)
	})
	return nil
}

// rebuild clones the current entry map, applies the mutation and swaps in a
// freshly derived snapshot. Callers must hold mu.
func (m *Manager) rebuild(mutate func(entries map[string]*entry)) {
	old := m.snap.Load()
	entries := make(map[string]*entry, len(old.entries)+1)
	for id, e := range old.entries {
		clone := *e
		entries[id] = &clone
	}
	mutate(entries)

	next := &snapshot{entries: entries}
	for _, e := range entries {
		next.descriptors = append(next.descriptors, e.descriptors...)
		if e.enabled {
			next.sessions = append(next.sessions, e.session)
		}
	}
	m.snap.Store(next)
}

// EnabledSessions returns the currently enabled sessions.
func (m *Manager) EnabledSessions() []chat.Session {
	return m.snap.Load().sessions
}

// Descriptors returns the tool descriptors of all sessions, including
// disabled ones; ownership filtering happens in the resolver.
func (m *Manager) Descriptors() []tools.Descriptor {
	return m.snap.Load().descriptors
}

// CallTool executes a tool on the named session.
func (m *Manager) CallTool(ctx context.Context, sessionID, toolName string, params map[string]any) (any, error) {
	e, ok := m.snap.Load().entries[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	if !e.enabled {
		return nil, fmt.Errorf("session %s is disabled", sessionID)
	}
	return e.conn.CallTool(ctx, toolName, params)
}

// Close drops all sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	old := m.snap.Load()
	m.snap.Store(emptySnapshot)
	m.mu.Unlock()

	for id, e := range old.entries {
		if err := e.conn.Close(); err != nil {
			m.log.Warn("closing session %s: %v", id, err)
		}
	}
}
