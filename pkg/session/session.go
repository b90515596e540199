// Package session manages gateway MCP sessions: Mcp-Session-Id assignment,
// per-session server activation state, and the TTL store behind them.
package session

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Session represents an active MCP client session and the activation state
// it accumulates. Activation state lives only in memory; a restarted
// gateway starts with no sessions.
type Session struct {
	// ID is the unique session identifier issued on initialize.
	ID string

	// TokenHash binds the session to the bearer token that created it.
	// It is a SHA-256 hex digest; the raw token is never stored.
	TokenHash string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// LastActiveAt is the most recent activity timestamp.
	LastActiveAt time.Time

	// ExpiresAt is when the session expires if not touched.
	ExpiresAt time.Time

	mu      sync.RWMutex
	enabled map[string][]string
}

// New creates a session with the enablement map initialized.
func New(id, tokenHash string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:           id,
		TokenHash:    tokenHash,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(ttl),
		enabled:      make(map[string][]string),
	}
}

// EnableServer records that the named server's tools are available to this
// session, together with the tool list discovered at enable time.
func (s *Session) EnableServer(server string, tools []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled == nil {
		s.enabled = make(map[string][]string)
	}
	s.enabled[server] = slices.Clone(tools)
}

// ServerEnabled reports whether the named server is enabled for this session.
func (s *Session) ServerEnabled(server string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.enabled[server]
	return ok
}

// EnabledTools returns the tool names recorded when the server was enabled,
// or nil if the server is not enabled.
func (s *Session) EnabledTools(server string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.enabled[server])
}

// EnabledServers returns the names of all enabled servers, sorted.
func (s *Session) EnabledServers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.enabled))
	for name := range s.enabled {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Reset clears all server enablements. Registered tools stay in the global
// registry; they simply stop being callable from this session until
// re-enabled.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.enabled)
}

// Store defines the interface for session persistence.
type Store interface {
	// Create persists a new session.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID. Returns nil, nil if not found or expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch updates LastActiveAt and extends ExpiresAt by the store's TTL.
	Touch(ctx context.Context, id string) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// Cleanup removes expired sessions.
	Cleanup(ctx context.Context) error

	// Close stops background routines and releases resources.
	Close() error
}
