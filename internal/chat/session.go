// Package chat drives the streaming tool-loop between clients, the LLM
// provider and the per-instance tool sets.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memexhq/memex/internal/providers"
)

const sessionTTL = time.Hour

// Session holds conversation history for one chat client. Sessions are
// process-local and non-durable.
type Session struct {
	ID         string
	Instance   string
	Messages   []providers.Message
	LastActive time.Time
}

// SessionManager handles session lifecycle and expiry.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		ttl:      sessionTTL,
		now:      time.Now,
	}
}

// Create starts a new session bound to an instance.
func (m *SessionManager) Create(instance string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{
		ID:         uuid.NewString(),
		Instance:   instance,
		LastActive: m.now(),
	}
	m.sessions[s.ID] = s
	return s
}

// Get returns a live session and refreshes its activity time. Expired
// sessions are removed on access, so a stale id behaves as unknown even
// between sweeps.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if m.now().Sub(s.LastActive) > m.ttl {
		delete(m.sessions, id)
		return nil, false
	}
	s.LastActive = m.now()
	return s, true
}

// Append adds messages to a session's history.
func (m *SessionManager) Append(id string, msgs ...providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.Messages = append(s.Messages, msgs...)
		s.LastActive = m.now()
	}
}

// History returns a copy of the message history.
func (m *SessionManager) History(id string) []providers.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	out := make([]providers.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Delete removes a session. Returns false when the id is unknown.
func (m *SessionManager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// sweep removes all expired sessions in one pass.
func (m *SessionManager) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := m.now().Add(-m.ttl)
	for id, s := range m.sessions {
		if s.LastActive.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic expiry until the context ends.
func (m *SessionManager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}
