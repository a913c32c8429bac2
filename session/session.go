package session

import (
	"sync"
	"time"
)

// Backend is the browser-engine resource attached to a session. Close must
// release every window and process the session owns.
type Backend interface {
	Close() error
}

// Session is one automation session: an immutable id and capability set
// plus the live count of windows the browser has open for it.
type Session struct {
	id        string
	caps      map[string]any
	createdAt time.Time

	mu          sync.Mutex
	windowCount int
	lastUsedAt  time.Time
	backend     Backend
	tornDown    bool

	// inflight counts delegated commands still running; deletion waits for it.
	inflight sync.WaitGroup
}

// New creates a session with one open window, the window every session is
// born with.
func New(id string, caps map[string]any) *Session {
	now := time.Now()
	return &Session{
		id:          id,
		caps:        cloneCapabilities(caps),
		createdAt:   now,
		lastUsedAt:  now,
		windowCount: 1,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Capabilities returns a copy of the negotiated capabilities.
func (s *Session) Capabilities() map[string]any {
	return cloneCapabilities(s.caps)
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastUsedAt returns the time of the last delegated command.
func (s *Session) LastUsedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

// WindowCount returns the number of open browser windows.
func (s *Session) WindowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowCount
}

// WindowOpened signals that the browser opened a window for this session.
func (s *Session) WindowOpened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowCount++
	return s.windowCount
}

// WindowClosed signals that a window closed. The count never drops below zero.
func (s *Session) WindowClosed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.windowCount > 0 {
		s.windowCount--
	}
	return s.windowCount
}

// Attach binds the browser backend. A session torn down before the backend
// arrives closes it immediately.
func (s *Session) Attach(b Backend) error {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return b.Close()
	}
	s.backend = b
	s.mu.Unlock()
	return nil
}

// Backend returns the attached browser backend, or nil.
func (s *Session) Backend() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// AboutToDelete tears down the browser backend. Only the first call does work.
func (s *Session) AboutToDelete() error {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return nil
	}
	s.tornDown = true
	b := s.backend
	s.backend = nil
	s.mu.Unlock()

	if b == nil {
		return nil
	}
	return b.Close()
}

// Info is the wire representation of a live session.
type Info struct {
	ID           string         `json:"id"`
	Capabilities map[string]any `json:"capabilities"`
}

func (s *Session) info() Info {
	return Info{ID: s.id, Capabilities: s.Capabilities()}
}
