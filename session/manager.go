package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ariya/phantomjs-sub019/internal/ctxkeys"
	"github.com/ariya/phantomjs-sub019/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reasons a session leaves the registry.
const (
	ReasonExplicit = "explicit"
	ReasonCleanup  = "cleanup"
	ReasonShutdown = "shutdown"
)

// HandlerFactory builds the command handler for a session. It is called at
// most once per session, under the registry lock, and must not block.
type HandlerFactory func(s *Session) types.CommandHandler

// Launcher starts the browser for a freshly created session and attaches it
// with Session.Attach. It runs outside the registry lock.
type Launcher interface {
	Launch(ctx context.Context, s *Session) error
}

// MetricsRecorder receives lifecycle events. *metrics.Collector implements it.
type MetricsRecorder interface {
	RecordSessionCreated()
	RecordSessionDeleted(reason string)
	SetActiveSessions(n int)
	RecordCleanupSweep(reclaimed, failed int)
	RecordCommand(code string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionCreated()       {}
func (nopRecorder) RecordSessionDeleted(string) {}
func (nopRecorder) SetActiveSessions(int)       {}
func (nopRecorder) RecordCleanupSweep(int, int) {}
func (nopRecorder) RecordCommand(string)        {}

// Config configures a Manager.
type Config struct {
	// CleanupInterval is the period of the zero-window sweep. Zero disables it.
	CleanupInterval time.Duration
	// MaxSessions caps concurrently live sessions. Zero means unlimited.
	MaxSessions int
	// TeardownConcurrency bounds parallel teardowns within one sweep.
	TeardownConcurrency int
	// DefaultCapabilities are granted to every session beneath the client's own.
	DefaultCapabilities map[string]any
}

// DefaultConfig returns the reference settings: a five minute sweep.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:     5 * time.Minute,
		TeardownConcurrency: 4,
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLauncher makes create start a browser for each new session.
func WithLauncher(l Launcher) Option {
	return func(m *Manager) { m.launcher = l }
}

// WithHandlerFactory sets the constructor for per-session command handlers.
func WithHandlerFactory(f HandlerFactory) Option {
	return func(m *Manager) { m.newHandler = f }
}

// WithMetrics routes lifecycle events to r.
func WithMetrics(r MetricsRecorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithIDGenerator replaces the uuid-based id source.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// Manager owns the session registry and routes every automation request:
// lifecycle operations are served directly, everything under /session/{id}/
// is delegated to that session's command handler.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	handlers map[string]types.CommandHandler
	deleting map[string]struct{}
	issued   map[string]struct{}
	pending  int

	config     Config
	newHandler HandlerFactory
	launcher   Launcher
	metrics    MetricsRecorder
	newID      func() string
	logger     *zap.Logger

	cleanupMu     sync.Mutex
	cleanupCancel context.CancelFunc
	cleanupDone   chan struct{}
}

// NewManager creates an empty registry.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.TeardownConcurrency <= 0 {
		cfg.TeardownConcurrency = 1
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		handlers: make(map[string]types.CommandHandler),
		deleting: make(map[string]struct{}),
		issued:   make(map[string]struct{}),
		config:   cfg,
		metrics:  nopRecorder{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.With(zap.String("component", "session_manager"))
	if m.newHandler == nil {
		m.newHandler = func(*Session) types.CommandHandler {
			return types.CommandHandlerFunc(func(_ context.Context, req *types.Request) (*types.Response, error) {
				return nil, types.NewUnknownCommand(req)
			})
		}
	}
	return m
}

// =============================================================================
// Routing
// =============================================================================

// Handle routes one request. Every request ends in exactly one lifecycle
// operation, a delegation, or a typed error.
func (m *Manager) Handle(ctx context.Context, req *types.Request) (*types.Response, error) {
	switch {
	case req.Method == http.MethodPost && req.IsRoot() && req.FirstSegment() == types.SessionDir:
		return m.createSession(ctx, req)

	case req.Method == http.MethodGet && req.IsRoot() && req.FirstSegment() == types.SessionsDir:
		return m.listSessions(), nil

	case req.Len() >= 2 && req.FirstSegment() == types.SessionDir:
		id := req.Segment(1)
		if req.Len() > 2 {
			return m.delegate(ctx, req, id)
		}
		switch req.Method {
		case http.MethodGet:
			return m.getSessionCapabilities(req, id)
		case http.MethodDelete:
			return m.deleteSession(ctx, req, id)
		}
	}
	return nil, types.NewInvalidCommandMethod(req)
}

// =============================================================================
// Lifecycle operations
// =============================================================================

func (m *Manager) createSession(ctx context.Context, req *types.Request) (*types.Response, error) {
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil || body == nil {
		return nil, types.NewMissingCommandParameter(req, "request body must be a JSON object")
	}
	desired, ok := body[CapDesired].(map[string]any)
	if !ok {
		return nil, types.NewMissingCommandParameter(req, "desiredCapabilities object is required")
	}
	var required map[string]any
	if raw, present := body[CapRequired]; present && raw != nil {
		if required, ok = raw.(map[string]any); !ok {
			return nil, types.NewMissingCommandParameter(req, "requiredCapabilities must be an object")
		}
	}
	caps := negotiate(m.config.DefaultCapabilities, desired, required)

	// Reserve the id and a slot; the id stays invisible until insertion.
	m.mu.Lock()
	if m.config.MaxSessions > 0 && len(m.sessions)+m.pending >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, types.NewSessionNotCreated(req,
			fmt.Sprintf("maximum number of sessions (%d) reached", m.config.MaxSessions))
	}
	id := m.allocateIDLocked()
	m.pending++
	m.mu.Unlock()

	s := New(id, caps)
	if m.launcher != nil {
		if err := m.launcher.Launch(ctx, s); err != nil {
			m.mu.Lock()
			m.pending--
			m.mu.Unlock()
			if tdErr := s.AboutToDelete(); tdErr != nil {
				m.logger.Warn("failed to release browser after launch error",
					zap.String("session_id", id), zap.Error(tdErr))
			}
			return nil, types.NewSessionNotCreated(req, "failed to launch browser").WithCause(err)
		}
	}

	m.mu.Lock()
	m.pending--
	m.sessions[id] = s
	active := len(m.sessions) - len(m.deleting)
	m.mu.Unlock()

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(active)
	m.logger.Info("session created", zap.String("session_id", id), zap.Int("active", active))

	return &types.Response{SessionID: id, Value: s.Capabilities()}, nil
}

func (m *Manager) listSessions() *types.Response {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for id, s := range m.sessions {
		if _, busy := m.deleting[id]; busy {
			continue
		}
		infos = append(infos, s.info())
	}
	m.mu.RUnlock()

	slices.SortFunc(infos, func(a, b Info) int { return strings.Compare(a.ID, b.ID) })
	return &types.Response{Value: infos}
}

func (m *Manager) getSessionCapabilities(req *types.Request, id string) (*types.Response, error) {
	if id == "" {
		return nil, types.NewMissingCommandParameter(req, "session id is empty")
	}
	s, ok := m.resolve(id)
	if !ok {
		return nil, notFound(req, id)
	}
	return &types.Response{SessionID: id, Value: s.Capabilities()}, nil
}

func (m *Manager) deleteSession(ctx context.Context, req *types.Request, id string) (*types.Response, error) {
	if id == "" {
		return nil, types.NewMissingCommandParameter(req, "session id is empty")
	}
	s, ok := m.claim(id)
	if !ok {
		return nil, notFound(req, id)
	}
	if err := m.teardown(ctx, s, ReasonExplicit); err != nil {
		return nil, types.NewError(types.ErrUnknownError, "session teardown failed").
			WithRequest(req).
			WithCause(err)
	}
	return &types.Response{SessionID: id}, nil
}

func (m *Manager) delegate(ctx context.Context, req *types.Request, id string) (*types.Response, error) {
	if id == "" {
		return nil, types.NewMissingCommandParameter(req, "session id is empty")
	}
	s, h, ok := m.acquire(id)
	if !ok {
		return nil, notFound(req, id)
	}
	defer s.inflight.Done()

	s.Touch()
	resp, err := h.Handle(ctxkeys.WithSessionID(ctx, id), req.Sub(2))
	m.metrics.RecordCommand(string(types.GetErrorCode(err)))
	return resp, err
}

// =============================================================================
// Registry access
// =============================================================================

// GetSession returns the live session with the given id.
func (m *Manager) GetSession(id string) (*Session, error) {
	s, ok := m.resolve(id)
	if !ok {
		return nil, notFound(nil, id)
	}
	return s, nil
}

// GetSessionReqHand returns the command handler of a live session, building
// it on first use.
func (m *Manager) GetSessionReqHand(id string) (types.CommandHandler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveLocked(id)
	if !ok {
		return nil, notFound(nil, id)
	}
	return m.handlerLocked(s), nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions) - len(m.deleting)
}

// Close stops the cleanup loop and tears down every remaining session. When
// ctx ends before in-flight commands drain, sessions are torn down anyway and
// ctx.Err() is part of the returned error.
func (m *Manager) Close(ctx context.Context) error {
	m.StopCleanup()

	m.mu.Lock()
	victims := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		if _, busy := m.deleting[id]; busy {
			continue
		}
		m.deleting[id] = struct{}{}
		victims = append(victims, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range victims {
		if err := m.teardown(ctx, s, ReasonShutdown); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) resolve(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.liveLocked(id)
}

func (m *Manager) liveLocked(id string) (*Session, bool) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if _, busy := m.deleting[id]; busy {
		return nil, false
	}
	return s, true
}

func (m *Manager) handlerLocked(s *Session) types.CommandHandler {
	h, ok := m.handlers[s.ID()]
	if !ok {
		h = m.newHandler(s)
		m.handlers[s.ID()] = h
	}
	return h
}

// acquire resolves a session for delegation and registers the command as
// in flight so deletion waits for it.
func (m *Manager) acquire(id string) (*Session, types.CommandHandler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveLocked(id)
	if !ok {
		return nil, nil, false
	}
	h := m.handlerLocked(s)
	s.inflight.Add(1)
	return s, h, true
}

// claim marks a live session as being deleted. Only one caller can claim a
// given session.
func (m *Manager) claim(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveLocked(id)
	if !ok {
		return nil, false
	}
	m.deleting[id] = struct{}{}
	return s, true
}

// teardown runs the about-to-delete hook of a claimed session once its
// in-flight commands drain or ctx ends, then drops the session and its
// handler together.
func (m *Manager) teardown(ctx context.Context, s *Session, reason string) error {
	waitErr := waitInflight(ctx, s)
	err := errors.Join(waitErr, runTeardownHook(s))

	m.mu.Lock()
	delete(m.sessions, s.ID())
	delete(m.handlers, s.ID())
	delete(m.deleting, s.ID())
	active := len(m.sessions) - len(m.deleting)
	m.mu.Unlock()

	m.metrics.RecordSessionDeleted(reason)
	m.metrics.SetActiveSessions(active)
	m.logger.Info("session deleted",
		zap.String("session_id", s.ID()),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return err
}

// waitInflight blocks until the delegated commands of s finish. It gives up
// with ctx.Err() when ctx ends first.
func waitInflight(ctx context.Context, s *Session) error {
	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("in-flight commands still running: %w", ctx.Err())
	}
}

func runTeardownHook(s *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("teardown panicked: %v", r)
		}
	}()
	return s.AboutToDelete()
}

func (m *Manager) allocateIDLocked() string {
	for {
		id := m.newID()
		if id == "" {
			continue
		}
		if _, used := m.issued[id]; used {
			continue
		}
		m.issued[id] = struct{}{}
		return id
	}
}

func notFound(req *types.Request, id string) *types.Error {
	return types.NewResourceNotFound(req, fmt.Sprintf("session %q not found", id))
}
