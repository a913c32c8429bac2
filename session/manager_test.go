package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariya/phantomjs-sub019/internal/ctxkeys"
	"github.com/ariya/phantomjs-sub019/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("S%d", n.Add(1))
	}
}

type countingHandler struct {
	session *Session
	calls   atomic.Int64
	err     error
}

func (h *countingHandler) Handle(_ context.Context, req *types.Request) (*types.Response, error) {
	h.calls.Add(1)
	if h.err != nil {
		return nil, h.err
	}
	return &types.Response{SessionID: h.session.ID(), Value: req.Path}, nil
}

type handlerRecorder struct {
	mu       sync.Mutex
	built    int
	handlers map[string]*countingHandler
	err      error
}

func (r *handlerRecorder) factory(s *Session) types.CommandHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]*countingHandler)
	}
	r.built++
	h := &countingHandler{session: s, err: r.err}
	r.handlers[s.ID()] = h
	return h
}

type fakeBackend struct {
	closed atomic.Int64
	err    error
}

func (b *fakeBackend) Close() error {
	b.closed.Add(1)
	return b.err
}

type fakeLauncher struct {
	err      error
	backends []*fakeBackend
	mu       sync.Mutex
	closeErr error
}

func (l *fakeLauncher) Launch(_ context.Context, s *Session) error {
	b := &fakeBackend{err: l.closeErr}
	l.mu.Lock()
	l.backends = append(l.backends, b)
	l.mu.Unlock()
	if err := s.Attach(b); err != nil {
		return err
	}
	return l.err
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CleanupInterval = 0
	opts = append([]Option{WithIDGenerator(sequentialIDs()), WithLogger(zap.NewNop())}, opts...)
	m := NewManager(cfg, opts...)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func do(t *testing.T, m *Manager, method, path, body string) (*types.Response, error) {
	t.Helper()
	var raw []byte
	if body != "" {
		raw = []byte(body)
	}
	return m.Handle(context.Background(), types.NewRequest(method, path, raw))
}

func mustCreate(t *testing.T, m *Manager, caps string) string {
	t.Helper()
	resp, err := do(t, m, http.MethodPost, "/session", `{"desiredCapabilities":`+caps+`}`)
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

// =============================================================================
// 🧪 路由与生命周期
// =============================================================================

func TestManager_ConcreteScenario(t *testing.T) {
	m := newTestManager(t)

	resp, err := do(t, m, http.MethodPost, "/session", `{"desiredCapabilities":{"browser":"x"}}`)
	require.NoError(t, err)
	encoded, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"S1","value":{"browser":"x"}}`, string(encoded))

	resp, err = do(t, m, http.MethodGet, "/sessions", "")
	require.NoError(t, err)
	encoded, err = json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":[{"id":"S1","capabilities":{"browser":"x"}}]}`, string(encoded))

	_, err = do(t, m, http.MethodDelete, "/session/S1", "")
	require.NoError(t, err)

	_, err = do(t, m, http.MethodGet, "/session/S1", "")
	assert.True(t, types.IsCode(err, types.ErrResourceNotFound))
}

func TestManager_CreateRejectsMalformedBodies(t *testing.T) {
	bodies := map[string]string{
		"empty":            "",
		"not json":         "{nope",
		"array":            `[1,2]`,
		"null":             `null`,
		"missing desired":  `{"foo":{}}`,
		"desired not map":  `{"desiredCapabilities":"chrome"}`,
		"desired null":     `{"desiredCapabilities":null}`,
		"required not map": `{"desiredCapabilities":{},"requiredCapabilities":[1]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(t)
			_, err := do(t, m, http.MethodPost, "/session", body)
			assert.True(t, types.IsCode(err, types.ErrMissingCommandParameter), "got %v", err)
			assert.Equal(t, 0, m.Len())
		})
	}
}

func TestManager_CreateNegotiatesCapabilities(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultCapabilities = map[string]any{"browserName": "phantom", "javascriptEnabled": true}
	m := NewManager(cfg, WithIDGenerator(sequentialIDs()))
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	resp, err := do(t, m, http.MethodPost, "/session",
		`{"desiredCapabilities":{"browserName":"chromium","proxy":{"type":"direct"}},"requiredCapabilities":{"proxy":{"type":"manual"}}}`)
	require.NoError(t, err)

	caps := resp.Value.(map[string]any)
	assert.Equal(t, "chromium", caps["browserName"])
	assert.Equal(t, true, caps["javascriptEnabled"])
	assert.Equal(t, map[string]any{"type": "manual"}, caps["proxy"])
}

func TestManager_IDsNeverReused(t *testing.T) {
	// A generator that repeats itself must not cause an id to be issued twice.
	ids := []string{"A", "A", "", "B", "A", "B", "C"}
	var i int
	m := newTestManager(t, WithIDGenerator(func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}))

	first := mustCreate(t, m, `{}`)
	_, err := do(t, m, http.MethodDelete, "/session/"+first, "")
	require.NoError(t, err)
	second := mustCreate(t, m, `{}`)
	third := mustCreate(t, m, `{}`)

	assert.Equal(t, "A", first)
	assert.Equal(t, "B", second)
	assert.Equal(t, "C", third)
}

func TestManager_GetSessionCapabilities(t *testing.T) {
	m := newTestManager(t)
	id := mustCreate(t, m, `{"browser":"x","nested":{"a":[1,2]}}`)

	resp, err := do(t, m, http.MethodGet, "/session/"+id, "")
	require.NoError(t, err)
	assert.Equal(t, id, resp.SessionID)
	assert.Equal(t, map[string]any{"browser": "x", "nested": map[string]any{"a": []any{float64(1), float64(2)}}}, resp.Value)

	// The echoed map is a copy.
	resp.Value.(map[string]any)["browser"] = "mutated"
	s, err := m.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, "x", s.Capabilities()["browser"])
}

func TestManager_EmptyAndUnknownIDs(t *testing.T) {
	m := newTestManager(t)
	mustCreate(t, m, `{}`)

	tests := []struct {
		method string
		path   string
		code   types.ErrorCode
	}{
		{http.MethodGet, "/session/", types.ErrMissingCommandParameter},
		{http.MethodDelete, "/session/", types.ErrMissingCommandParameter},
		{http.MethodGet, "/session//url", types.ErrMissingCommandParameter},
		{http.MethodGet, "/session/nope", types.ErrResourceNotFound},
		{http.MethodDelete, "/session/nope", types.ErrResourceNotFound},
		{http.MethodPost, "/session/nope/url", types.ErrResourceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			_, err := do(t, m, tt.method, tt.path, "")
			assert.True(t, types.IsCode(err, tt.code), "got %v", err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.method, e.Method)
			assert.Equal(t, tt.path, e.Path)
			assert.Equal(t, 1, m.Len())
		})
	}
}

func TestManager_InvalidCommandMethod(t *testing.T) {
	m := newTestManager(t)
	id := mustCreate(t, m, `{}`)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/session"},
		{http.MethodDelete, "/session"},
		{http.MethodPost, "/sessions"},
		{http.MethodGet, "/"},
		{http.MethodGet, "/status"},
		{http.MethodGet, "/sessions/" + id},
		{http.MethodPost, "/session/" + id},
		{http.MethodPut, "/session/" + id},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			_, err := do(t, m, tt.method, tt.path, "")
			assert.True(t, types.IsCode(err, types.ErrInvalidCommandMethod), "got %v", err)
		})
	}
}

func TestManager_DeleteTwice(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(t, WithLauncher(launcher))
	id := mustCreate(t, m, `{}`)

	_, err := do(t, m, http.MethodDelete, "/session/"+id, "")
	require.NoError(t, err)

	_, err = do(t, m, http.MethodDelete, "/session/"+id, "")
	assert.True(t, types.IsCode(err, types.ErrResourceNotFound))

	require.Len(t, launcher.backends, 1)
	assert.Equal(t, int64(1), launcher.backends[0].closed.Load())
}

func TestManager_DeleteTeardownErrorPropagates(t *testing.T) {
	boom := errors.New("window refused to close")
	m := newTestManager(t, WithLauncher(&fakeLauncher{closeErr: boom}))
	id := mustCreate(t, m, `{}`)

	_, err := do(t, m, http.MethodDelete, "/session/"+id, "")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnknownError))
	assert.ErrorIs(t, err, boom)

	// The id never resolves again.
	_, err = m.GetSession(id)
	assert.True(t, types.IsCode(err, types.ErrResourceNotFound))
}

func TestManager_LaunchFailure(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("no chromium")}
	m := newTestManager(t, WithLauncher(launcher))

	_, err := do(t, m, http.MethodPost, "/session", `{"desiredCapabilities":{}}`)
	assert.True(t, types.IsCode(err, types.ErrSessionNotCreated))
	assert.Equal(t, 0, m.Len())
	require.Len(t, launcher.backends, 1)
	assert.Equal(t, int64(1), launcher.backends[0].closed.Load(), "half-launched browser must be released")
}

func TestManager_MaxSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 0
	cfg.MaxSessions = 2
	m := NewManager(cfg)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	mustCreate(t, m, `{}`)
	id := mustCreate(t, m, `{}`)
	_, err := do(t, m, http.MethodPost, "/session", `{"desiredCapabilities":{}}`)
	assert.True(t, types.IsCode(err, types.ErrSessionNotCreated))

	_, err = do(t, m, http.MethodDelete, "/session/"+id, "")
	require.NoError(t, err)
	mustCreate(t, m, `{}`)
}

// =============================================================================
// 🧪 委派
// =============================================================================

func TestManager_DelegationReusesHandler(t *testing.T) {
	rec := &handlerRecorder{}
	m := newTestManager(t, WithHandlerFactory(rec.factory))
	id := mustCreate(t, m, `{}`)

	assert.Equal(t, 0, rec.built, "handler is built lazily")

	for i := 0; i < 3; i++ {
		resp, err := do(t, m, http.MethodPost, "/session/"+id+"/element/abc/click", `{}`)
		require.NoError(t, err)
		assert.Equal(t, "/element/abc/click", resp.Value)
	}

	assert.Equal(t, 1, rec.built)
	assert.Equal(t, int64(3), rec.handlers[id].calls.Load())

	h, err := m.GetSessionReqHand(id)
	require.NoError(t, err)
	assert.Same(t, rec.handlers[id], h)
	assert.Equal(t, 1, rec.built)
}

func TestManager_DelegationPropagatesHandlerErrors(t *testing.T) {
	handlerErr := types.NewError(types.ErrNoSuchWindow, "window closed")
	rec := &handlerRecorder{err: handlerErr}
	m := newTestManager(t, WithHandlerFactory(rec.factory))
	id := mustCreate(t, m, `{}`)

	_, err := do(t, m, http.MethodGet, "/session/"+id+"/title", "")
	assert.Same(t, handlerErr, err)
}

func TestManager_DefaultHandlerReportsUnknownCommand(t *testing.T) {
	m := newTestManager(t)
	id := mustCreate(t, m, `{}`)

	_, err := do(t, m, http.MethodGet, "/session/"+id+"/title", "")
	assert.True(t, types.IsCode(err, types.ErrUnknownCommand))
}

func TestManager_DelegationCarriesSessionID(t *testing.T) {
	var seen string
	m := newTestManager(t, WithHandlerFactory(func(*Session) types.CommandHandler {
		return types.CommandHandlerFunc(func(ctx context.Context, req *types.Request) (*types.Response, error) {
			seen, _ = ctxkeys.SessionID(ctx)
			return &types.Response{}, nil
		})
	}))
	id := mustCreate(t, m, `{}`)

	_, err := do(t, m, http.MethodGet, "/session/"+id+"/url", "")
	require.NoError(t, err)
	assert.Equal(t, id, seen)
}

func TestManager_HandlerDroppedWithSession(t *testing.T) {
	rec := &handlerRecorder{}
	m := newTestManager(t, WithHandlerFactory(rec.factory))
	id := mustCreate(t, m, `{}`)

	_, err := do(t, m, http.MethodGet, "/session/"+id+"/url", "")
	require.NoError(t, err)
	_, err = do(t, m, http.MethodDelete, "/session/"+id, "")
	require.NoError(t, err)

	m.mu.RLock()
	handlers, sessions, deleting := len(m.handlers), len(m.sessions), len(m.deleting)
	m.mu.RUnlock()
	assert.Zero(t, handlers)
	assert.Zero(t, sessions)
	assert.Zero(t, deleting)

	_, err = m.GetSessionReqHand(id)
	assert.True(t, types.IsCode(err, types.ErrResourceNotFound))
}

type blockingHandler struct {
	started chan struct{}
	release chan struct{}
}

func (h *blockingHandler) Handle(context.Context, *types.Request) (*types.Response, error) {
	close(h.started)
	<-h.release
	return &types.Response{Value: "done"}, nil
}

func TestManager_DeleteWaitsForInflightCommand(t *testing.T) {
	bh := &blockingHandler{started: make(chan struct{}), release: make(chan struct{})}
	launcher := &fakeLauncher{}
	m := newTestManager(t,
		WithLauncher(launcher),
		WithHandlerFactory(func(*Session) types.CommandHandler { return bh }),
	)
	id := mustCreate(t, m, `{}`)

	cmdDone := make(chan error, 1)
	go func() {
		_, err := do(t, m, http.MethodPost, "/session/"+id+"/execute", `{}`)
		cmdDone <- err
	}()
	<-bh.started

	delDone := make(chan error, 1)
	go func() {
		_, err := do(t, m, http.MethodDelete, "/session/"+id, "")
		delDone <- err
	}()

	// Once deletion has claimed the session new commands fail immediately.
	require.Eventually(t, func() bool {
		_, err := m.GetSession(id)
		return err != nil
	}, time.Second, time.Millisecond)
	_, err := do(t, m, http.MethodGet, "/session/"+id+"/title", "")
	assert.True(t, types.IsCode(err, types.ErrResourceNotFound))
	assert.Equal(t, int64(0), launcher.backends[0].closed.Load(), "teardown must wait for the running command")

	close(bh.release)
	require.NoError(t, <-cmdDone)
	require.NoError(t, <-delDone)
	assert.Equal(t, int64(1), launcher.backends[0].closed.Load())
}

// =============================================================================
// 🧪 并发
// =============================================================================

func TestManager_ConcurrentCreatesGetDistinctIDs(t *testing.T) {
	// Every id is produced twice so allocation has to skip collisions.
	var n atomic.Int64
	m := newTestManager(t, WithIDGenerator(func() string {
		return fmt.Sprintf("id-%d", n.Add(1)/2)
	}))

	const total = 50
	ids := make(chan string, total)
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := m.Handle(context.Background(),
				types.NewRequest(http.MethodPost, "/session", []byte(`{"desiredCapabilities":{}}`)))
			if err == nil {
				ids <- resp.SessionID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, total)
	assert.Equal(t, total, m.Len())
}

func TestManager_ConcurrentDeleteOnlyOneWins(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(t, WithLauncher(launcher))
	id := mustCreate(t, m, `{}`)

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := do(t, m, http.MethodDelete, "/session/"+id, ""); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	assert.Equal(t, int64(1), launcher.backends[0].closed.Load())
}

func TestManager_CloseTearsDownEverything(t *testing.T) {
	launcher := &fakeLauncher{}
	cfg := DefaultConfig()
	m := NewManager(cfg, WithLauncher(launcher))

	mustCreate(t, m, `{}`)
	mustCreate(t, m, `{}`)
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, 0, m.Len())
	for _, b := range launcher.backends {
		assert.Equal(t, int64(1), b.closed.Load())
	}
}

func TestManager_CloseGivesUpOnStuckCommand(t *testing.T) {
	bh := &blockingHandler{started: make(chan struct{}), release: make(chan struct{})}
	launcher := &fakeLauncher{}
	m := newTestManager(t,
		WithLauncher(launcher),
		WithHandlerFactory(func(*Session) types.CommandHandler { return bh }),
	)
	id := mustCreate(t, m, `{}`)

	cmdDone := make(chan error, 1)
	go func() {
		_, err := do(t, m, http.MethodPost, "/session/"+id+"/execute", `{}`)
		cmdDone <- err
	}()
	<-bh.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	closed := make(chan error, 1)
	go func() { closed <- m.Close(ctx) }()

	select {
	case err := <-closed:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after its context expired")
	}
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int64(1), launcher.backends[0].closed.Load(), "session is torn down even though the command is stuck")

	close(bh.release)
	require.NoError(t, <-cmdDone)
}
