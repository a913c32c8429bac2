package browser

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ariya/phantomjs-sub019/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Instance is the browser backend of one session. It tracks the session's
// windows and forwards open/close events to the session's window count.
// The first tracked window is the one the session was created with and is
// already counted.
type Instance struct {
	session *session.Session
	closer  func() error
	logger  *zap.Logger

	mu      sync.Mutex
	handles map[any]string
	windows map[string]Window
	order   []string
	current string
	seen    bool
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

// NewInstance creates an empty instance for s. closer releases the engine
// resources shared by the windows and may be nil.
func NewInstance(s *session.Session, closer func() error, logger *zap.Logger) *Instance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instance{
		session: s,
		closer:  closer,
		logger:  logger.With(zap.String("component", "browser_instance"), zap.String("session_id", s.ID())),
		handles: make(map[any]string),
		windows: make(map[string]Window),
	}
}

// Track registers a window under key and returns its handle. Tracking the
// same key again returns the existing handle without signalling a new window.
func (i *Instance) Track(key any, w Window) string {
	i.mu.Lock()
	if h, ok := i.handles[key]; ok {
		i.mu.Unlock()
		return h
	}
	if i.closed {
		i.mu.Unlock()
		_ = w.Close()
		return ""
	}
	h := uuid.NewString()
	i.handles[key] = h
	i.windows[h] = w
	i.order = append(i.order, h)
	initial := !i.seen
	i.seen = true
	if i.current == "" {
		i.current = h
	}
	i.mu.Unlock()

	if !initial {
		n := i.session.WindowOpened()
		i.logger.Debug("window opened", zap.String("handle", h), zap.Int("windows", n))
	}
	return h
}

// Untrack forgets the window registered under key and signals the close.
// Unknown keys are ignored, so engine close events and explicit closes can
// both report the same window.
func (i *Instance) Untrack(key any) {
	i.mu.Lock()
	h, ok := i.handles[key]
	if !ok {
		i.mu.Unlock()
		return
	}
	delete(i.handles, key)
	delete(i.windows, h)
	for idx, v := range i.order {
		if v == h {
			i.order = append(i.order[:idx], i.order[idx+1:]...)
			break
		}
	}
	if i.current == h {
		i.current = ""
	}
	closed := i.closed
	i.mu.Unlock()

	if closed {
		return
	}
	n := i.session.WindowClosed()
	i.logger.Debug("window closed", zap.String("handle", h), zap.Int("windows", n))
}

// Current returns the focused window and its handle.
func (i *Instance) Current() (string, Window, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	w, ok := i.windows[i.current]
	if !ok {
		return "", nil, fmt.Errorf("no current window: %w", ErrWindowClosed)
	}
	return i.current, w, nil
}

// Handles returns the open window handles in opening order.
func (i *Instance) Handles() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.order))
	copy(out, i.order)
	return out
}

// Switch focuses the window with the given handle.
func (i *Instance) Switch(handle string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.windows[handle]; !ok {
		return fmt.Errorf("window %q: %w", handle, ErrWindowClosed)
	}
	i.current = handle
	return nil
}

// CloseCurrent closes the focused window. Focus is not moved to another window.
func (i *Instance) CloseCurrent() error {
	i.mu.Lock()
	h := i.current
	w, ok := i.windows[h]
	var key any
	for k, v := range i.handles {
		if v == h {
			key = k
			break
		}
	}
	i.mu.Unlock()
	if !ok {
		return fmt.Errorf("no current window: %w", ErrWindowClosed)
	}

	err := w.Close()
	i.Untrack(key)
	return err
}

// Close closes every window and releases the engine. Later calls return the
// first result. Window counts are not touched; the session is going away.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		i.mu.Lock()
		i.closed = true
		windows := make([]Window, 0, len(i.order))
		for _, h := range i.order {
			windows = append(windows, i.windows[h])
		}
		i.mu.Unlock()

		var errs []error
		for _, w := range windows {
			if err := w.Close(); err != nil && !errors.Is(err, ErrWindowClosed) {
				errs = append(errs, err)
			}
		}
		if i.closer != nil {
			if err := i.closer(); err != nil {
				errs = append(errs, err)
			}
		}
		i.closeErr = errors.Join(errs...)
		i.logger.Debug("browser instance closed", zap.Int("windows", len(windows)), zap.Error(i.closeErr))
	})
	return i.closeErr
}
