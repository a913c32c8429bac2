package session

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StartCleanup launches the periodic zero-window sweep. It is a no-op when
// the interval is not positive or the loop is already running. The loop ends
// when ctx is cancelled or StopCleanup is called; after either the loop can
// be started again.
func (m *Manager) StartCleanup(ctx context.Context) {
	if m.config.CleanupInterval <= 0 {
		return
	}

	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()
	if m.cleanupCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cleanupCancel = cancel
	m.cleanupDone = done

	m.logger.Info("session cleanup started", zap.Duration("interval", m.config.CleanupInterval))
	go m.cleanupLoop(ctx, cancel, done)
}

// StopCleanup cancels the sweep loop and waits for it to exit.
func (m *Manager) StopCleanup() {
	m.cleanupMu.Lock()
	cancel, done := m.cleanupCancel, m.cleanupDone
	m.cleanupCancel, m.cleanupDone = nil, nil
	m.cleanupMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) cleanupLoop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer func() {
		cancel()
		m.cleanupMu.Lock()
		if m.cleanupDone == done {
			m.cleanupCancel, m.cleanupDone = nil, nil
		}
		m.cleanupMu.Unlock()
	}()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep reclaims every session whose window count is zero and returns how
// many were removed. A failed teardown is logged and does not stop the
// remaining ones; the failed session is still removed.
func (m *Manager) Sweep(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	m.mu.Lock()
	if len(m.sessions) == 0 {
		m.mu.Unlock()
		return 0
	}
	var victims []*Session
	for id, s := range m.sessions {
		if _, busy := m.deleting[id]; busy {
			continue
		}
		if s.WindowCount() == 0 {
			m.deleting[id] = struct{}{}
			victims = append(victims, s)
		}
	}
	m.mu.Unlock()

	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(m.config.TeardownConcurrency)
	for _, s := range victims {
		g.Go(func() error {
			if err := m.teardown(ctx, s, ReasonCleanup); err != nil {
				failed.Add(1)
				m.logger.Warn("cleanup teardown failed",
					zap.String("session_id", s.ID()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.metrics.RecordCleanupSweep(len(victims), int(failed.Load()))
	if len(victims) > 0 {
		m.logger.Info("cleanup sweep finished",
			zap.Int("reclaimed", len(victims)),
			zap.Int64("failed", failed.Load()),
		)
	}
	return len(victims)
}
