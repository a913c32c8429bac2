// 配置文件变更监听器实现。
//
// 轮询配置文件的修改时间，变更经防抖后重新加载并回调。
package config

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 监听器类型定义 ---

// Watcher reloads the configuration file when it changes on disk and hands
// the fresh Config to registered callbacks. A file that fails to load is
// logged and the previous configuration stays in effect.
type Watcher struct {
	mu sync.Mutex

	// 配置
	loader        *Loader
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastMod time.Time

	// 回调
	callbacks []func(*Config)

	logger *zap.Logger
}

// --- 监听器选项 ---

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithPollInterval sets how often the file is checked
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

// WithDebounceDelay sets the debounce delay for file changes
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// --- 监听器实现 ---

// NewWatcher creates a watcher for the loader's config file.
func NewWatcher(loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if loader == nil || loader.configPath == "" {
		return nil, errors.New("watcher requires a loader with a config path")
	}

	w := &Watcher{
		loader:        loader,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.loader.configPath
}

// OnReload registers a callback for successful reloads
func (w *Watcher) OnReload(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins polling. It returns an error if the watcher is already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}

	if info, err := os.Stat(w.Path()); err == nil {
		w.lastMod = info.ModTime()
	} else if os.IsNotExist(err) {
		w.logger.Warn("config file does not exist, will watch for creation",
			zap.String("path", w.Path()))
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.pollLoop(ctx, w.done)

	w.logger.Info("config watcher started",
		zap.String("path", w.Path()),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop stops polling and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("config watcher stopped")
}

// IsRunning returns whether the watcher is running
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// 防抖：变更后等待文件稳定再加载
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.changed() {
				pending = time.After(w.debounceDelay)
			}
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

// changed reports whether the file's modification time moved forward.
func (w *Watcher) changed() bool {
	info, err := os.Stat(w.Path())
	if err != nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !info.ModTime().After(w.lastMod) {
		return false
	}
	w.lastMod = info.ModTime()
	return true
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config",
			zap.String("path", w.Path()),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.Path()))
	for _, cb := range callbacks {
		cb(cfg)
	}
}
