package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ariya/phantomjs-sub019/session"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// PlaywrightLauncher runs one engine process shared by all sessions. Each
// session gets its own browser context, so cookies and storage never leak
// between sessions.
type PlaywrightLauncher struct {
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	closed  bool
}

// NewPlaywrightLauncher installs (unless SkipInstall) and starts the engine.
func NewPlaywrightLauncher(config Config, logger *zap.Logger) (*PlaywrightLauncher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{config.Engine},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if !config.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(config.Headless),
	}
	if config.ProxyURL != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: config.ProxyURL}
	}
	b, err := engineType(pw, config.Engine).Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch %s: %w", config.Engine, err)
	}

	logger.Info("browser engine started",
		zap.String("engine", config.Engine),
		zap.Bool("headless", config.Headless),
		zap.String("version", b.Version()),
	)
	return &PlaywrightLauncher{
		config:  config,
		logger:  logger.With(zap.String("component", "playwright_launcher")),
		pw:      pw,
		browser: b,
	}, nil
}

func engineType(pw *playwright.Playwright, engine string) playwright.BrowserType {
	switch engine {
	case EngineFirefox:
		return pw.Firefox
	case EngineWebKit:
		return pw.WebKit
	default:
		return pw.Chromium
	}
}

// Launch opens a browser context with its initial window for s and attaches
// the resulting Instance as the session backend.
func (l *PlaywrightLauncher) Launch(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New("browser engine is shut down")
	}
	b := l.browser
	l.mu.Unlock()

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  l.config.ViewportWidth,
			Height: l.config.ViewportHeight,
		},
	}
	if l.config.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(l.config.UserAgent)
	}
	bc, err := b.NewContext(ctxOpts)
	if err != nil {
		return fmt.Errorf("failed to create browser context: %w", err)
	}
	if l.config.Timeout > 0 {
		bc.SetDefaultTimeout(float64(l.config.Timeout.Milliseconds()))
	}

	inst := NewInstance(s, contextCloser(bc), l.logger)
	// Popups and window.open() arrive here; the initial page may too.
	bc.OnPage(func(p playwright.Page) {
		l.track(inst, p)
	})

	page, err := bc.NewPage()
	if err != nil {
		_ = bc.Close()
		return fmt.Errorf("failed to open initial window: %w", err)
	}
	l.track(inst, page)

	if err := s.Attach(inst); err != nil {
		return err
	}
	l.logger.Debug("session browser launched", zap.String("session_id", s.ID()))
	return nil
}

// contextCloser adapts BrowserContext.Close to the Instance closer.
func contextCloser(bc playwright.BrowserContext) func() error {
	return func() error { return bc.Close() }
}

func (l *PlaywrightLauncher) track(inst *Instance, p playwright.Page) {
	inst.Track(p, &pageWindow{page: p})
	p.OnClose(func(closed playwright.Page) {
		inst.Untrack(closed)
	})
}

// Close shuts the engine down. Sessions still open lose their windows.
func (l *PlaywrightLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if err := l.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := l.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	l.logger.Info("browser engine stopped")
	return errors.Join(errs...)
}

// =============================================================================
// Window adapter
// =============================================================================

// scriptWrapper turns a function body into an expression playwright can
// evaluate with a single argument array.
const scriptWrapper = "(args) => (function() { %s }).apply(window, args)"

type pageWindow struct {
	page playwright.Page
}

func (w *pageWindow) URL() string {
	return w.page.URL()
}

func (w *pageWindow) Goto(url string) error {
	_, err := w.page.Goto(url)
	return translate(err)
}

func (w *pageWindow) Title() (string, error) {
	t, err := w.page.Title()
	return t, translate(err)
}

func (w *pageWindow) Content() (string, error) {
	c, err := w.page.Content()
	return c, translate(err)
}

func (w *pageWindow) Evaluate(script string, args []any) (any, error) {
	if args == nil {
		args = []any{}
	}
	v, err := w.page.Evaluate(fmt.Sprintf(scriptWrapper, script), args)
	if err != nil {
		if t := translate(err); !errors.Is(t, ErrWindowClosed) && !errors.Is(t, ErrTimeout) {
			return nil, fmt.Errorf("%w: %w", ErrScript, err)
		}
		return nil, translate(err)
	}
	return v, nil
}

func (w *pageWindow) Back() error {
	_, err := w.page.GoBack()
	return translate(err)
}

func (w *pageWindow) Forward() error {
	_, err := w.page.GoForward()
	return translate(err)
}

func (w *pageWindow) Reload() error {
	_, err := w.page.Reload()
	return translate(err)
}

func (w *pageWindow) Screenshot() ([]byte, error) {
	b, err := w.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	return b, translate(err)
}

func (w *pageWindow) Close() error {
	if w.page.IsClosed() {
		return nil
	}
	return translate(w.page.Close())
}

// translate maps engine errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %w", ErrWindowClosed, err)
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return err
	}
}
