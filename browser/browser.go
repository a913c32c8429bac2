package browser

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Supported engines.
const (
	EngineChromium = "chromium"
	EngineFirefox  = "firefox"
	EngineWebKit   = "webkit"
)

// Engine-level failures the command handler translates into wire errors.
var (
	ErrWindowClosed = errors.New("window closed")
	ErrTimeout      = errors.New("operation timed out")
	ErrScript       = errors.New("script failed")
)

// Config configures the browser engine behind every session.
type Config struct {
	Engine         string        `json:"engine"`
	Headless       bool          `json:"headless"`
	Timeout        time.Duration `json:"timeout"`
	ViewportWidth  int           `json:"viewport_width"`
	ViewportHeight int           `json:"viewport_height"`
	UserAgent      string        `json:"user_agent,omitempty"`
	ProxyURL       string        `json:"proxy_url,omitempty"`
	// SkipInstall assumes the engine binaries are already present.
	SkipInstall bool `json:"skip_install"`
}

// DefaultConfig returns a headless chromium with a 1920x1080 viewport.
func DefaultConfig() Config {
	return Config{
		Engine:         EngineChromium,
		Headless:       true,
		Timeout:        30 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}

// Validate checks the engine name and viewport.
func (c Config) Validate() error {
	if !slices.Contains([]string{EngineChromium, EngineFirefox, EngineWebKit}, c.Engine) {
		return fmt.Errorf("unsupported browser engine %q", c.Engine)
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", c.ViewportWidth, c.ViewportHeight)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("negative browser timeout %s", c.Timeout)
	}
	return nil
}

// Window is one top-level browsing context of a session.
type Window interface {
	URL() string
	Goto(url string) error
	Title() (string, error)
	Content() (string, error)
	// Evaluate runs script as a function body; args are visible as `arguments`.
	Evaluate(script string, args []any) (any, error)
	Back() error
	Forward() error
	Reload() error
	// Screenshot returns a PNG of the viewport.
	Screenshot() ([]byte, error)
	Close() error
}
