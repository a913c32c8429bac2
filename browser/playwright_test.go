package browser

import (
	"errors"
	"testing"

	"github.com/ariya/phantomjs-sub019/session"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBrowserContext overrides Close only; every other method panics through
// the nil embedded interface.
type fakeBrowserContext struct {
	playwright.BrowserContext
	closes int
	err    error
}

func (c *fakeBrowserContext) Close(options ...playwright.BrowserContextCloseOptions) error {
	c.closes++
	return c.err
}

func TestContextCloser_ReleasesBrowserContext(t *testing.T) {
	bc := &fakeBrowserContext{}
	s := session.New("S1", nil)
	inst := NewInstance(s, contextCloser(bc), nil)
	open(inst, "main")

	require.NoError(t, inst.Close())
	require.NoError(t, inst.Close())
	assert.Equal(t, 1, bc.closes)
}

func TestContextCloser_PropagatesError(t *testing.T) {
	boom := errors.New("context gone")
	bc := &fakeBrowserContext{err: boom}
	inst := NewInstance(session.New("S1", nil), contextCloser(bc), nil)

	assert.ErrorIs(t, inst.Close(), boom)
	assert.Equal(t, 1, bc.closes)
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(playwright.ErrTargetClosed), ErrWindowClosed)
	assert.ErrorIs(t, translate(playwright.ErrTimeout), ErrTimeout)

	other := errors.New("net::ERR_NAME_NOT_RESOLVED")
	assert.Same(t, other, translate(other))
}
