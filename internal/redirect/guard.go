// Package redirect suppresses page unload for a short window after a popup is
// blocked, so a page cannot navigate away before the approval round trip completes.
package redirect

import (
	"sync"
	"time"
)

// DefaultWindow covers one message round trip to the decision authority.
const DefaultWindow = 2 * time.Second

// UnloadHooks installs and removes the page's beforeunload interception.
type UnloadHooks interface {
	InstallBeforeUnload()
	RemoveBeforeUnload()
}

// Config controls when the guard may arm.
type Config struct {
	// Enabled reports the current block-page-redirection preference.
	Enabled func() bool
	// TopLevel reports whether the page is the top-level context.
	TopLevel bool
	// Window is the countdown length. Zero means DefaultWindow.
	Window time.Duration
}

// Guard is a re-armable, timer-backed unload suppressor.
type Guard struct {
	hooks  UnloadHooks
	cfg    Config
	mu     sync.Mutex
	armed  bool
	timer  *time.Timer
	gen    uint64
	window time.Duration
}

// New creates a disarmed Guard.
func New(hooks UnloadHooks, cfg Config) *Guard {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{hooks: hooks, cfg: cfg, window: window}
}

// Arm installs the unload handler (once) and restarts the countdown.
// Returns false when redirect blocking is disabled or the page is not top-level.
func (g *Guard) Arm() bool {
	if !g.cfg.TopLevel || g.cfg.Enabled == nil || !g.cfg.Enabled() {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.armed {
		g.hooks.InstallBeforeUnload()
		g.armed = true
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.gen++
	gen := g.gen
	g.timer = time.AfterFunc(g.window, func() { g.expire(gen) })
	return true
}

// Disarm removes the handler and cancels the countdown. Safe to call at any time.
func (g *Guard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disarmLocked()
}

// Armed reports whether the unload handler is currently installed.
func (g *Guard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// expire disarms unless the guard was re-armed after this countdown started.
func (g *Guard) expire(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.gen {
		return
	}
	g.disarmLocked()
}

func (g *Guard) disarmLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.gen++
	if g.armed {
		g.hooks.RemoveBeforeUnload()
		g.armed = false
	}
}
