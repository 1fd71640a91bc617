// Package blocker wires the page engine together: it owns the preference
// mirror, decision engine, command recorder, replay executor and redirect
// guard of one page execution context.
package blocker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/popwatch/internal/dom"
	"github.com/ppiankov/popwatch/internal/model"
	"github.com/ppiankov/popwatch/internal/policy"
	"github.com/ppiankov/popwatch/internal/prefs"
	"github.com/ppiankov/popwatch/internal/protocol"
	"github.com/ppiankov/popwatch/internal/recorder"
	"github.com/ppiankov/popwatch/internal/redirect"
	"github.com/ppiankov/popwatch/internal/replay"
)

// defaultTimeout bounds each call to the authority.
const defaultTimeout = 5 * time.Second

// Authority is the privileged side of the page channel.
type Authority interface {
	prefs.Announcer
	PopupRequest(ctx context.Context, req protocol.PopupRequest) error
}

// Exporter publishes preference values to unprivileged page code.
// Only enabled and shadow are exported.
type Exporter interface {
	Export(key string, value any)
}

// Config describes one page execution context.
type Config struct {
	// PageID identifies the context to the authority. Empty means a random id.
	PageID    string
	Location  prefs.Location
	TopLevel  bool
	Parent    prefs.Parent
	Store     prefs.Store
	Authority Authority
	Document  dom.Document
	Page      replay.Page
	Hooks     redirect.UnloadHooks
	Exporter  Exporter
	// GuardWindow overrides redirect.DefaultWindow.
	GuardWindow time.Duration
	// Timeout bounds authority calls. Zero means 5s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Blocker is the page engine of one execution context.
type Blocker struct {
	id      string
	log     *slog.Logger
	mirror  *prefs.Mirror
	engine  *policy.Engine
	rec     *recorder.Recorder
	guard   *redirect.Guard
	exec    *replay.Executor
	doc     dom.Document
	auth    Authority
	src     prefs.Sources
	timeout time.Duration

	// replayMu serializes popup-accepted handling so the enabled flag is
	// restored in the order it was cleared.
	replayMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stops    []func()
	ready    chan struct{}
	started  bool
	unloaded bool
}

// New creates a Blocker. Defaults are in effect until Start resolves the
// preferences.
func New(cfg Config) *Blocker {
	id := cfg.PageID
	if id == "" {
		id = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mirror := prefs.NewMirror()
	rec := recorder.New()
	ctx, cancel := context.WithCancel(context.Background())

	b := &Blocker{
		id:      id,
		log:     logger.With("page", id),
		mirror:  mirror,
		engine:  policy.NewEngine(rec),
		rec:     rec,
		exec:    replay.NewExecutor(cfg.Page),
		doc:     cfg.Document,
		auth:    cfg.Authority,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		src: prefs.Sources{
			Parent:    cfg.Parent,
			Store:     cfg.Store,
			Location:  cfg.Location,
			Authority: cfg.Authority,
		},
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = noHooks{}
	}
	b.guard = redirect.New(hooks, redirect.Config{
		Enabled:  mirror.BlockPageRedirection,
		TopLevel: cfg.TopLevel,
		Window:   cfg.GuardWindow,
	})
	if cfg.Exporter != nil {
		exp := cfg.Exporter
		b.stops = append(b.stops, mirror.Subscribe(func(key string, value any) {
			if key == model.KeyEnabled || key == model.KeyShadow {
				exp.Export(key, value)
			}
		}))
	}
	return b
}

// ID returns the page id used on the authority channel.
func (b *Blocker) ID() string { return b.id }

// Mirror returns the preference mirror of this context.
func (b *Blocker) Mirror() *prefs.Mirror { return b.mirror }

// SharedPreferences lets a Blocker serve as the enclosing context of nested frames.
func (b *Blocker) SharedPreferences() (prefs.Shared, bool, error) {
	return b.mirror.SharedPreferences()
}

// Ready is closed once the initial preference resolution has finished.
func (b *Blocker) Ready() <-chan struct{} { return b.ready }

// Start subscribes to store changes and resolves preferences in the background.
// Calling Start more than once has no effect.
func (b *Blocker) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started || b.unloaded {
		b.mu.Unlock()
		return
	}
	b.started = true
	if b.src.Store != nil {
		b.stops = append(b.stops, prefs.Watch(b.src.Store, b.mirror))
	}
	if r, ok := b.src.Store.(prefs.Runner); ok {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := r.Run(b.ctx); err != nil {
				b.log.Warn("preference store stopped", "error", err)
			}
		}()
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer close(b.ready)

		rctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		stop := context.AfterFunc(b.ctx, cancel)
		defer stop()
		origin, err := prefs.Resolve(rctx, b.mirror, b.src)
		if err != nil {
			b.log.Warn("preference resolution incomplete", "origin", origin, "error", err)
			return
		}
		b.log.Debug("preferences resolved", "origin", origin, "enabled", b.mirror.Enabled())
	}()
}

// Policy decides one intercepted action. A disabled blocker allows everything.
// On block the redirect guard is armed and the authority is notified without
// waiting for a reply.
func (b *Blocker) Policy(ctx context.Context, ev model.EventDescription) model.Decision {
	if !b.mirror.Enabled() {
		return model.Decision{Href: ev.Href}
	}

	d, err := b.decide(ev)
	if err != nil {
		b.log.Error("decision failed, allowing", "type", string(ev.Kind), "error", err)
		return model.Decision{Href: ev.Href}
	}
	if !d.Block {
		return d
	}

	b.guard.Arm()
	b.notify(ctx, protocol.PopupRequest{
		Page:     b.id,
		Type:     string(ev.Kind),
		Href:     d.Href,
		Hostname: d.Hostname,
		ID:       d.ID,
		Silent:   b.mirror.Silent(),
	})
	return d
}

func (b *Blocker) decide(ev model.EventDescription) (d model.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decision engine panic: %v", r)
		}
	}()
	return b.engine.Decide(ev, b.mirror.Snapshot(), b.doc, ev.Source), nil
}

func (b *Blocker) notify(ctx context.Context, req protocol.PopupRequest) {
	if b.auth == nil {
		return
	}
	b.mu.Lock()
	if b.unloaded {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()
		stop := context.AfterFunc(b.ctx, cancel)
		defer stop()

		if err := b.auth.PopupRequest(sctx, req); err != nil {
			b.log.Warn("popup request not delivered", "id", req.ID, "error", err)
		}
	}()
}

// Record appends one symbolic call to the log of id. Unknown ids are ignored.
func (b *Blocker) Record(id string, entry model.CommandEntry) bool {
	return b.rec.Record(id, entry)
}

// HandleMessage applies one authority command. It returns true when the
// command expects an acknowledgement.
func (b *Blocker) HandleMessage(msg protocol.Message) bool {
	switch msg.Cmd {
	case protocol.CmdPopupAccepted:
		b.accept(msg.ID, msg.URL)
	case protocol.CmdUseShadow:
		b.mirror.Set(model.KeyShadow, true)
	case protocol.CmdReleaseBeforeUnload:
		b.guard.Disarm()
		return true
	default:
		b.log.Debug("ignoring unknown command", "cmd", msg.Cmd)
	}
	return false
}

// accept replays the blocked action with blocking suspended so the replayed
// calls are not intercepted again. A preference change to enabled that lands
// during the replay is kept.
func (b *Blocker) accept(id, url string) {
	b.replayMu.Lock()
	defer b.replayMu.Unlock()

	restore := b.mirror.Suspend(model.KeyEnabled, false)
	defer restore()

	log, _ := b.rec.Take(id)
	if err := b.exec.Run(log, url); err != nil {
		b.log.Warn("replay failed", "id", id, "entries", len(log), "error", err)
	} else {
		b.log.Info("popup replayed", "id", id, "entries", len(log))
	}
	b.guard.Disarm()
}

// Unload drops every command log, disarms the guard and waits for in-flight
// authority calls to stop.
func (b *Blocker) Unload() {
	b.mu.Lock()
	if b.unloaded {
		b.mu.Unlock()
		return
	}
	b.unloaded = true
	stops := b.stops
	b.stops = nil
	b.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	b.cancel()
	b.rec.Reset()
	b.guard.Disarm()
	b.wg.Wait()
}

type noHooks struct{}

func (noHooks) InstallBeforeUnload() {}
func (noHooks) RemoveBeforeUnload()  {}
