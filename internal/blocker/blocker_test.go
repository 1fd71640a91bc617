package blocker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/popwatch/internal/dom"
	"github.com/ppiankov/popwatch/internal/model"
	"github.com/ppiankov/popwatch/internal/prefs"
	"github.com/ppiankov/popwatch/internal/protocol"
	"github.com/ppiankov/popwatch/internal/replay"
)

type fakeAuthority struct {
	reply    protocol.ExceptionReply
	err      error
	requests chan protocol.PopupRequest
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{
		reply:    protocol.ExceptionReply{Enabled: true},
		requests: make(chan protocol.PopupRequest, 8),
	}
}

func (a *fakeAuthority) Exception(ctx context.Context, req protocol.ExceptionRequest) (protocol.ExceptionReply, error) {
	return a.reply, nil
}

func (a *fakeAuthority) PopupRequest(ctx context.Context, req protocol.PopupRequest) error {
	a.requests <- req
	return a.err
}

type fakeObject struct {
	name   string
	page   *fakePage
	props  map[string]replay.Object
	onOpen func(args []any) (any, error)
}

func (o *fakeObject) Property(name string) (replay.Object, bool) {
	p, ok := o.props[name]
	return p, ok
}

func (o *fakeObject) Invoke(method string, args []any) (any, error) {
	o.page.journal = append(o.page.journal, o.name+"."+method)
	if method == "open" && o.onOpen != nil {
		return o.onOpen(args)
	}
	return nil, nil
}

type fakePage struct {
	window  *fakeObject
	journal []string
	clicked []string
}

func (p *fakePage) Window() replay.Object { return p.window }

func (p *fakePage) ClickLink(href, target string) error {
	p.clicked = append(p.clicked, href+"|"+target)
	return nil
}

type fakeHooks struct {
	mu        sync.Mutex
	installed int
	removed   int
}

func (h *fakeHooks) InstallBeforeUnload() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.installed++
}

func (h *fakeHooks) RemoveBeforeUnload() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed++
}

func (h *fakeHooks) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.installed, h.removed
}

type memStore struct {
	data map[string]any
}

func (s *memStore) Load(ctx context.Context) (map[string]any, error) { return s.data, nil }
func (s *memStore) Set(ctx context.Context, key string, value any) error {
	s.data[key] = value
	return nil
}
func (s *memStore) Subscribe(fn func(map[string]any)) func() { return func() {} }

type recordingExporter struct {
	mu   sync.Mutex
	seen map[string]any
}

func (e *recordingExporter) Export(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seen == nil {
		e.seen = map[string]any{}
	}
	e.seen[key] = value
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTree(t *testing.T) *dom.Tree {
	t.Helper()
	tree, err := dom.NewTree("https://news.example.com/")
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	tree.SetTop("news.example.com", nil)
	return tree
}

func started(t *testing.T, cfg Config) *Blocker {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	b := New(cfg)
	b.Start(context.Background())
	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("preference resolution did not finish")
	}
	t.Cleanup(b.Unload)
	return b
}

func waitRequest(t *testing.T, a *fakeAuthority) protocol.PopupRequest {
	t.Helper()
	select {
	case req := <-a.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("expected popup request")
	}
	return protocol.PopupRequest{}
}

func TestBlockedWindowOpenIsReplayedOnAccept(t *testing.T) {
	page := &fakePage{}
	popup := &fakeObject{name: "popup", page: page, props: map[string]replay.Object{}}
	popup.props["window"] = popup

	auth := newFakeAuthority()
	var b *Blocker
	var enabledDuringReplay bool
	page.window = &fakeObject{name: "self", page: page, onOpen: func(args []any) (any, error) {
		enabledDuringReplay = b.Mirror().Enabled()
		return popup, nil
	}}

	b = started(t, Config{
		PageID:    "page-1",
		Authority: auth,
		Document:  newTree(t),
		Page:      page,
		Store:     &memStore{data: map[string]any{}},
	})

	d := b.Policy(context.Background(), model.EventDescription{
		Kind: model.WindowOpen,
		Href: "https://ads.example.net/landing",
		Args: []any{"https://ads.example.net/landing", "_blank"},
	})
	if !d.Block || !d.SameContext {
		t.Fatalf("expected same-context block, got %+v", d)
	}

	req := waitRequest(t, auth)
	if req.ID != d.ID || req.Page != "page-1" || req.Hostname != "ads.example.net" || req.Type != "window.open" {
		t.Errorf("unexpected popup request %+v", req)
	}

	if !b.Record(d.ID, model.CommandEntry{Name: "window", Method: "focus"}) {
		t.Fatal("expected record to be accepted for a seeded id")
	}

	if b.HandleMessage(protocol.Accepted(d.ID, d.Href)) {
		t.Error("popup-accepted expects no acknowledgement")
	}
	if len(page.journal) != 2 || page.journal[0] != "self.open" || page.journal[1] != "popup.focus" {
		t.Errorf("unexpected replay journal %v", page.journal)
	}
	if enabledDuringReplay {
		t.Error("blocking must be suspended during replay")
	}
	if !b.Mirror().Enabled() {
		t.Error("blocking must be restored after replay")
	}

	// the log is consumed; a second accept degrades to a plain open
	b.HandleMessage(protocol.Accepted(d.ID, d.Href))
	if len(page.clicked) != 1 || page.clicked[0] != "https://ads.example.net/landing|_blank" {
		t.Errorf("expected degraded open, got %v", page.clicked)
	}
}

func TestDisableDuringReplayIsKept(t *testing.T) {
	page := &fakePage{}
	popup := &fakeObject{name: "popup", page: page, props: map[string]replay.Object{}}

	auth := newFakeAuthority()
	var b *Blocker
	page.window = &fakeObject{name: "self", page: page, onOpen: func(args []any) (any, error) {
		// a store push turning blocking off lands mid-replay
		b.Mirror().Apply(map[string]any{model.KeyEnabled: false})
		return popup, nil
	}}

	b = started(t, Config{
		PageID:    "page-1",
		Authority: auth,
		Document:  newTree(t),
		Page:      page,
		Store:     &memStore{data: map[string]any{}},
	})

	d := b.Policy(context.Background(), model.EventDescription{
		Kind: model.WindowOpen,
		Href: "https://ads.example.net/landing",
		Args: []any{"https://ads.example.net/landing", "_blank"},
	})
	waitRequest(t, auth)

	b.HandleMessage(protocol.Accepted(d.ID, d.Href))
	if b.Mirror().Enabled() {
		t.Error("a disable received during replay must not be reverted")
	}

	// and a replay that nothing interrupts restores what was there before
	b.Mirror().Set(model.KeyEnabled, true)
	b.HandleMessage(protocol.Accepted("unknown-id", "https://ads.example.net/other"))
	if !b.Mirror().Enabled() {
		t.Error("blocking must be restored after an undisturbed replay")
	}
}

func TestAllowedHostSendsNothing(t *testing.T) {
	auth := newFakeAuthority()
	tree := newTree(t)
	a := tree.Add(dom.Element{Tag: "a", Href: "https://www.google.com/search?q=x", Target: "_blank", HasTarget: true})

	b := started(t, Config{Authority: auth, Document: tree, Page: &fakePage{}})
	d := b.Policy(context.Background(), model.EventDescription{
		Kind:            model.ElementActivation,
		TargetFrameName: "_blank",
		Source:          a,
	})
	if d.Block {
		t.Fatalf("expected allow for popup host, got %+v", d)
	}

	select {
	case req := <-auth.requests:
		t.Errorf("unexpected popup request %+v", req)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExceptionDisablesBlocking(t *testing.T) {
	auth := newFakeAuthority()
	auth.reply = protocol.ExceptionReply{Enabled: false}

	b := started(t, Config{
		Authority: auth,
		Document:  newTree(t),
		Store:     &memStore{data: map[string]any{}},
		Location:  prefs.Location{Href: "https://trusted.example/", Hostname: "trusted.example"},
	})
	d := b.Policy(context.Background(), model.EventDescription{
		Kind: model.WindowOpen,
		Href: "https://ads.example.net/",
	})
	if d.Block {
		t.Errorf("expected allow on excepted page, got %+v", d)
	}
}

func TestGuardArmedOnBlockAndReleased(t *testing.T) {
	hooks := &fakeHooks{}
	auth := newFakeAuthority()

	b := started(t, Config{
		Authority:   auth,
		Document:    newTree(t),
		Store:       &memStore{data: map[string]any{"block-page-redirection": true}},
		TopLevel:    true,
		Hooks:       hooks,
		GuardWindow: time.Minute,
	})
	b.Policy(context.Background(), model.EventDescription{Kind: model.WindowOpen, Href: "https://ads.example.net/"})
	waitRequest(t, auth)

	if installed, _ := hooks.counts(); installed != 1 {
		t.Fatalf("expected guard armed once, got %d", installed)
	}
	if !b.HandleMessage(protocol.ReleaseBeforeUnload()) {
		t.Error("release-beforeunload must be acknowledged")
	}
	if _, removed := hooks.counts(); removed != 1 {
		t.Errorf("expected guard disarmed, got %d removals", removed)
	}
}

func TestGuardStaysOffInFrames(t *testing.T) {
	hooks := &fakeHooks{}
	b := started(t, Config{
		Document: newTree(t),
		Store:    &memStore{data: map[string]any{"block-page-redirection": true}},
		TopLevel: false,
		Hooks:    hooks,
	})
	b.Policy(context.Background(), model.EventDescription{Kind: model.WindowOpen, Href: "https://ads.example.net/"})
	if installed, _ := hooks.counts(); installed != 0 {
		t.Errorf("nested frames must not arm the guard, got %d", installed)
	}
}

func TestDecisionPanicFailsOpen(t *testing.T) {
	// no document: the anchor lookup panics
	b := started(t, Config{})
	d := b.Policy(context.Background(), model.EventDescription{
		Kind: model.ElementActivation,
		Href: "https://ads.example.net/",
	})
	if d.Block {
		t.Error("a failing decision must allow the action")
	}
}

func TestUseShadowExported(t *testing.T) {
	exp := &recordingExporter{}
	b := started(t, Config{Document: newTree(t), Exporter: exp})

	b.HandleMessage(protocol.UseShadow())
	if !b.Mirror().Snapshot().ShadowMode {
		t.Error("expected shadow mode")
	}
	exp.mu.Lock()
	defer exp.mu.Unlock()
	if exp.seen[model.KeyShadow] != true {
		t.Errorf("expected shadow exported, got %v", exp.seen)
	}
}

func TestNestedFrameInheritsTop(t *testing.T) {
	top := started(t, Config{Document: newTree(t)})
	top.HandleMessage(protocol.UseShadow())

	auth := newFakeAuthority()
	auth.err = errors.New("must not be asked")
	frame := started(t, Config{Parent: top, Authority: auth, Document: newTree(t)})
	if !frame.Mirror().Snapshot().ShadowMode {
		t.Error("expected frame to copy the top context's preferences")
	}
}

func TestUnloadDropsLogs(t *testing.T) {
	b := New(Config{Document: newTree(t), Logger: quietLogger()})
	d := b.Policy(context.Background(), model.EventDescription{Kind: model.WindowOpen, Href: "https://ads.example.net/"})
	if !d.Block {
		t.Fatalf("expected block, got %+v", d)
	}

	b.Unload()
	if b.Record(d.ID, model.CommandEntry{Name: "window", Method: "focus"}) {
		t.Error("expected logs dropped on unload")
	}
	b.Unload()
}

func TestDisabledAllowsEverything(t *testing.T) {
	auth := newFakeAuthority()
	b := started(t, Config{
		Authority: auth,
		Document:  newTree(t),
		Store:     &memStore{data: map[string]any{"enabled": false}},
	})
	d := b.Policy(context.Background(), model.EventDescription{
		Kind:    model.WindowOpen,
		Href:    "https://ads.example.net/",
		MetaKey: true,
	})
	if d.Block {
		t.Errorf("expected allow when disabled, got %+v", d)
	}
}

type runningStore struct {
	memStore
	running chan struct{}
	stopped chan struct{}
}

func (s *runningStore) Run(ctx context.Context) error {
	close(s.running)
	<-ctx.Done()
	close(s.stopped)
	return nil
}

func TestStartRunsPollingStoreUntilUnload(t *testing.T) {
	store := &runningStore{
		memStore: memStore{data: map[string]any{}},
		running:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	b := New(Config{
		PageID:   "page-1",
		Document: newTree(t),
		Page:     &fakePage{},
		Store:    store,
		Logger:   quietLogger(),
	})
	b.Start(context.Background())

	select {
	case <-store.running:
	case <-time.After(2 * time.Second):
		t.Fatal("store Run was not started")
	}

	b.Unload()
	select {
	case <-store.stopped:
	default:
		t.Error("Unload must wait for the store to stop")
	}
}
