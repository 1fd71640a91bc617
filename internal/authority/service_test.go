package authority

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/popwatch/internal/audit"
	"github.com/ppiankov/popwatch/internal/protocol"
	"github.com/ppiankov/popwatch/internal/ratelimit"
)

func newTestService(t *testing.T, cfg *Config) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "pending"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	auditPath := filepath.Join(dir, "audit.jsonl")
	log, err := audit.Open(auditPath)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, log, cfg, "sha256:test", logger), auditPath
}

func drain(ch <-chan protocol.Message) []string {
	var cmds []string
	for {
		select {
		case m := <-ch:
			cmds = append(cmds, m.Cmd)
		default:
			return cmds
		}
	}
}

func TestExceptionReply(t *testing.T) {
	svc, _ := newTestService(t, &Config{Exceptions: []string{"bank.example.com"}, Silent: true})
	ctx := context.Background()

	reply, err := svc.Exception(ctx, protocol.ExceptionRequest{Hostname: "www.bank.example.com"})
	if err != nil {
		t.Fatalf("Exception: %v", err)
	}
	if reply.Enabled || !reply.Silent {
		t.Errorf("expected disabled silent reply, got %+v", reply)
	}

	reply, _ = svc.Exception(ctx, protocol.ExceptionRequest{Hostname: "news.example.com"})
	if !reply.Enabled {
		t.Error("expected blocking enabled for other hosts")
	}
}

func TestAcceptPushesReleaseThenAccepted(t *testing.T) {
	svc, auditPath := newTestService(t, nil)
	ctx := context.Background()

	ch, cancel, err := svc.Subscribe("page-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := svc.PopupRequest(ctx, testRequest("p1")); err != nil {
		t.Fatalf("PopupRequest: %v", err)
	}
	pending, _ := svc.Pending()
	if len(pending) != 1 || pending[0].ID != "p1" {
		t.Fatalf("expected p1 pending, got %+v", pending)
	}

	res, err := svc.Accept(ctx, "p1")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !res.Delivered {
		t.Error("expected verdict delivered")
	}

	first := <-ch
	second := <-ch
	if first.Cmd != protocol.CmdReleaseBeforeUnload || second.Cmd != protocol.CmdPopupAccepted {
		t.Errorf("expected release then accepted, got %s, %s", first.Cmd, second.Cmd)
	}
	if second.ID != "p1" || second.URL != "https://ads.example.net/p1" {
		t.Errorf("unexpected accepted message %+v", second)
	}

	if _, err := svc.Accept(ctx, "p1"); !errors.Is(err, ErrResolved) {
		t.Errorf("expected at-most-once acceptance, got %v", err)
	}
	if pending, _ := svc.Pending(); len(pending) != 0 {
		t.Errorf("expected nothing pending, got %+v", pending)
	}

	result := audit.Verify(auditPath)
	if !result.Valid || result.Lines != 2 {
		t.Errorf("expected 2 chained audit entries, got %+v", result)
	}
}

func TestDenyReleasesOnly(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	ch, cancel, _ := svc.Subscribe("page-1")
	defer cancel()

	svc.PopupRequest(ctx, testRequest("p2"))
	if _, err := svc.Deny(ctx, "p2"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	cmds := drain(ch)
	if len(cmds) != 1 || cmds[0] != protocol.CmdReleaseBeforeUnload {
		t.Errorf("expected only release, got %v", cmds)
	}
}

func TestVerdictWithoutListener(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	svc.PopupRequest(ctx, testRequest("p3"))
	res, err := svc.Accept(ctx, "p3")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Delivered {
		t.Error("expected undelivered verdict with no subscriber")
	}
	if res.Popup.Status != StatusAccepted {
		t.Errorf("expected popup resolved anyway, got %s", res.Popup.Status)
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ch, cancel, err := svc.Subscribe("page-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !svc.Listening("page-1") {
		t.Fatal("expected page listening")
	}
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
	if svc.Listening("page-1") {
		t.Error("expected subscription removed")
	}
	if _, _, err := svc.Subscribe("bad/page"); err == nil {
		t.Error("expected invalid page id rejected")
	}
}

func TestUseShadow(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	if err := svc.UseShadow(ctx, "page-9"); !errors.Is(err, ErrNoListener) {
		t.Errorf("expected ErrNoListener, got %v", err)
	}

	ch, cancel, _ := svc.Subscribe("page-9")
	defer cancel()
	if err := svc.UseShadow(ctx, "page-9"); err != nil {
		t.Fatalf("UseShadow: %v", err)
	}
	if cmds := drain(ch); len(cmds) != 1 || cmds[0] != protocol.CmdUseShadow {
		t.Errorf("expected use-shadow, got %v", cmds)
	}
}

func TestReloadConfigChangesReplies(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	svc.ReloadConfig(&Config{Exceptions: []string{"example.org"}}, "sha256:new")
	reply, _ := svc.Exception(ctx, protocol.ExceptionRequest{Hostname: "example.org"})
	if reply.Enabled {
		t.Error("expected reloaded exception to apply")
	}
	if _, hash := svc.Config(); hash != "sha256:new" {
		t.Errorf("expected new hash, got %s", hash)
	}
}

func TestPopupRequestThrottledPerPage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = ratelimit.Limit{MaxRequests: 2, Window: time.Minute}
	svc, auditPath := newTestService(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		if err := svc.PopupRequest(ctx, testRequest(id)); err != nil {
			t.Fatalf("PopupRequest(%s): %v", id, err)
		}
	}
	err := svc.PopupRequest(ctx, testRequest("p3"))
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	other := testRequest("p4")
	other.Page = "page-2"
	if err := svc.PopupRequest(ctx, other); err != nil {
		t.Errorf("other page must have its own window: %v", err)
	}

	pending, _ := svc.Pending()
	if len(pending) != 3 {
		t.Errorf("expected 3 pending, throttled request dropped; got %d", len(pending))
	}

	result, err := audit.History(auditPath, audit.Filter{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if result.Summary.Throttled != 1 {
		t.Errorf("expected 1 throttled entry, got %d", result.Summary.Throttled)
	}
}

func TestAckClearsOutstandingRelease(t *testing.T) {
	svc, auditPath := newTestService(t, nil)
	ctx := context.Background()

	ch, cancel, err := svc.Subscribe("page-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := svc.PopupRequest(ctx, testRequest("p1")); err != nil {
		t.Fatalf("PopupRequest: %v", err)
	}
	if _, err := svc.Deny(ctx, "p1"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	drain(ch)
	if n := svc.Unreleased("page-1"); n != 1 {
		t.Fatalf("expected 1 outstanding release, got %d", n)
	}

	if err := svc.Ack(ctx, "page-1", protocol.CmdReleaseBeforeUnload); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if n := svc.Unreleased("page-1"); n != 0 {
		t.Errorf("expected release acknowledged, got %d outstanding", n)
	}

	tests := []struct {
		name string
		page string
		cmd  string
		want error
	}{
		{"nothing outstanding", "page-1", protocol.CmdReleaseBeforeUnload, ErrUnexpectedAck},
		{"command without ack", "page-1", protocol.CmdPopupAccepted, ErrUnexpectedAck},
		{"bad page", "../etc", protocol.CmdReleaseBeforeUnload, ErrInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Ack(ctx, tt.page, tt.cmd); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	result, err := audit.History(auditPath, audit.Filter{Page: "page-1"})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	released := 0
	for _, e := range result.Entries {
		if e.Event == audit.EventReleased {
			released++
		}
	}
	if released != 1 {
		t.Errorf("expected 1 released entry, got %d", released)
	}
}

func TestUnsubscribeDropsOutstandingReleases(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, cancel, err := svc.Subscribe("page-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	svc.PopupRequest(ctx, testRequest("p1"))
	svc.Deny(ctx, "p1")
	cancel()

	if n := svc.Unreleased("page-1"); n != 0 {
		t.Errorf("expected outstanding releases dropped with the page, got %d", n)
	}
}
