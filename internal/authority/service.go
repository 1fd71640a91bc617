package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/popwatch/internal/audit"
	"github.com/ppiankov/popwatch/internal/protocol"
	"github.com/ppiankov/popwatch/internal/ratelimit"
)

// subscriberBuffer is the per-subscription outbound queue length.
const subscriberBuffer = 16

var (
	// ErrNoListener means the page that asked is no longer subscribed.
	ErrNoListener = errors.New("page is not listening")
	// ErrThrottled means the page exceeded its popup request rate limit.
	ErrThrottled = errors.New("popup request rate limit exceeded")
	// ErrUnexpectedAck means a page acknowledged a command it was not waiting on.
	ErrUnexpectedAck = errors.New("no command awaiting acknowledgement")
)

// Resolution is the outcome of an operator verdict.
type Resolution struct {
	Popup Popup `json:"popup"`
	// Delivered reports whether the page received the verdict.
	Delivered bool `json:"delivered"`
}

// Service answers pages and operators. Safe for concurrent use.
type Service struct {
	store    *Store
	audit    *audit.Log
	log      *slog.Logger
	throttle *ratelimit.Tracker

	mu      sync.RWMutex
	cfg     *Config
	cfgHash string

	subMu  sync.Mutex
	subs   map[string]map[int]chan protocol.Message
	nextID int
	// unreleased counts release-beforeunload messages queued per page and not yet acknowledged.
	unreleased map[string]int
}

// NewService creates a Service. auditLog may be nil.
func NewService(store *Store, auditLog *audit.Log, cfg *Config, cfgHash string, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		audit:      auditLog,
		log:        logger,
		throttle:   ratelimit.NewTracker(),
		cfg:        cfg,
		cfgHash:    cfgHash,
		subs:       make(map[string]map[int]chan protocol.Message),
		unreleased: make(map[string]int),
	}
}

// Config returns the active configuration and its hash.
func (s *Service) Config() (*Config, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.cfgHash
}

// ReloadConfig swaps in a new configuration.
func (s *Service) ReloadConfig(cfg *Config, hash string) {
	s.mu.Lock()
	s.cfg = cfg
	s.cfgHash = hash
	s.mu.Unlock()

	s.log.Info("authority config reloaded", "hash", hash)
	s.record(audit.Entry{Event: audit.EventConfigReload, Decision: "applied", ConfigHash: hash})
}

// Exception answers a page announcement.
func (s *Service) Exception(ctx context.Context, req protocol.ExceptionRequest) (protocol.ExceptionReply, error) {
	cfg, hash := s.Config()
	enabled, silent := cfg.Reply(req.Hostname)

	decision := "enabled"
	if !enabled {
		decision = "disabled"
	}
	s.record(audit.Entry{
		Event:      audit.EventException,
		Popup:      audit.Popup{Href: req.Href, Hostname: req.Hostname},
		Decision:   decision,
		ConfigHash: hash,
	})
	return protocol.ExceptionReply{Enabled: enabled, Silent: silent}, nil
}

// PopupRequest records a blocked popup as pending.
func (s *Service) PopupRequest(ctx context.Context, req protocol.PopupRequest) error {
	cfg, hash := s.Config()
	if r := s.throttle.Allow(req.Page, cfg.RateLimit, time.Now()); r.Exceeded {
		s.log.Warn("popup request throttled", "id", req.ID, "page", req.Page, "reason", r.Reason)
		s.record(audit.Entry{
			Event:      audit.EventThrottled,
			Page:       req.Page,
			Popup:      audit.Popup{ID: req.ID, Type: req.Type, Href: req.Href, Hostname: req.Hostname},
			Decision:   "dropped",
			Reason:     r.Reason,
			ConfigHash: hash,
		})
		return fmt.Errorf("page %q: %w", req.Page, ErrThrottled)
	}

	created, err := s.store.Request(req)
	if err != nil {
		return fmt.Errorf("record popup: %w", err)
	}
	if !created {
		s.log.Debug("duplicate popup request", "id", req.ID, "page", req.Page)
		return nil
	}

	if req.Silent {
		s.log.Debug("popup blocked", "id", req.ID, "page", req.Page, "href", req.Href)
	} else {
		s.log.Info("popup blocked", "id", req.ID, "page", req.Page, "href", req.Href)
	}
	s.record(audit.Entry{
		Event:      audit.EventPopupRequest,
		Page:       req.Page,
		Popup:      audit.Popup{ID: req.ID, Type: req.Type, Href: req.Href, Hostname: req.Hostname},
		Decision:   string(StatusPending),
		ConfigHash: hash,
	})
	return nil
}

// Pending lists unresolved popups, expiring stale ones first.
func (s *Service) Pending() ([]Popup, error) {
	cfg, _ := s.Config()
	expired, err := s.store.Expire(cfg.PendingTTL)
	if err != nil {
		s.log.Warn("expiring popups", "error", err)
	}
	for _, p := range expired {
		s.release(p.Page)
	}
	if cfg.RateLimit.Enabled() {
		s.throttle.Prune(cfg.RateLimit.Window, time.Now())
	}

	all, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("list popups: %w", err)
	}
	pending := make([]Popup, 0, len(all))
	for _, p := range all {
		if p.Status == StatusPending {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

// Accept approves a popup: the page's unload guard is released and the
// blocked action is replayed in the page.
func (s *Service) Accept(ctx context.Context, id string) (Resolution, error) {
	p, err := s.store.Resolve(id, StatusAccepted)
	if err != nil {
		return Resolution{}, err
	}

	s.release(p.Page)
	delivered := s.push(p.Page, protocol.Accepted(p.ID, p.Href))
	s.resolved(audit.EventAccepted, p, delivered)
	return Resolution{Popup: p, Delivered: delivered}, nil
}

// Deny rejects a popup and releases the page's unload guard.
func (s *Service) Deny(ctx context.Context, id string) (Resolution, error) {
	p, err := s.store.Resolve(id, StatusDenied)
	if err != nil {
		return Resolution{}, err
	}

	delivered := s.release(p.Page)
	s.resolved(audit.EventDenied, p, delivered)
	return Resolution{Popup: p, Delivered: delivered}, nil
}

// UseShadow switches a page to shadow mode.
func (s *Service) UseShadow(ctx context.Context, page string) error {
	if err := validateKey(page); err != nil {
		return fmt.Errorf("%w: page: %v", ErrInvalidID, err)
	}
	if !s.push(page, protocol.UseShadow()) {
		return fmt.Errorf("use-shadow for %q: %w", page, ErrNoListener)
	}
	s.record(audit.Entry{Event: audit.EventUseShadow, Page: page, Decision: "shadow"})
	return nil
}

// Subscribe registers a page for outbound messages. The returned cancel
// function closes the channel.
func (s *Service) Subscribe(page string) (<-chan protocol.Message, func(), error) {
	if err := validateKey(page); err != nil {
		return nil, nil, fmt.Errorf("%w: page: %v", ErrInvalidID, err)
	}

	ch := make(chan protocol.Message, subscriberBuffer)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[page] == nil {
		s.subs[page] = make(map[int]chan protocol.Message)
	}
	s.subs[page][id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs[page], id)
			if len(s.subs[page]) == 0 {
				delete(s.subs, page)
				delete(s.unreleased, page)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Listening reports whether page has at least one subscription.
func (s *Service) Listening(page string) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs[page]) > 0
}

// release queues release-beforeunload. The count is raised before the
// message is visible so an immediate Ack always finds it.
func (s *Service) release(page string) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if !s.pushLocked(page, protocol.ReleaseBeforeUnload()) {
		return false
	}
	s.unreleased[page]++
	return true
}

// Ack records that page handled cmd. Only release-beforeunload expects an
// acknowledgement; Delivered on a Resolution means queued, and Ack is the
// page's confirmation that its unload guard is gone.
func (s *Service) Ack(ctx context.Context, page, cmd string) error {
	if err := validateKey(page); err != nil {
		return fmt.Errorf("%w: page: %v", ErrInvalidID, err)
	}
	if cmd != protocol.CmdReleaseBeforeUnload {
		return fmt.Errorf("ack %q from %q: %w", cmd, page, ErrUnexpectedAck)
	}

	s.subMu.Lock()
	n := s.unreleased[page]
	if n > 0 {
		if n == 1 {
			delete(s.unreleased, page)
		} else {
			s.unreleased[page] = n - 1
		}
	}
	s.subMu.Unlock()
	if n == 0 {
		return fmt.Errorf("ack %q from %q: %w", cmd, page, ErrUnexpectedAck)
	}

	s.log.Debug("page released unload guard", "page", page)
	s.record(audit.Entry{Event: audit.EventReleased, Page: page, Decision: "acknowledged"})
	return nil
}

// Unreleased returns how many release-beforeunload messages page has not acknowledged.
func (s *Service) Unreleased(page string) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.unreleased[page]
}

// push queues msg for every subscription of page. A full queue drops the message.
func (s *Service) push(page string, msg protocol.Message) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.pushLocked(page, msg)
}

func (s *Service) pushLocked(page string, msg protocol.Message) bool {
	delivered := false
	for _, ch := range s.subs[page] {
		select {
		case ch <- msg:
			delivered = true
		default:
			s.log.Warn("page queue full, dropping message", "page", page, "cmd", msg.Cmd)
		}
	}
	return delivered
}

func (s *Service) resolved(event string, p Popup, delivered bool) {
	reason := ""
	if !delivered {
		reason = ErrNoListener.Error()
		s.log.Warn("verdict not delivered", "id", p.ID, "page", p.Page, "status", p.Status)
	} else {
		s.log.Info("popup resolved", "id", p.ID, "page", p.Page, "status", p.Status)
	}
	_, hash := s.Config()
	s.record(audit.Entry{
		Event:      event,
		Page:       p.Page,
		Popup:      audit.Popup{ID: p.ID, Type: p.Type, Href: p.Href, Hostname: p.Hostname},
		Decision:   string(p.Status),
		Reason:     reason,
		ConfigHash: hash,
	})
}

func (s *Service) record(e audit.Entry) {
	if err := s.audit.Record(e); err != nil {
		s.log.Error("audit write failed", "event", e.Event, "error", err)
	}
}
