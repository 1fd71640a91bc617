package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against the limit.
func Check(count int, limit Limit) CheckResult {
	if !limit.Enabled() {
		return CheckResult{}
	}
	if count >= limit.MaxRequests {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d requests in %s window",
				count, limit.MaxRequests, limit.Window),
		}
	}
	return CheckResult{}
}

type window struct {
	start time.Time
	count int
}

// Tracker counts requests per key in fixed windows. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{windows: make(map[string]*window)}
}

// Snapshot returns the count for key in the current window.
// An expired window is reset first.
func (t *Tracker) Snapshot(key string, limit Limit, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current(key, limit.Window, now).count
}

// Allow checks key against limit and, when within it, counts the request.
func (t *Tracker) Allow(key string, limit Limit, now time.Time) CheckResult {
	if !limit.Enabled() {
		return CheckResult{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.current(key, limit.Window, now)
	result := Check(w.count, limit)
	if !result.Exceeded {
		w.count++
	}
	return result
}

// Forget drops the window for key.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	delete(t.windows, key)
	t.mu.Unlock()
}

// Prune drops windows older than maxAge.
func (t *Tracker) Prune(maxAge time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, w := range t.windows {
		if now.Sub(w.start) >= maxAge {
			delete(t.windows, k)
			n++
		}
	}
	return n
}

func (t *Tracker) current(key string, size time.Duration, now time.Time) *window {
	w := t.windows[key]
	if w == nil {
		w = &window{start: now}
		t.windows[key] = w
	}
	if now.Sub(w.start) >= size {
		w.start = now
		w.count = 0
	}
	return w
}
