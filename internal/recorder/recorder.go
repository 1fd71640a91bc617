// Package recorder keeps the per-correlation-id command logs of blocked
// window-open calls until they are approved and replayed.
package recorder

import (
	"sync"

	"github.com/ppiankov/popwatch/internal/model"
)

// Recorder is an append-only store of command logs keyed by correlation id.
// A log is delivered at most once: Take removes it.
type Recorder struct {
	mu   sync.Mutex
	logs map[string]model.CommandLog
}

// New creates an empty Recorder.
func New() *Recorder {
	return &Recorder{logs: make(map[string]model.CommandLog)}
}

// Seed starts a new log for id with its head entry, replacing any previous log.
func (r *Recorder) Seed(id string, head model.CommandEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs[id] = model.CommandLog{head}
}

// Record appends entry to the log for id. Entries for an id that was never
// seeded, or whose log was already taken, are dropped and Record returns false.
func (r *Recorder) Record(id string, entry model.CommandEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	log, ok := r.logs[id]
	if !ok {
		return false
	}
	r.logs[id] = append(log, entry)
	return true
}

// Take removes and returns the log for id.
func (r *Recorder) Take(id string) (model.CommandLog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log, ok := r.logs[id]
	if !ok {
		return nil, false
	}
	delete(r.logs, id)
	return log, true
}

// Reset drops every log. Called when the page unloads.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = make(map[string]model.CommandLog)
}

// Len returns the number of logs currently held.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}
