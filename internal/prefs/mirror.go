// Package prefs mirrors the preference set into one page execution context
// and keeps it current from the persistent store.
package prefs

import (
	"sync"

	"github.com/ppiankov/popwatch/internal/model"
)

// Listener is notified after a preference key changes.
type Listener func(key string, value any)

// Shared is what an enclosing context exposes to nested frames.
type Shared struct {
	Prefs  model.Preferences
	Silent bool
}

// Mirror is the preference state of one execution context. It always holds a
// complete record: defaults are installed at construction.
type Mirror struct {
	mu        sync.RWMutex
	prefs     model.Preferences
	silent    bool
	listeners map[int]Listener
	next      int
	// versions counts writes per key so Suspend can detect later writers.
	versions map[string]uint64
}

// NewMirror creates a Mirror holding the default preferences.
func NewMirror() *Mirror {
	return &Mirror{
		prefs:     model.DefaultPreferences(),
		listeners: make(map[int]Listener),
		versions:  make(map[string]uint64),
	}
}

// Snapshot returns a copy of the current preferences.
func (m *Mirror) Snapshot() model.Preferences {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs.Clone()
}

// Enabled is a shortcut for Snapshot().Enabled.
func (m *Mirror) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs.Enabled
}

// BlockPageRedirection is a shortcut for Snapshot().BlockPageRedirection.
func (m *Mirror) BlockPageRedirection() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs.BlockPageRedirection
}

// Silent reports whether blocked popups should be announced without a prompt.
func (m *Mirror) Silent() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.silent
}

// SetSilent sets the silent flag.
func (m *Mirror) SetSilent(silent bool) {
	m.mu.Lock()
	m.silent = silent
	m.mu.Unlock()
}

// Set applies a single key. Unknown keys and mistyped values are ignored.
func (m *Mirror) Set(key string, value any) bool {
	return len(m.Apply(map[string]any{key: value})) == 1
}

// Apply applies the recognized keys of changes and notifies listeners of each
// applied key. Returns the applied keys.
func (m *Mirror) Apply(changes map[string]any) []string {
	m.mu.Lock()
	applied, current, listeners := m.applyLocked(changes)
	m.mu.Unlock()

	notify(listeners, applied, current)
	return applied
}

// Suspend sets key to value and returns a function that puts the previous
// value back. The restore is skipped when key was written again in between,
// so a change that arrived meanwhile wins.
func (m *Mirror) Suspend(key string, value any) (restore func()) {
	m.mu.Lock()
	prev, known := m.prefs.ToMap()[key]
	applied, current, listeners := m.applyLocked(map[string]any{key: value})
	version := m.versions[key]
	m.mu.Unlock()
	notify(listeners, applied, current)

	if !known || len(applied) == 0 {
		return func() {}
	}
	return func() {
		m.mu.Lock()
		if m.versions[key] != version {
			m.mu.Unlock()
			return
		}
		applied, current, listeners := m.applyLocked(map[string]any{key: prev})
		m.mu.Unlock()
		notify(listeners, applied, current)
	}
}

func (m *Mirror) applyLocked(changes map[string]any) ([]string, map[string]any, []Listener) {
	applied := m.prefs.Apply(changes)
	for _, key := range applied {
		m.versions[key]++
	}
	return applied, m.prefs.ToMap(), m.snapshotListeners()
}

func notify(listeners []Listener, applied []string, current map[string]any) {
	for _, key := range applied {
		for _, l := range listeners {
			l(key, current[key])
		}
	}
}

// Replace installs a full preference record, as when copying from an enclosing context.
func (m *Mirror) Replace(s Shared) {
	m.Apply(s.Prefs.ToMap())
	m.SetSilent(s.Silent)
}

// Subscribe registers l and returns a function that removes it.
func (m *Mirror) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// SharedPreferences lets a Mirror act as the enclosing context of nested frames.
func (m *Mirror) SharedPreferences() (Shared, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Shared{Prefs: m.prefs.Clone(), Silent: m.silent}, true, nil
}

func (m *Mirror) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		out = append(out, l)
	}
	return out
}
