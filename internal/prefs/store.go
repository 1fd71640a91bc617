package prefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ppiankov/popwatch/internal/model"
)

// Store is the persistent preference store.
type Store interface {
	// Load returns the persisted overrides. Keys absent from the result use defaults.
	Load(ctx context.Context) (map[string]any, error)
	// Set persists one key and notifies subscribers.
	Set(ctx context.Context, key string, value any) error
	// Subscribe registers fn for change notifications and returns a cancel function.
	Subscribe(fn func(changes map[string]any)) func()
}

// Runner is a Store that must run to see changes made outside this process.
// Run blocks until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// DefaultDir returns the default popwatch configuration directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "popwatch")
	}
	return filepath.Join(home, ".popwatch")
}

// ParseValue converts a command-line value to the type stored for key.
// Boolean keys take true/false; list keys take a comma-separated list.
func ParseValue(key, raw string) (any, error) {
	switch key {
	case model.KeyEnabled, model.KeyShadow, model.KeyDomain, model.KeyBlockPageRedirection:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "on", "1":
			return true, nil
		case "false", "off", "0":
			return false, nil
		}
		return nil, fmt.Errorf("preference %q expects true or false, got %q", key, raw)
	case model.KeyProtocols, model.KeyPopupHosts:
		list := []any{}
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				list = append(list, p)
			}
		}
		return list, nil
	}
	return nil, fmt.Errorf("unknown preference %q", key)
}

func validateKey(key string) error {
	if !model.IsPreferenceKey(key) {
		return fmt.Errorf("unknown preference %q (known: %s)", key, strings.Join(model.PreferenceKeys, ", "))
	}
	return nil
}

// subscribers is the change-notification fan-out shared by the store implementations.
type subscribers struct {
	mu   sync.Mutex
	fns  map[int]func(map[string]any)
	next int
}

func (s *subscribers) add(fn func(map[string]any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(map[string]any))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers) notify(changes map[string]any) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	fns := make([]func(map[string]any), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(changes)
	}
}
