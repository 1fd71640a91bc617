package prefs

import (
	"context"
	"fmt"

	"github.com/ppiankov/popwatch/internal/model"
	"github.com/ppiankov/popwatch/internal/protocol"
)

// Parent is the enclosing execution context of a nested frame.
type Parent interface {
	// SharedPreferences returns the enclosing context's mirror. ok=false means the
	// parent holds none; err means the parent could not be read (cross-origin).
	SharedPreferences() (s Shared, ok bool, err error)
}

// Announcer is the part of the decision authority consulted at load time.
type Announcer interface {
	Exception(ctx context.Context, req protocol.ExceptionRequest) (protocol.ExceptionReply, error)
}

// Location identifies the page being loaded.
type Location struct {
	Href     string
	Hostname string
}

// Sources lists where preferences may come from, in order of preference.
type Sources struct {
	Parent    Parent
	Store     Store
	Authority Announcer
	Location  Location
}

// Origin reports which source a Resolve call used.
type Origin string

const (
	OriginDefaults Origin = "defaults"
	OriginParent   Origin = "parent"
	OriginStore    Origin = "store"
)

// fromParent reads the enclosing context's preferences. Any failure means "unavailable".
func fromParent(p Parent) (Shared, bool) {
	if p == nil {
		return Shared{}, false
	}
	s, ok, err := p.SharedPreferences()
	if err != nil || !ok {
		return Shared{}, false
	}
	return s, true
}

// Resolve fills m from the enclosing context when possible, otherwise from the
// store, announcing the page to the authority when blocking is enabled.
// On error m keeps whatever was applied before the failure.
func Resolve(ctx context.Context, m *Mirror, src Sources) (Origin, error) {
	if shared, ok := fromParent(src.Parent); ok {
		m.Replace(shared)
		return OriginParent, nil
	}

	if src.Store == nil {
		return OriginDefaults, nil
	}
	overrides, err := src.Store.Load(ctx)
	if err != nil {
		return OriginDefaults, fmt.Errorf("failed to load preferences: %w", err)
	}
	m.Apply(overrides)

	if !m.Enabled() || src.Authority == nil {
		return OriginStore, nil
	}
	reply, err := src.Authority.Exception(ctx, protocol.ExceptionRequest{
		Href:     src.Location.Href,
		Hostname: src.Location.Hostname,
	})
	if err != nil {
		return OriginStore, fmt.Errorf("exception lookup failed: %w", err)
	}
	m.SetSilent(reply.Silent)
	if !reply.Enabled {
		m.Set(model.KeyEnabled, false)
	}
	return OriginStore, nil
}

// Watch pushes store change notifications into m. Returns a cancel function.
func Watch(store Store, m *Mirror) func() {
	return store.Subscribe(func(changes map[string]any) {
		m.Apply(changes)
	})
}
