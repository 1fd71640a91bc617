// Package policy turns an intercepted page action into a block/allow verdict.
package policy

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/popwatch/internal/dom"
	"github.com/ppiankov/popwatch/internal/model"
)

// Seeder receives the head entry of the command log for same-context opens.
type Seeder interface {
	Seed(id string, head model.CommandEntry)
}

// Engine evaluates events. It owns the per-element id cache of one page.
type Engine struct {
	ids   *IDCache
	rec   Seeder
	newID func() string
}

// NewEngine creates an Engine that seeds command logs into rec. rec may be nil.
func NewEngine(rec Seeder) *Engine {
	return &Engine{
		ids:   NewIDCache(),
		rec:   rec,
		newID: uuid.NewString,
	}
}

// Decide evaluates one event against prefs and the document state.
//
// Evaluation order (must not be changed):
//  1. Provisional verdict — anchor lookup for activations, frame/base gating for non-window-open kinds
//  2. Trust overrides — later rules win over earlier ones
//  3. Href normalization — relative resolution, element id memoization
//  4. Allow rules — same-domain family, protocol, popup host
//  5. Correlation id and command log seeding
func (e *Engine) Decide(ev model.EventDescription, prefs model.Preferences, doc dom.Document, active model.Handle) model.Decision {
	href := ev.Href
	block := true
	sameContext := false

	// Step 1: provisional verdict
	if ev.Kind == model.ElementActivation {
		link, found := doc.Closest(active)
		if href == "" && found {
			href = link.Href
			if href == "" {
				href = link.Action
			}
		}
		block = found || href != ""
	}
	if ev.Kind == model.WindowOpen {
		sameContext = true
	} else {
		block = block && hasNamedBase(doc, ev.TargetFrameName)
	}

	// Step 2: trust overrides
	if ev.MetaKey && !ev.IsTrusted {
		// synthetic modifier-key dispatch
		block = true
	}
	if ev.NonPrimaryButton() && !ev.IsTrusted {
		block = true
	}
	if ev.DefaultPrevented || (ev.MetaKey && ev.IsTrusted) {
		block = false
	}

	// Steps 3-4
	hostname := ""
	if block {
		href = resolveHref(doc, href)
		if href == "" || strings.HasPrefix(href, "about:") {
			e.ids.Memoize(active, e.newID)
		}
		if href != "" {
			var allowed bool
			hostname, allowed = matchAllowRules(href, prefs, doc)
			if allowed {
				block = false
			}
		}
	}

	// Step 5
	id, ok := e.ids.Lookup(active)
	if !ok {
		id = e.newID()
	}
	if sameContext && e.rec != nil {
		e.rec.Seed(id, model.OpenEntry(ev.Args))
	}

	return model.Decision{
		ID:          id,
		Href:        href,
		Hostname:    hostname,
		SameContext: sameContext,
		Block:       block,
	}
}

// hasNamedBase reports whether the closest target (the event's own, then each
// <base> in order) opens into a brand-new context rather than self or an existing frame.
func hasNamedBase(doc dom.Document, target string) bool {
	candidates := append([]string{target}, doc.BaseTargets()...)
	for _, c := range candidates {
		base := strings.ToLower(c)
		if base == "" {
			continue
		}
		return base != "_self" && !doc.HasFrame(base)
	}
	return false
}

// resolveHref resolves scheme-less references against the document base.
func resolveHref(doc dom.Document, href string) string {
	if href == "" || strings.Contains(href, ":") {
		return href
	}
	base := doc.BaseURL()
	if base == nil {
		return href
	}
	u, err := base.Parse(href)
	if err != nil {
		return href
	}
	return u.String()
}
