package policy

import (
	"fmt"

	"github.com/ppiankov/popwatch/internal/dom"
	"github.com/ppiankov/popwatch/internal/model"
)

// CheckInput describes a hypothetical action for a dry-run decision.
type CheckInput struct {
	// PageURL is the page the action happens on.
	PageURL string `json:"page_url"`
	// Kind is "window.open" or "element.click".
	Kind model.EventKind `json:"kind"`
	// Href is the destination. For element.click it is the link href.
	Href string `json:"href"`
	// Target is the link target or window.open name. Empty means none.
	Target  string `json:"target,omitempty"`
	Trusted bool   `json:"trusted,omitempty"`
	MetaKey bool   `json:"meta_key,omitempty"`
}

// Check runs one decision against prefs on a synthetic page holding a single
// link. Nothing is recorded.
func Check(in CheckInput, prefs model.Preferences) (model.Decision, error) {
	if in.PageURL == "" {
		return model.Decision{}, fmt.Errorf("page url is required")
	}
	tree, err := dom.NewTree(in.PageURL)
	if err != nil {
		return model.Decision{}, fmt.Errorf("invalid page url: %w", err)
	}

	ev := model.EventDescription{
		Kind:            in.Kind,
		TargetFrameName: in.Target,
		IsTrusted:       in.Trusted,
		MetaKey:         in.MetaKey,
	}
	var active model.Handle
	switch in.Kind {
	case model.WindowOpen:
		ev.Href = in.Href
		ev.Args = []any{in.Href, in.Target}
	case model.ElementActivation, "":
		ev.Kind = model.ElementActivation
		active = tree.Add(dom.Element{
			Tag:       "a",
			Href:      in.Href,
			Target:    in.Target,
			HasTarget: in.Target != "",
		})
		ev.Source = active
	default:
		return model.Decision{}, fmt.Errorf("unknown kind %q", in.Kind)
	}

	return NewEngine(nil).Decide(ev, prefs, tree, active), nil
}
