package dom

import (
	"net/url"
	"strings"

	"github.com/ppiankov/popwatch/internal/model"
)

// Element is one node stored in a Tree.
type Element struct {
	Tag    string
	Href   string
	Action string
	Target string
	// HasTarget distinguishes target="" from an absent attribute.
	HasTarget bool
	Parent    model.Handle
}

// Tree is an in-memory Document. Handles are 1-based indices into the arena.
type Tree struct {
	nodes    []Element
	bases    []string
	frames   map[string]bool
	base     *url.URL
	top      string
	topError error
}

// NewTree creates an empty document whose relative references resolve against baseURL.
func NewTree(baseURL string) (*Tree, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Tree{
		frames: make(map[string]bool),
		base:   u,
		top:    u.Hostname(),
	}, nil
}

// Add appends an element and returns its handle.
func (t *Tree) Add(el Element) model.Handle {
	t.nodes = append(t.nodes, el)
	return model.Handle(len(t.nodes))
}

// Element returns the stored element for h.
func (t *Tree) Element(h model.Handle) (Element, bool) {
	if h == model.NoElement || int(h) > len(t.nodes) {
		return Element{}, false
	}
	return t.nodes[h-1], true
}

// AddBase registers a <base target="..."> element.
func (t *Tree) AddBase(target string) {
	t.bases = append(t.bases, target)
}

// AddFrame registers a named frame.
func (t *Tree) AddFrame(name string) {
	t.frames[name] = true
}

// SetTop sets the top-level hostname. A non-nil err simulates cross-origin denial.
func (t *Tree) SetTop(hostname string, err error) {
	t.top = hostname
	t.topError = err
}

// Closest implements Document.
func (t *Tree) Closest(h model.Handle) (Link, bool) {
	if l, ok := t.walk(h, func(e Element) bool { return e.HasTarget }); ok {
		return l, true
	}
	return t.walk(h, func(e Element) bool { return strings.EqualFold(e.Tag, "a") })
}

func (t *Tree) walk(h model.Handle, match func(Element) bool) (Link, bool) {
	// parent chains are bounded by the arena size, which also breaks cycles
	for i := 0; i <= len(t.nodes); i++ {
		el, ok := t.Element(h)
		if !ok {
			return Link{}, false
		}
		if match(el) {
			return Link{Handle: h, Href: t.absolute(el.Href), Action: t.absolute(el.Action), Target: el.Target}, true
		}
		h = el.Parent
	}
	return Link{}, false
}

// absolute mirrors the DOM's href property, which is always resolved.
func (t *Tree) absolute(ref string) string {
	if ref == "" || t.base == nil {
		return ref
	}
	u, err := t.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// BaseTargets implements Document.
func (t *Tree) BaseTargets() []string { return t.bases }

// BaseURL implements Document.
func (t *Tree) BaseURL() *url.URL { return t.base }

// HasFrame implements Document.
func (t *Tree) HasFrame(name string) bool { return t.frames[name] }

// TopHostname implements Document.
func (t *Tree) TopHostname() (string, error) {
	if t.topError != nil {
		return "", t.topError
	}
	return t.top, nil
}
