// Package dom describes the slice of the page document the policy engine
// needs, and provides an arena-backed in-memory implementation of it.
package dom

import (
	"errors"
	"net/url"

	"github.com/ppiankov/popwatch/internal/model"
)

// ErrCrossOrigin is returned when the top-level context cannot be read.
var ErrCrossOrigin = errors.New("dom: top-level context is cross-origin")

// Link is the nearest anchor-like element found for an activation.
type Link struct {
	Handle model.Handle
	Href   string
	Action string
	Target string
}

// Document answers the DOM queries the policy engine makes.
type Document interface {
	// Closest returns the nearest ancestor-or-self of el that carries a target
	// attribute, falling back to the nearest anchor.
	Closest(el model.Handle) (Link, bool)
	// BaseTargets returns the target attribute of every <base> element in document order.
	BaseTargets() []string
	// BaseURL is the document base used to resolve relative references.
	BaseURL() *url.URL
	// HasFrame reports whether a frame or window-like binding with this name exists.
	HasFrame(name string) bool
	// TopHostname reads the hostname of the top-level page.
	TopHostname() (string, error)
}
