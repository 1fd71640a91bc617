// Package replay re-executes an approved command log inside the page that recorded it.
package replay

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ppiankov/popwatch/internal/model"
)

// ErrNoTarget is returned when no loaded object exposes the recorded property.
var ErrNoTarget = errors.New("replay: no loaded object exposes property")

var errHeadFailed = errors.New("replay: head call opened nothing")

// Object is a live value inside the page. Implementations should be pointer
// types so identity comparison is meaningful.
type Object interface {
	// Property returns the named property when it holds an object.
	Property(name string) (Object, bool)
	// Invoke calls method with args and returns its result.
	Invoke(method string, args []any) (any, error)
}

// Page is the page context replay runs in.
type Page interface {
	// Window is the page's own global object, the receiver of the head entry.
	Window() Object
	// ClickLink synthesizes a click on an anchor with the given href and target.
	ClickLink(href, target string) error
}

// Executor replays command logs against a Page.
type Executor struct {
	page Page
}

// NewExecutor creates an Executor for page.
func NewExecutor(page Page) *Executor {
	return &Executor{page: page}
}

// Run replays log, or falls back to a generic new-context open of url when
// there is no log. A head call that fails or opens nothing also falls back.
func (x *Executor) Run(log model.CommandLog, url string) error {
	if len(log) == 0 {
		return x.Degraded(url)
	}
	err := x.Replay(log)
	if errors.Is(err, errHeadFailed) {
		if derr := x.Degraded(url); derr != nil {
			return errors.Join(err, derr)
		}
		return nil
	}
	return err
}

// Replay invokes the head entry on the window, then every following entry on
// the first loaded object that exposes the entry's property name.
func (x *Executor) Replay(log model.CommandLog) error {
	head, ok := log.Head()
	if !ok {
		return fmt.Errorf("%w: empty command log", errHeadFailed)
	}

	res, err := x.page.Window().Invoke(head.Method, head.Args)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errHeadFailed, head.Method, err)
	}
	opened, ok := res.(Object)
	if !ok || opened == nil {
		return fmt.Errorf("%w: %s returned %T", errHeadFailed, head.Method, res)
	}

	loaded := []Object{opened}
	for i, entry := range log[1:] {
		target, found := resolve(loaded, entry.Name)
		if !found {
			return fmt.Errorf("%w %q (entry %d)", ErrNoTarget, entry.Name, i+1)
		}
		if !contains(loaded, target) {
			loaded = append(loaded, target)
		}
		if _, err := target.Invoke(entry.Method, entry.Args); err != nil {
			return fmt.Errorf("replay: %s.%s: %w", entry.Name, entry.Method, err)
		}
	}
	return nil
}

// Degraded opens url in a generic new context.
func (x *Executor) Degraded(url string) error {
	if err := x.page.ClickLink(url, "_blank"); err != nil {
		return fmt.Errorf("replay: degraded open: %w", err)
	}
	return nil
}

// resolve returns the named property of the first loaded object that has it.
func resolve(loaded []Object, name string) (Object, bool) {
	for _, o := range loaded {
		if p, ok := o.Property(name); ok && p != nil {
			return p, true
		}
	}
	return nil, false
}

func contains(loaded []Object, o Object) bool {
	for _, l := range loaded {
		if sameObject(l, o) {
			return true
		}
	}
	return false
}

// sameObject compares identities without panicking on non-comparable dynamic types.
func sameObject(a, b Object) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
