package model

// EventKind identifies which instrumented page action produced an event.
type EventKind string

const (
	ElementActivation EventKind = "element.click"
	WindowOpen        EventKind = "window.open"
)

// Handle is an opaque reference to an element in the page document.
// The zero Handle refers to no element.
type Handle uint32

// NoElement is the zero Handle.
const NoElement Handle = 0

// EventDescription is an immutable snapshot of one intercepted action.
type EventDescription struct {
	Kind             EventKind `json:"type"`
	Href             string    `json:"href,omitempty"`
	TargetFrameName  string    `json:"target,omitempty"`
	MetaKey          bool      `json:"metaKey"`
	IsTrusted        bool      `json:"isTrusted"`
	Button           *int      `json:"button,omitempty"`
	DefaultPrevented bool      `json:"defaultPrevented"`
	Args             []any     `json:"args,omitempty"`
	Source           Handle    `json:"-"`
}

// NonPrimaryButton reports whether a mouse button other than the primary one was used.
// Events that carry no button information never count.
func (e EventDescription) NonPrimaryButton() bool {
	return e.Button != nil && *e.Button != 0
}

// Decision is the output of the policy engine for one event.
type Decision struct {
	ID          string `json:"id"`
	Href        string `json:"href,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
	SameContext bool   `json:"sameContext"`
	Block       bool   `json:"block"`
}

// SelfObject is the object path name of the page's own window.
const SelfObject = "self"

// CommandEntry is one symbolic method call recorded against a not-yet-existing object.
type CommandEntry struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// CommandLog is the ordered call chain for one correlation id.
// The head entry is always the self.open call that creates the new context.
type CommandLog []CommandEntry

// Head returns the first entry of the log.
func (l CommandLog) Head() (CommandEntry, bool) {
	if len(l) == 0 {
		return CommandEntry{}, false
	}
	return l[0], true
}

// OpenEntry builds the head entry of a command log.
func OpenEntry(args []any) CommandEntry {
	return CommandEntry{Name: SelfObject, Method: "open", Args: args}
}
