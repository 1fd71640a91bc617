package audit

// Event names recorded by the decision authority.
const (
	EventException    = "exception"
	EventPopupRequest = "popup_request"
	EventThrottled    = "throttled"
	EventAccepted     = "accepted"
	EventDenied       = "denied"
	EventReleased     = "released"
	EventUseShadow    = "use_shadow"
	EventConfigReload = "config_reload"
)

// Popup is the page action an entry refers to.
type Popup struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

// Entry is one line in the hash-chained JSONL audit log.
// Only struct fields, so json.Marshal output is deterministic and hashes reproduce.
type Entry struct {
	Timestamp  string `json:"ts"`
	Event      string `json:"event"`
	Page       string `json:"page,omitempty"`
	Popup      Popup  `json:"popup"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
	ConfigHash string `json:"config_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}
