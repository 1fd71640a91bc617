// Package protocol defines the messages exchanged between a page engine and
// the decision authority, and their structpb wire encoding.
package protocol

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Command names.
const (
	CmdException           = "exception"
	CmdPopupRequest        = "popup-request"
	CmdPopupAccepted       = "popup-accepted"
	CmdUseShadow           = "use-shadow"
	CmdReleaseBeforeUnload = "release-beforeunload"
)

// ExceptionRequest announces a page context to the authority.
type ExceptionRequest struct {
	Href     string `json:"href"`
	Hostname string `json:"hostname"`
}

// ExceptionReply tells the page whether blocking is enabled for it.
type ExceptionReply struct {
	Enabled bool `json:"enabled"`
	Silent  bool `json:"silent"`
}

// PopupRequest notifies the authority of a blocked action.
type PopupRequest struct {
	Page     string `json:"page"`
	Type     string `json:"type"`
	Href     string `json:"href"`
	Hostname string `json:"hostname"`
	ID       string `json:"id"`
	Silent   bool   `json:"silent"`
}

// Message is an authority-to-page command.
type Message struct {
	Cmd string `json:"cmd"`
	ID  string `json:"id,omitempty"`
	URL string `json:"url,omitempty"`
}

// Accepted builds a popup-accepted message.
func Accepted(id, url string) Message {
	return Message{Cmd: CmdPopupAccepted, ID: id, URL: url}
}

// UseShadow builds a use-shadow message.
func UseShadow() Message { return Message{Cmd: CmdUseShadow} }

// ReleaseBeforeUnload builds a release-beforeunload message.
func ReleaseBeforeUnload() Message { return Message{Cmd: CmdReleaseBeforeUnload} }

// ToStruct encodes the request with its cmd field.
func (r ExceptionRequest) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"cmd":      CmdException,
		"href":     r.Href,
		"hostname": r.Hostname,
	})
}

// ToStruct encodes the reply.
func (r ExceptionReply) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"enabled": r.Enabled,
		"silent":  r.Silent,
	})
}

// ToStruct encodes the request with its cmd field.
func (r PopupRequest) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"cmd":      CmdPopupRequest,
		"page":     r.Page,
		"type":     r.Type,
		"href":     r.Href,
		"hostname": r.Hostname,
		"id":       r.ID,
		"silent":   r.Silent,
	})
}

// ToStruct encodes the message, omitting empty fields.
func (m Message) ToStruct() (*structpb.Struct, error) {
	fields := map[string]any{"cmd": m.Cmd}
	if m.ID != "" {
		fields["id"] = m.ID
	}
	if m.URL != "" {
		fields["url"] = m.URL
	}
	return structpb.NewStruct(fields)
}

// ExceptionRequestFrom decodes an exception request.
func ExceptionRequestFrom(s *structpb.Struct) (ExceptionRequest, error) {
	if err := expectCmd(s, CmdException); err != nil {
		return ExceptionRequest{}, err
	}
	return ExceptionRequest{
		Href:     stringField(s, "href"),
		Hostname: stringField(s, "hostname"),
	}, nil
}

// ExceptionReplyFrom decodes an exception reply. Missing fields keep blocking
// enabled and prompts visible.
func ExceptionReplyFrom(s *structpb.Struct) ExceptionReply {
	reply := ExceptionReply{Enabled: true}
	if v, ok := s.GetFields()["enabled"]; ok {
		if _, isBool := v.GetKind().(*structpb.Value_BoolValue); isBool {
			reply.Enabled = v.GetBoolValue()
		}
	}
	reply.Silent = boolField(s, "silent")
	return reply
}

// PopupRequestFrom decodes a popup request.
func PopupRequestFrom(s *structpb.Struct) (PopupRequest, error) {
	if err := expectCmd(s, CmdPopupRequest); err != nil {
		return PopupRequest{}, err
	}
	r := PopupRequest{
		Page:     stringField(s, "page"),
		Type:     stringField(s, "type"),
		Href:     stringField(s, "href"),
		Hostname: stringField(s, "hostname"),
		ID:       stringField(s, "id"),
		Silent:   boolField(s, "silent"),
	}
	if r.ID == "" {
		return PopupRequest{}, fmt.Errorf("protocol: %s without id", CmdPopupRequest)
	}
	return r, nil
}

// MessageFrom decodes an authority-to-page message.
func MessageFrom(s *structpb.Struct) (Message, error) {
	m := Message{
		Cmd: stringField(s, "cmd"),
		ID:  stringField(s, "id"),
		URL: stringField(s, "url"),
	}
	switch m.Cmd {
	case CmdPopupAccepted, CmdUseShadow, CmdReleaseBeforeUnload:
		return m, nil
	case "":
		return Message{}, fmt.Errorf("protocol: message without cmd")
	default:
		return Message{}, fmt.Errorf("protocol: unknown command %q", m.Cmd)
	}
}

func expectCmd(s *structpb.Struct, cmd string) error {
	if got := stringField(s, "cmd"); got != cmd {
		return fmt.Errorf("protocol: expected cmd %q, got %q", cmd, got)
	}
	return nil
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}
