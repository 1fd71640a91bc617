package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/popwatch/internal/authority"
	"github.com/ppiankov/popwatch/internal/model"
	"github.com/ppiankov/popwatch/internal/policy"
)

// --- Input/Output types ---

// PendingInput is empty; no parameters needed.
type PendingInput struct{}

// PendingOutput lists all blocked popups awaiting a verdict.
type PendingOutput struct {
	Popups []PendingItem `json:"popups"`
}

// PendingItem describes a single blocked popup.
type PendingItem struct {
	ID        string `json:"id"`
	Page      string `json:"page"`
	Type      string `json:"type"`
	Href      string `json:"href"`
	Hostname  string `json:"hostname,omitempty"`
	Silent    bool   `json:"silent,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ResolveInput names the popup for popwatch_accept and popwatch_deny.
type ResolveInput struct {
	ID string `json:"id" jsonschema:"popup id from popwatch_pending"`
}

// ResolveOutput confirms a verdict.
type ResolveOutput struct {
	ID     string `json:"id"`
	Page   string `json:"page"`
	Href   string `json:"href"`
	Status string `json:"status"`
	// Delivered is false when the page had already gone away.
	Delivered bool `json:"delivered"`
}

// ShadowInput names the page for popwatch_shadow.
type ShadowInput struct {
	Page string `json:"page" jsonschema:"page id from popwatch_pending"`
}

// ShadowOutput confirms the switch.
type ShadowOutput struct {
	Page   string `json:"page"`
	Shadow bool   `json:"shadow"`
}

// CheckInput defines parameters for the popwatch_check tool.
type CheckInput struct {
	PageURL string `json:"page_url" jsonschema:"URL of the page the action happens on"`
	Kind    string `json:"kind,omitempty" jsonschema:"window.open or element.click (default element.click)"`
	Href    string `json:"href" jsonschema:"destination URL"`
	Target  string `json:"target,omitempty" jsonschema:"link target or window name, e.g. _blank"`
	Trusted bool   `json:"trusted,omitempty" jsonschema:"whether the event came from a real user gesture"`
	MetaKey bool   `json:"meta_key,omitempty" jsonschema:"whether the meta key was held"`
}

// CheckOutput contains the blocking decision.
type CheckOutput struct {
	Decision    string `json:"decision"`
	Href        string `json:"href,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
	SameContext bool   `json:"same_context"`
}

// --- Handlers ---

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	list, err := s.op.ListPending()
	if err != nil {
		return nil, PendingOutput{}, err
	}

	items := make([]PendingItem, len(list))
	for i, p := range list {
		items[i] = PendingItem{
			ID:        p.ID,
			Page:      p.Page,
			Type:      p.Type,
			Href:      p.Href,
			Hostname:  p.Hostname,
			Silent:    p.Silent,
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
		}
	}

	return nil, PendingOutput{Popups: items}, nil
}

func (s *Server) handleAccept(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	if input.ID == "" {
		return nil, ResolveOutput{}, fmt.Errorf("id is required")
	}
	res, err := s.op.Accept(input.ID)
	if err != nil {
		return nil, ResolveOutput{}, err
	}
	return nil, resolveOutput(res), nil
}

func (s *Server) handleDeny(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	if input.ID == "" {
		return nil, ResolveOutput{}, fmt.Errorf("id is required")
	}
	res, err := s.op.Deny(input.ID)
	if err != nil {
		return nil, ResolveOutput{}, err
	}
	return nil, resolveOutput(res), nil
}

func (s *Server) handleShadow(ctx context.Context, req *mcpsdk.CallToolRequest, input ShadowInput) (*mcpsdk.CallToolResult, ShadowOutput, error) {
	if input.Page == "" {
		return nil, ShadowOutput{}, fmt.Errorf("page is required")
	}
	if err := s.op.UseShadow(input.Page); err != nil {
		return nil, ShadowOutput{}, err
	}
	return nil, ShadowOutput{Page: input.Page, Shadow: true}, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	prefs, err := s.preferences(ctx)
	if err != nil {
		return nil, CheckOutput{}, fmt.Errorf("load preferences: %w", err)
	}

	d, err := policy.Check(policy.CheckInput{
		PageURL: input.PageURL,
		Kind:    model.EventKind(input.Kind),
		Href:    input.Href,
		Target:  input.Target,
		Trusted: input.Trusted,
		MetaKey: input.MetaKey,
	}, prefs)
	if err != nil {
		return nil, CheckOutput{}, err
	}

	out := CheckOutput{
		Decision:    "allow",
		Href:        d.Href,
		Hostname:    d.Hostname,
		SameContext: d.SameContext,
	}
	switch {
	case !prefs.Enabled:
		out.Decision = "disabled"
	case d.Block:
		out.Decision = "block"
	}
	return nil, out, nil
}

func resolveOutput(res authority.Resolution) ResolveOutput {
	return ResolveOutput{
		ID:        res.Popup.ID,
		Page:      res.Popup.Page,
		Href:      res.Popup.Href,
		Status:    string(res.Popup.Status),
		Delivered: res.Delivered,
	}
}
