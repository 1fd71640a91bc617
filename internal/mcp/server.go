// Package mcp exposes the popwatch operator surface as MCP tools so an agent
// can review and resolve blocked popups.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/popwatch/internal/authority"
	"github.com/ppiankov/popwatch/internal/model"
	"github.com/ppiankov/popwatch/internal/prefs"
)

// Operator resolves blocked popups on an authority.
type Operator interface {
	ListPending() ([]authority.Popup, error)
	Accept(id string) (authority.Resolution, error)
	Deny(id string) (authority.Resolution, error)
	UseShadow(page string) error
}

// Config holds MCP server configuration.
type Config struct {
	Operator Operator
	// Prefs supplies the preferences popwatch_check evaluates against.
	// Nil uses the built-in defaults.
	Prefs   prefs.Store
	Version string
}

// Server wraps the MCP SDK server with popwatch operator tools.
type Server struct {
	mcpServer *mcpsdk.Server
	op        Operator
	prefs     prefs.Store
}

// New creates an MCP server with the operator tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Operator == nil {
		return nil, fmt.Errorf("operator is required")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		op:    cfg.Operator,
		prefs: cfg.Prefs,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "popwatch",
			Version: version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// preferences loads the stored preferences over the defaults.
func (s *Server) preferences(ctx context.Context) (model.Preferences, error) {
	p := model.DefaultPreferences()
	if s.prefs == nil {
		return p, nil
	}
	stored, err := s.prefs.Load(ctx)
	if err != nil {
		return p, err
	}
	p.Apply(stored)
	return p, nil
}

// registerTools adds all popwatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "popwatch_pending",
		Description: "List blocked popups waiting for a verdict.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "popwatch_accept",
		Description: "Accept a blocked popup. The page that blocked it replays the original action.",
	}, s.handleAccept)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "popwatch_deny",
		Description: "Deny a blocked popup. The page's navigation guard is released.",
	}, s.handleDeny)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "popwatch_shadow",
		Description: "Switch a listening page to shadow mode.",
	}, s.handleShadow)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "popwatch_check",
		Description: "Check whether a popup or link would be blocked under the current preferences without touching any page (dry-run).",
	}, s.handleCheck)
}
