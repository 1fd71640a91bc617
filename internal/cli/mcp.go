package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	popmcp "github.com/ppiankov/popwatch/internal/mcp"
)

var mcpDB string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpDB, "db", "", "Preference database for popwatch_check (default ~/.popwatch/prefs.db)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs popwatch as an MCP (Model Context Protocol) server over stdio.\nExposes operator tools: pending, accept, deny, shadow, check.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	c, err := dialAuthority()
	if err != nil {
		return err
	}
	defer c.Close()

	store, err := openPrefs(mcpDB)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := popmcp.New(popmcp.Config{
		Operator: c,
		Prefs:    store,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "popwatch MCP server running on stdio (authority %s)\n", authorityAddr)
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}
