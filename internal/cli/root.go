package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/popwatch/internal/client"
	"github.com/ppiankov/popwatch/internal/server"
)

var (
	authorityAddr string
	logLevel      string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&authorityAddr, "addr", fmt.Sprintf("127.0.0.1:%d", server.DefaultPort), "Authority gRPC address")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
}

var rootCmd = &cobra.Command{
	Use:   "popwatch",
	Short: "Popup and navigation blocker with an operator-controlled authority",
	Long:  "Blocks page-initiated popups and redirects, holds them for an operator verdict, and replays accepted ones in the page that asked.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// dialAuthority connects to the authority named by --addr.
func dialAuthority() (*client.Client, error) {
	return client.New(authorityAddr)
}
