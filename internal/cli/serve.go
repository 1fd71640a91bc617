package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/popwatch/internal/authority"
	"github.com/ppiankov/popwatch/internal/server"
)

var (
	servePort     int
	serveConfig   string
	serveStore    string
	serveAuditLog string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", server.DefaultPort, "gRPC listen port")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to authority YAML (default ~/.popwatch/authority.yaml)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "Directory for pending popups (default ~/.popwatch/pending)")
	serveCmd.Flags().StringVar(&serveAuditLog, "audit-log", "", "Path to audit log JSONL file")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC decision authority",
	Long:  "Runs the popwatch authority over gRPC.\nPages announce themselves and report blocked popups; operators accept or deny them.\nSupports hot-reload of the authority config file.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath := serveConfig
	if configPath == "" {
		configPath = authority.DefaultConfigPath()
	}

	cfg := server.Config{
		Port:         servePort,
		ConfigPath:   configPath,
		StoreDir:     serveStore,
		AuditLogPath: serveAuditLog,
	}

	srv, err := server.New(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	// Start hot-reload watcher for the authority config
	reloader, err := server.NewReloader(srv, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reloader != nil {
		go reloader.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down authority...")
		cancel()
		srv.GracefulStop()
	}()

	_, hash := srv.Service().Config()
	fmt.Fprintf(os.Stderr, "popwatch authority listening on :%d\n", servePort)
	fmt.Fprintf(os.Stderr, "Config: %s (%s, hot-reload enabled)\n", configPath, hash)
	if serveAuditLog != "" {
		fmt.Fprintf(os.Stderr, "Audit log: %s\n", serveAuditLog)
	}
	fmt.Fprintln(os.Stderr)

	return srv.Serve()
}
