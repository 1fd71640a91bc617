package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/popwatch/internal/audit"
)

var (
	tailLines     int
	historyPopup  string
	historyPage   string
	historyHost   string
	historyFrom   string
	historyTo     string
	historyFormat string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditHistoryCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditHistoryCmd.Flags().StringVar(&historyPopup, "popup", "", "Only entries for this popup id")
	auditHistoryCmd.Flags().StringVar(&historyPage, "page", "", "Only entries for this page id")
	auditHistoryCmd.Flags().StringVar(&historyHost, "host", "", "Only entries for this popup hostname")
	auditHistoryCmd.Flags().StringVar(&historyFrom, "from", "", "Start time filter (RFC3339)")
	auditHistoryCmd.Flags().StringVar(&historyTo, "to", "", "End time filter (RFC3339)")
	auditHistoryCmd.Flags().StringVarP(&historyFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

var auditHistoryCmd = &cobra.Command{
	Use:   "history <path>",
	Short: "Show a timeline of popup decisions",
	Long:  "Reads the audit log, filters by popup, page, host and time range,\nand renders a decision timeline with summary.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditHistory,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	lines, err := audit.Tail(args[0], tailLines)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			fmt.Println(string(line))
			continue
		}
		out, _ := json.MarshalIndent(entry, "", "  ")
		fmt.Println(string(out))
	}

	return nil
}

func runAuditHistory(cmd *cobra.Command, args []string) error {
	filter := audit.Filter{
		PopupID:  historyPopup,
		Page:     historyPage,
		Hostname: historyHost,
	}

	if historyFrom != "" {
		from, err := time.Parse(time.RFC3339, historyFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", historyFrom, err)
		}
		filter.From = from
	}

	if historyTo != "" {
		to, err := time.Parse(time.RFC3339, historyTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", historyTo, err)
		}
		filter.To = to
	}

	result, err := audit.History(args[0], filter)
	if err != nil {
		return err
	}

	switch historyFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(audit.FormatTimeline(result))
	}

	return nil
}
