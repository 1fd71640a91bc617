package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List blocked popups awaiting a verdict",
	Long:  "Asks the authority for every unresolved popup with its page, destination, and age.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	c, err := dialAuthority()
	if err != nil {
		return err
	}
	defer c.Close()

	list, err := c.ListPending()
	if err != nil {
		return fmt.Errorf("failed to list popups: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No pending popups.")
		return nil
	}

	fmt.Printf("%-36s %-12s %-40s %s\n", "ID", "TYPE", "HREF", "CREATED")
	for _, p := range list {
		fmt.Printf("%-36s %-12s %-40s %s\n",
			p.ID,
			p.Type,
			truncate(p.Href, 40),
			p.CreatedAt.Format("15:04:05"),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
