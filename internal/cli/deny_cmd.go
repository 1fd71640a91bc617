package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(denyCmd)
}

var denyCmd = &cobra.Command{
	Use:   "deny <id>",
	Short: "Deny a blocked popup",
	Long:  "Denies a pending popup. The page releases its navigation guard; nothing is replayed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runDeny(cmd *cobra.Command, args []string) error {
	c, err := dialAuthority()
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Deny(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Denied %q\n", res.Popup.ID)
	return nil
}
