package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(acceptCmd)
}

var acceptCmd = &cobra.Command{
	Use:   "accept <id>",
	Short: "Accept a blocked popup",
	Long:  "Accepts a pending popup. The page that blocked it releases its navigation guard\nand replays the original action.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccept,
}

func runAccept(cmd *cobra.Command, args []string) error {
	c, err := dialAuthority()
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Accept(args[0])
	if err != nil {
		return err
	}

	if res.Delivered {
		fmt.Printf("Accepted %q: %s\n", res.Popup.ID, res.Popup.Href)
	} else {
		fmt.Printf("Accepted %q, but page %s is gone; nothing was replayed\n", res.Popup.ID, res.Popup.Page)
	}
	return nil
}
