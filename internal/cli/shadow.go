package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(shadowCmd)
}

var shadowCmd = &cobra.Command{
	Use:   "shadow <page>",
	Short: "Switch a page to shadow mode",
	Long:  "Tells a listening page to turn on shadow mode. Fails if the page is not subscribed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runShadow,
}

func runShadow(cmd *cobra.Command, args []string) error {
	c, err := dialAuthority()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.UseShadow(args[0]); err != nil {
		return err
	}
	fmt.Printf("Page %s switched to shadow mode\n", args[0])
	return nil
}
