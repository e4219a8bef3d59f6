package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var iconForce bool

var iconCmd = &cobra.Command{
	Use:   "icon <domain>",
	Short: "Look up the icon for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.icons.GetIcon(cmd.Context(), args[0], iconForce)
		if err != nil {
			return err
		}
		if res == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "No icon found for %s\n", args[0])
			return nil
		}
		source := "fetched"
		if res.Cached {
			source = "cached"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s (%s, %s)\n",
			res.Domain, res.IconURL, res.IconType, humanize.Bytes(uint64(res.IconSize)), source)
		return nil
	},
}

func init() {
	iconCmd.Flags().BoolVar(&iconForce, "force", false, "bypass the cache")
}
