package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/dialogbot/core/buildinfo"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "dialogbot", buildinfo.String())
	},
}
