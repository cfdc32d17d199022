package cli

import (
	"github.com/spf13/cobra"

	"github.com/m3rciful/dialogbot/app"
	corecmd "github.com/m3rciful/dialogbot/core/cmd"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot",
	Long:  "Load the config, open the state store and serve Telegram updates until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return corecmd.Run(corecmd.Options{
			ConfigPath:        configPath,
			ConfigEnvVar:      configEnvVar,
			DefaultConfigPath: defaultConfigPath,
			LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
				return app.LoadConfig(path)
			},
			Bootstrap: app.Bootstrap,
		})
	},
}
