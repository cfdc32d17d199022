// Package cli provides the dialogbot command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/m3rciful/dialogbot/app"
	corecmd "github.com/m3rciful/dialogbot/core/cmd"
)

const (
	configEnvVar      = "DIALOGBOT_CONFIG"
	defaultConfigPath = "config.yaml"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "dialogbot",
	Short:         "Scenario driven dialog bot",
	Long:          "dialogbot runs JSON scenarios as Telegram conversations and keeps dialog state in SQL, DynamoDB or memory.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $"+configEnvVar+" or "+defaultConfigPath+")")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*app.Config, error) {
	path, err := corecmd.ResolveConfigPath(configPath, configEnvVar, defaultConfigPath)
	if err != nil {
		return nil, err
	}
	return app.LoadConfig(path)
}
