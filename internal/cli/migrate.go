package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/dialogbot/core/bootstrap"
	"github.com/m3rciful/dialogbot/core/logger"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Apply the embedded schema migrations to the configured SQL backend and exit.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dbCfg := cfg.DatabaseConfig()
		if dbCfg == nil {
			return fmt.Errorf("storage backend %q has no SQL schema", cfg.Storage.Backend)
		}
		res, err := bootstrap.Run(cmd.Context(), bootstrap.Options{
			Config:   &cfg.Config,
			Database: dbCfg,
		})
		if err != nil {
			return err
		}
		defer logger.Shutdown()
		defer res.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", dbCfg.DriverName())
		return nil
	},
}
