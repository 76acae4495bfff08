package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Runs database migrations to ensure the ledger schema
is up-to-date. This is useful for CI/CD pipelines or initial setup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DB.Driver == "memory" {
			log.Info().Msg("Memory driver has no schema, nothing to migrate")
			return nil
		}

		log.Info().Str("driver", cfg.DB.Driver).Msg("Running database migrations...")
		_, closeStore, err := openStore(cfg, true)
		if err != nil {
			return err
		}
		defer closeStore()

		log.Info().Msg("Database migrations completed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
