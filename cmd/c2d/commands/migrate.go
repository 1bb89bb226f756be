package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/c2fleet/pkg/config"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply store schema migrations",
		Long: `Apply the embedded schema migrations to the configured SQLite store.

Migrations are also applied on serve; this command prepares a database ahead
of time. It is a no-op for the memory driver.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.DriverSQLite {
				log.Info().Str("driver", cfg.Store.Driver).Msg("Nothing to migrate")
				return nil
			}

			b, err := openBackend(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer b.close()

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Migrated SQLite database: %s\n", cfg.Store.Path)
			return nil
		},
	}

	return cmd
}
