package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"event-portal/portal-backend/internal/certificates"
	"event-portal/portal-backend/internal/config"
	"event-portal/portal-backend/internal/database"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the certificate tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(rootOpts.ConfigPath)
			if err != nil {
				return err
			}

			logger := zap.NewNop()
			if rootOpts.Verbose {
				if logger, err = config.NewLogger(cfg.Logging); err != nil {
					return err
				}
			}

			db, err := database.Open(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := certificates.Migrate(db.Gorm); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "certificate tables are up to date (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}
