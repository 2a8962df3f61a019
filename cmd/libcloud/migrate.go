package main

import (
	"fmt"

	"github.com/spf13/cobra"
	repopg "github.com/tendant/libcloud/pkg/libcloud/repo/postgres"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  `Apply the embedded schema migrations to the postgres database named by DATABASE_URL.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseType() != "postgres" {
				return fmt.Errorf("migrate needs a postgres DATABASE_URL, got %q", cfg.DatabaseURL)
			}

			ctx := cmd.Context()
			pool, err := cfg.OpenPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repopg.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
