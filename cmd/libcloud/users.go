package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tendant/libcloud/pkg/libcloud"
)

// NewUsersCommand groups account administration
func NewUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUsersDeleteCommand())
	return cmd
}

func newUsersDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user",
		Long: `Delete a user and the schema rows it owns. Content created by the user is
handed over to the "` + libcloud.SentinelUsername + `" account first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := cfg.Logger()
			svc, closeService, err := cfg.BuildService(ctx, logger)
			if err != nil {
				return err
			}
			defer closeService()

			return deleteUser(cmd, svc, args[0])
		},
	}
}

func deleteUser(cmd *cobra.Command, svc libcloud.Service, username string) error {
	if err := svc.DeleteUser(cmd.Context(), username); err != nil {
		if errors.Is(err, libcloud.ErrUserNotFound) {
			return fmt.Errorf("no user named %q", username)
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "user %s deleted\n", username)
	return nil
}
