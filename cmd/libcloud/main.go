package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tendant/libcloud/pkg/libcloud/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the libcloud command tree
func NewRootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "libcloud",
		Short: "libcloud - catalogue your files with your own content types",
		Long: `libcloud serves a web application where users define content types with
typed features, upload content of those types and group it into libraries.

Configuration is read from an optional file and from environment variables
(DATABASE_URL, STORAGE_URL, SESSION_SECRET, ...).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional)")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewUsersCommand())

	return rootCmd
}

// loadConfig reads the --config file, then the environment, then applies
// the extra options of a subcommand.
func loadConfig(cmd *cobra.Command, opts ...config.Option) (*config.ServerConfig, error) {
	configFile, _ := cmd.Flags().GetString("config")
	options := append([]config.Option{config.WithFile(configFile), config.WithEnv()}, opts...)
	cfg, err := config.Load(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
