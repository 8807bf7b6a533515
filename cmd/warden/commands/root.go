package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "Cloudwarden - Cloud Resource Lifecycle Manager",
		Long: `Cloudwarden reconciles declared cloud resources against a provider API.

It drives each entity through its lifecycle: adopt or create, converge
updates, poll readiness, and delete with owned-secret cleanup. Entity
definitions live in YAML catalog files; observed state persists in a
local SQLite database between invocations.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInvokeCommand())
	rootCmd.AddCommand(newReconcileCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newActionsCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
