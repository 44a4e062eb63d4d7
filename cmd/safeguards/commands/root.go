package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	servicePath string
	verbose     bool
	jsonOutput  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "safeguards",
		Short: "Safeguards - policy checks for serverless deployments",
		Long: `Safeguards evaluates a service declaration and its compiled deployment
artifacts against a configured set of policies before the deployment proceeds.

Policies come from:
  - The built-in policy set
  - Rego, Starlark or WebAssembly overrides in the service's policy location
  - A pre-fetched remote policy catalog

A failing policy at enforcement level "error" blocks the deployment.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&servicePath, "service", "s", ".", "service directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newWatchCommand(version))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPoliciesCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
