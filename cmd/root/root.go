// Package root contains the root command for the application
package root

import (
	"github.com/spf13/cobra"

	"subsentry/internal/config"
	"subsentry/internal/container"
)

// CommonFlags represents the flags that are common to multiple commands
type CommonFlags struct {
	Input  string
	Output string
}

var (
	// App is the dependency container, wired before any subcommand runs.
	App *container.Container

	// Cmd is the root command
	Cmd = &cobra.Command{
		Use:   "subsentry",
		Short: "A CLI tool to detect recurring charges and alert on changes.",
		Long: `subsentry imports bank statement CSV files, detects recurring charges
(subscriptions), tracks their lifecycle, and raises alerts on price changes,
frequency changes, duplicates, cancellations and anomalous amounts.`,
		Run: func(cmd *cobra.Command, args []string) {
			App.GetLogger().Info("Welcome to subsentry!")
			App.GetLogger().Info("Use --help to see available commands")
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.InitializeConfig()
			if err != nil {
				return err
			}
			App, err = container.NewContainer(cfg)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if App != nil {
				if err := App.Close(); err != nil {
					App.GetLogger().WithError(err).Warn("Failed to close container")
				}
			}
		},
	}

	// SharedFlags holds common flags accessible to all commands
	SharedFlags = CommonFlags{}

	// Specific recompute command flag
	AsOf string

	// Specific alerts command flag
	Severity string

	// Specific export command flags
	Format string
	From   string
	To     string
)

// Init initializes the root command and all flags
func Init() {
	Cmd.PersistentFlags().StringVarP(&SharedFlags.Input, "input", "i", "", "Input file")
	Cmd.PersistentFlags().StringVarP(&SharedFlags.Output, "output", "o", "", "Output file or directory")
}
