// Package cmd assembles the birdtag command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tphakala/birdtag/cmd/ingest"
	"github.com/tphakala/birdtag/cmd/migrate"
	"github.com/tphakala/birdtag/cmd/query"
	"github.com/tphakala/birdtag/cmd/subscribe"
	"github.com/tphakala/birdtag/cmd/tags"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/logging"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "birdtag",
		Short: "BirdTag media metadata and notification CLI",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		migrate.Command(settings),
		ingest.Command(settings),
		query.Command(settings),
		subscribe.Command(settings),
		tags.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags configures the global flags for the root command.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Output.SQLite.Path, "database", settings.Output.SQLite.Path, "Path to the SQLite database file")
}
