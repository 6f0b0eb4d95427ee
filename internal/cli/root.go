// Package cli implements the playtimed command line.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"playtimetracker/internal/app"
)

var cfg *Config

// NewRootCmd creates the root command. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "playtimed",
		Short: "Playtime tracker for a proxied game network",
		Long: `playtimed records how long each player spends on the backend servers
behind a proxy and keeps per-player totals for leaderboards and queries.

Without a subcommand it runs the service (same as "playtimed serve").`,
		RunE:         runServe,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfg.ConfigPath, "config", "c", cfg.ConfigPath, "Config file path (env: PLAYTIMED_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Log to stderr as well")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReloadCmd())
	rootCmd.AddCommand(newTopCmd())
	rootCmd.AddCommand(newPlaytimeCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newCheckConfigCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp builds the application for a one-shot command and releases it
// afterwards. The sweep and the API are not started.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(app.Options{ConfigPath: cfg.ConfigPath, Console: cfg.Verbose})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
