package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"playtimetracker/internal/app"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker service",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Override api.listen_addr (env: PLAYTIMED_LISTEN)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(app.Options{
		ConfigPath: cfg.ConfigPath,
		ListenAddr: cfg.ListenAddr,
		Console:    true,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}
