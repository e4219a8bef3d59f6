package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/aurora/internal/server"
)

const shutdownTimeout = 60 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and task scheduler",
	Long: `Starts the HTTP API and the cron scheduler that refreshes feeds,
cleans the icon cache and checks service health.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.New(server.Deps{
			Store:     a.db,
			Fetcher:   a.fetcher,
			Icons:     a.icons,
			Scheduler: a.sched,
			Logger:    a.log.With("component", "http"),
			Gatherer:  a.registry,
		})

		a.sched.Start()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(cfg.Server.Addr) }()

		select {
		case <-ctx.Done():
			a.log.Info("Gracefully shutting down")
		case err = <-errCh:
			if err != nil {
				a.log.Error("Server stopped", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.log.Error("HTTP shutdown failed", "error", serr)
		}
		if serr := a.sched.Stop(shutdownCtx); serr != nil {
			a.log.Error("Scheduler shutdown failed", "error", serr)
		}
		return err
	},
}
