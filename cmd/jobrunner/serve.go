package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/xraph/queuejob/api"
	"github.com/xraph/queuejob/engine"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Execute jobs posted to the runjob endpoint",
		Long: `serve listens on QUEUE_JOB_LISTEN_ADDR and executes the jobs the runner
dispatches to /queue_job/runjob. It also runs the cron scheduler of every
configured database and serves the admin API under /v1/.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := engine.New(a.cfg, engine.WithLogger(a.logger))
			if err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				shutdown(eng)
				return err
			}
			defer shutdown(eng)

			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           api.New(eng).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("executor server listening", slog.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return errors.Wrap(err, "listen")
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
