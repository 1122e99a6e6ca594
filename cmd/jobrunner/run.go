package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/queuejob/engine"
)

func newRunCmd(a *app) *cobra.Command {
	var inProcess bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch runnable jobs of every configured database",
		Long: `run starts the job runner. It keeps the channels of all databases in
memory and sends each runnable job to the runjob endpoint of the executor
server at QUEUE_JOB_SCHEME://QUEUE_JOB_HOST:QUEUE_JOB_PORT.

With --in-process, jobs run in this process instead and the cron
scheduler of each database is started as well.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := engine.New(a.cfg,
				engine.WithLogger(a.logger),
				engine.WithInProcessDispatch(inProcess),
			)
			if err != nil {
				return err
			}
			defer shutdown(eng)

			if inProcess {
				if err := eng.Start(ctx); err != nil {
					return err
				}
			}

			r, err := eng.Runner(ctx)
			if err != nil {
				return err
			}
			if a.configFile != "" {
				r.WatchConfig(a.v)
			}
			return r.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&inProcess, "in-process", false, "execute jobs in this process instead of calling the runjob endpoint")
	return cmd
}

// shutdown stops eng, giving running jobs time to finish.
func shutdown(eng *engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		eng.Logger().Error("engine stop failed", "error", err)
	}
}
