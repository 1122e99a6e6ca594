package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/queuejob/store/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	var dbs []string
	var announce bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the queue tables",
		Long: `migrate runs the schema migrations on each database. With --announce, it
then publishes "add <db>" on queue_job_db_listener so running runners pick
the database up without a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if len(dbs) == 0 {
				dbs = a.cfg.Databases
			}
			pg := postgres.NewDatabases(a.cfg, a.logger)
			for _, db := range dbs {
				s, err := pg.Connect(ctx, db, "queuejob_migrate")
				if err != nil {
					return err
				}
				err = s.Migrate(ctx)
				_ = s.Close()
				if err != nil {
					return err
				}
				a.logger.Info("database migrated", slog.String("db", db))

				if announce {
					if err := pg.Announce(ctx, "add", db); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dbs, "db", nil, "database to migrate (default: QUEUE_JOB_DATABASES)")
	cmd.Flags().BoolVar(&announce, "announce", false, "announce migrated databases to running runners")
	return cmd
}
