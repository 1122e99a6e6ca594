package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/xraph/queuejob/admin"
	"github.com/xraph/queuejob/engine"
)

// withDatabase opens db through a fresh engine and runs fn against it.
func (a *app) withDatabase(ctx context.Context, db string, fn func(*engine.Database) error) error {
	if db == "" {
		return errors.New("--db is required")
	}
	eng, err := engine.New(a.cfg, engine.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer shutdown(eng)

	d, err := eng.Database(ctx, db)
	if err != nil {
		return err
	}
	return fn(d)
}

func newVacuumCmd(a *app) *cobra.Command {
	var db string
	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Delete done and cancelled jobs past their channel's removal interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDatabase(cmd.Context(), db, func(d *engine.Database) error {
				n, err := d.Admin.Autovacuum(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d jobs deleted\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "database to vacuum")
	return cmd
}

func newRequeueCmd(a *app) *cobra.Command {
	return newJobsCmd(a, "requeue", "Set failed, done or cancelled jobs back to pending",
		func(ctx context.Context, s *admin.Service, uuids []string, _ string) (admin.Result, error) {
			return s.Requeue(ctx, uuids)
		})
}

func newCancelCmd(a *app) *cobra.Command {
	return newJobsCmd(a, "cancel", "Cancel jobs that have not finished",
		func(ctx context.Context, s *admin.Service, uuids []string, user string) (admin.Result, error) {
			return s.Cancel(ctx, uuids, user)
		})
}

func newSetDoneCmd(a *app) *cobra.Command {
	return newJobsCmd(a, "set-done", "Mark jobs done and release their dependents",
		func(ctx context.Context, s *admin.Service, uuids []string, user string) (admin.Result, error) {
			return s.SetDone(ctx, uuids, user)
		})
}

type jobsAction func(ctx context.Context, s *admin.Service, uuids []string, user string) (admin.Result, error)

func newJobsCmd(a *app, use, short string, action jobsAction) *cobra.Command {
	var db, user string
	cmd := &cobra.Command{
		Use:   use + " UUID...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDatabase(cmd.Context(), db, func(d *engine.Database) error {
				res, err := action(cmd.Context(), d.Admin, args, user)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "changed: %s\n", strings.Join(res.Changed, " "))
				if len(res.Skipped) > 0 {
					fmt.Fprintf(out, "skipped: %s\n", strings.Join(res.Skipped, " "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "database of the jobs")
	cmd.Flags().StringVar(&user, "user", "jobrunner", "user recorded on the jobs")
	return cmd
}
