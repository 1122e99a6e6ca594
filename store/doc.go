// Package store defines the aggregate persistence interface.
//
// Each subsystem (job, batch, message, cron, cluster) defines its own
// store interface. The composite [Store] composes them all, plus the
// job.Notifier that feeds the runner. A backend need only implement Store
// to serve one database.
//
// # Available Backends
//
//   - store/memory: in-memory store for development and testing
//   - store/postgres: PostgreSQL backend using pgx/v5
//
// # Usage
//
//	import "github.com/xraph/queuejob/store/postgres"
//
//	s, err := postgres.New(ctx, cfg.DSN("prod"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema, including
// the queue_job notification trigger:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
