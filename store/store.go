package store

import (
	"context"

	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/cluster"
	"github.com/xraph/queuejob/cron"
	"github.com/xraph/queuejob/job"
	"github.com/xraph/queuejob/message"
)

// Store is the aggregate persistence interface of one database.
type Store interface {
	job.Store
	job.Notifier
	batch.Store
	message.Store
	cron.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
