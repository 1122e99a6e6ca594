package engine

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/job"
	"github.com/xraph/queuejob/runner"
	"github.com/xraph/queuejob/store"
	"github.com/xraph/queuejob/store/memory"
	"github.com/xraph/queuejob/store/postgres"
)

// serverApplicationName tags the store connections of the engine, which
// never take part in runner leader election.
const serverApplicationName = "queuejob_server"

// Backend opens the databases an engine serves.
type Backend interface {
	// Open returns the store of db.
	Open(ctx context.Context, db string) (store.Store, error)

	// Connect opens a runner connection on db.
	Connect(ctx context.Context, db, applicationName string) (runner.Database, error)

	// ListenDatabases delivers the payloads of queue_job_db_listener.
	ListenDatabases(ctx context.Context) (job.Subscription, error)
}

// Postgres returns the backend of the PostgreSQL cluster described by cfg.
func Postgres(cfg queuejob.Config, logger *slog.Logger) Backend {
	return &postgresBackend{dbs: postgres.NewDatabases(cfg, logger)}
}

type postgresBackend struct {
	dbs *postgres.Databases
}

func (b *postgresBackend) Open(ctx context.Context, db string) (store.Store, error) {
	s, err := b.dbs.Connect(ctx, db, serverApplicationName)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *postgresBackend) Connect(ctx context.Context, db, applicationName string) (runner.Database, error) {
	s, err := b.dbs.Connect(ctx, db, applicationName)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *postgresBackend) ListenDatabases(ctx context.Context) (job.Subscription, error) {
	return b.dbs.ListenDatabases(ctx)
}

// Memory returns a backend over in-memory databases.
func Memory(dbs *memory.Databases) Backend {
	return &memoryBackend{dbs: dbs}
}

type memoryBackend struct {
	dbs *memory.Databases
}

func (b *memoryBackend) Open(_ context.Context, db string) (store.Store, error) {
	s, ok := b.dbs.Get(db)
	if !ok {
		return nil, errors.Wrapf(queuejob.ErrUnknownDatabase, "engine: %q", db)
	}
	return sharedStore{s}, nil
}

// sharedStore leaves the store open on Close; it belongs to the
// Databases it came from.
type sharedStore struct {
	*memory.Store
}

func (sharedStore) Close() error { return nil }

func (b *memoryBackend) Connect(ctx context.Context, db, applicationName string) (runner.Database, error) {
	c, err := b.dbs.Connect(ctx, db, applicationName)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (b *memoryBackend) ListenDatabases(ctx context.Context) (job.Subscription, error) {
	return b.dbs.ListenDatabases(ctx)
}
