package postgres

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/job"
)

// RunnerPrefix starts the application_name of every runner connection.
const RunnerPrefix = "jobrunner_"

// subscription is a dedicated connection blocked in LISTEN.
type subscription struct {
	conn *pgx.Conn
}

// Next waits for the next notification on the listened channel.
func (s *subscription) Next(ctx context.Context) (string, error) {
	n, err := s.conn.WaitForNotification(ctx)
	if err != nil {
		return "", errors.Wrap(err, "queuejob/postgres: wait for notification")
	}
	return n.Payload, nil
}

// Close closes the connection.
func (s *subscription) Close() error {
	return s.conn.Close(context.Background())
}

func listen(ctx context.Context, connStr, appName, channel string) (*subscription, error) {
	cfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: parse listen config")
	}
	if appName != "" {
		cfg.RuntimeParams["application_name"] = appName
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: listen connect")
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, errors.Wrapf(err, "queuejob/postgres: listen %s", channel)
	}
	return &subscription{conn: conn}, nil
}

// Listen opens a dedicated connection listening on queue_job. The
// connection carries the store's application name.
func (s *Store) Listen(ctx context.Context) (job.Subscription, error) {
	return listen(ctx, s.connStr, s.appName, job.NotifyChannel)
}

// IsLeader reports whether the store's application name belongs to the
// oldest runner backend of the database. A store without application
// name always leads.
func (s *Store) IsLeader(ctx context.Context) (bool, error) {
	if s.appName == "" {
		return true, nil
	}
	var oldest string
	err := s.pool.QueryRow(ctx, `
		SELECT application_name FROM pg_stat_activity
		WHERE application_name LIKE $1 AND datname = current_database()
		ORDER BY backend_start, pid
		LIMIT 1`,
		strings.ReplaceAll(RunnerPrefix, "_", `\_`)+"%",
	).Scan(&oldest)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "queuejob/postgres: leader check")
	}
	return oldest == s.appName, nil
}

// Databases opens stores on the databases of one PostgreSQL cluster.
type Databases struct {
	cfg    queuejob.Config
	logger *slog.Logger
}

// NewDatabases returns a connector for the cluster described by cfg.
func NewDatabases(cfg queuejob.Config, logger *slog.Logger) *Databases {
	if logger == nil {
		logger = slog.Default()
	}
	return &Databases{cfg: cfg, logger: logger}
}

// Connect opens a store on db tagged with applicationName.
func (d *Databases) Connect(ctx context.Context, db, applicationName string) (*Store, error) {
	s, err := New(ctx, d.cfg.DSN(db), WithLogger(d.logger.With(slog.String("db", db))), WithApplicationName(applicationName))
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, errors.Mark(errors.Wrapf(err, "queuejob/postgres: database %q", db), queuejob.ErrUnknownDatabase)
	}
	return s, nil
}

// ListenDatabases listens on queue_job_db_listener in the postgres
// maintenance database.
func (d *Databases) ListenDatabases(ctx context.Context) (job.Subscription, error) {
	return listen(ctx, d.cfg.DSN("postgres"), "", job.DBListenerChannel)
}

// Announce publishes "<action> <db>" on queue_job_db_listener, where
// action is "add" or "remove".
func (d *Databases) Announce(ctx context.Context, action, db string) error {
	if action != "add" && action != "remove" {
		return errors.Newf("queuejob/postgres: unknown database action %q", action)
	}
	conn, err := pgx.Connect(ctx, d.cfg.DSN("postgres"))
	if err != nil {
		return errors.Wrap(err, "queuejob/postgres: announce connect")
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, `SELECT pg_notify($1, $2)`, job.DBListenerChannel, action+" "+db); err != nil {
		return errors.Wrap(err, "queuejob/postgres: announce")
	}
	return nil
}
