package runner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/job"
)

// ApplicationPrefix starts the application name of every runner
// connection.
const ApplicationPrefix = "jobrunner_"

// Database is a runner connection to one database.
type Database interface {
	job.LeaseStore
	job.Notifier
	Close() error
}

// Leader is implemented by databases that know which runner connection
// is the oldest.
type Leader interface {
	IsLeader(ctx context.Context) (bool, error)
}

// ConnectFunc opens the database db with connections tagged with
// applicationName.
type ConnectFunc func(ctx context.Context, db, applicationName string) (Database, error)

// DBListener delivers the payloads of queue_job_db_listener.
type DBListener interface {
	ListenDatabases(ctx context.Context) (job.Subscription, error)
}

// database is an open database of the runner.
type database struct {
	name   string
	conn   Database
	cancel context.CancelFunc
	leader bool
}

// note is one notification payload. An empty db marks an administrative
// payload of queue_job_db_listener.
type note struct {
	db      string
	payload string
}

// open connects to name, starts listening and loads its jobs.
func (r *Runner) open(ctx context.Context, name string) error {
	if r.database(name) != nil {
		return nil
	}
	conn, err := r.connect(ctx, name, r.applicationName)
	if err != nil {
		return errors.Wrapf(err, "runner: connect %s", name)
	}

	dctx, cancel := context.WithCancel(ctx)
	// Listen before loading so no change between both is missed.
	sub, err := conn.Listen(dctx)
	if err != nil {
		cancel()
		_ = conn.Close()
		return errors.Wrapf(err, "runner: listen %s", name)
	}

	d := &database{name: name, conn: conn, cancel: cancel, leader: true}
	if r.leaderElection {
		if d.leader, err = r.isLeader(ctx, d); err != nil {
			cancel()
			_ = sub.Close()
			_ = conn.Close()
			return err
		}
	}
	if d.leader {
		if err := r.load(ctx, d); err != nil {
			cancel()
			_ = sub.Close()
			_ = conn.Close()
			return err
		}
	}

	r.mu.Lock()
	r.dbs[name] = d
	r.mu.Unlock()

	r.group.Go(func() error {
		defer sub.Close()
		return r.pump(dctx, name, sub)
	})
	r.logger.Info("database opened",
		slog.String("db", name),
		slog.Bool("leader", d.leader),
	)
	return nil
}

// close stops serving name and forgets its jobs.
func (r *Runner) close(name string) {
	r.mu.Lock()
	d, ok := r.dbs[name]
	delete(r.dbs, name)
	r.mu.Unlock()
	if !ok {
		return
	}
	d.cancel()
	if err := d.conn.Close(); err != nil {
		r.logger.Warn("failed to close database", slog.String("db", name), slog.String("error", err.Error()))
	}
	r.manager.RemoveDB(name)
	r.logger.Info("database closed", slog.String("db", name))
}

func (r *Runner) closeAll() {
	for _, name := range r.Databases() {
		r.close(name)
	}
}

// load feeds every schedulable row of d to the channel manager.
func (r *Runner) load(ctx context.Context, d *database) error {
	rows, err := d.conn.ListSchedulable(ctx)
	if err != nil {
		return errors.Wrapf(err, "runner: load %s", d.name)
	}
	now := r.now()
	for _, row := range rows {
		r.manager.Notify(d.name, row, now)
	}
	r.logger.Debug("database loaded", slog.String("db", d.name), slog.Int("jobs", len(rows)))
	return nil
}

func (r *Runner) isLeader(ctx context.Context, d *database) (bool, error) {
	l, ok := d.conn.(Leader)
	if !ok {
		return true, nil
	}
	leader, err := l.IsLeader(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "runner: leader check %s", d.name)
	}
	return leader, nil
}

// checkLeader refreshes the leadership of d, loading its jobs when it is
// gained and forgetting them when it is lost.
func (r *Runner) checkLeader(ctx context.Context, d *database) error {
	leader, err := r.isLeader(ctx, d)
	if err != nil {
		return err
	}
	switch {
	case leader && !d.leader:
		r.logger.Info("became leader", slog.String("db", d.name))
		if err := r.load(ctx, d); err != nil {
			return err
		}
	case !leader && d.leader:
		r.logger.Info("lost leadership", slog.String("db", d.name))
		r.manager.RemoveDB(d.name)
	}
	d.leader = leader
	return nil
}

// pump forwards the payloads of sub to the loop. It returns nil once ctx
// is done.
func (r *Runner) pump(ctx context.Context, db string, sub job.Subscription) error {
	for {
		payload, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if db == "" {
				return errors.Wrap(err, "runner: database listener")
			}
			return errors.Wrapf(err, "runner: notifications of %s", db)
		}
		select {
		case r.notes <- note{db: db, payload: payload}:
		case <-ctx.Done():
			return nil
		}
	}
}

// process applies a batch of notifications.
func (r *Runner) process(ctx context.Context, notes []note) error {
	byDB := make(map[string][]string)
	for _, n := range notes {
		if n.db == "" {
			r.administer(ctx, n.payload)
			continue
		}
		byDB[n.db] = append(byDB[n.db], n.payload)
	}

	now := r.now()
	for name, uuids := range byDB {
		d := r.database(name)
		if d == nil || !d.leader {
			continue
		}
		uuids = dedup(uuids)
		rows, err := d.conn.GetRows(ctx, uuids)
		if err != nil {
			return errors.Wrapf(err, "runner: read rows of %s", name)
		}
		found := make(map[string]bool, len(rows))
		for _, row := range rows {
			found[row.UUID] = true
			r.manager.Notify(name, row, now)
		}
		for _, uuid := range uuids {
			if !found[uuid] {
				r.manager.Remove(name, uuid)
			}
		}
	}
	return nil
}

// administer applies an "add <db>" or "remove <db>" payload.
func (r *Runner) administer(ctx context.Context, payload string) {
	fields := strings.Fields(payload)
	if len(fields) != 2 {
		r.logger.Warn("invalid database listener payload", slog.String("payload", payload))
		return
	}
	switch action, name := fields[0], fields[1]; action {
	case "add":
		if err := r.open(ctx, name); err != nil {
			r.logger.Error("failed to add database",
				slog.String("db", name),
				slog.String("error", err.Error()),
			)
		}
	case "remove":
		r.close(name)
	default:
		r.logger.Warn("unknown database listener action", slog.String("payload", payload))
	}
}

// sweep returns stale leases to pending, refreshes leadership and
// heartbeats the runner registry.
func (r *Runner) sweep(ctx context.Context) error {
	for _, name := range r.Databases() {
		d := r.database(name)
		if d == nil {
			continue
		}
		if r.leaderElection {
			if err := r.checkLeader(ctx, d); err != nil {
				return err
			}
		}
		if !d.leader {
			continue
		}
		if err := r.resetStale(ctx, d); err != nil {
			return err
		}
	}
	if r.member != nil {
		if err := r.member.Beat(ctx); err != nil {
			r.logger.Warn("runner heartbeat failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Runner) resetStale(ctx context.Context, d *database) error {
	rows, err := d.conn.ListLeased(ctx)
	if err != nil {
		return errors.Wrapf(err, "runner: list leased jobs of %s", d.name)
	}
	now := r.now()
	for _, row := range rows {
		enqueued, started := r.manager.Deltas(row.Channel)
		var (
			delta time.Duration
			since *time.Time
		)
		switch row.State {
		case job.StateEnqueued:
			delta, since = enqueued, row.DateEnqueued
		case job.StateStarted:
			delta, since = started, row.DateStarted
		}
		if delta <= 0 || since == nil {
			continue
		}
		cutoff := now.Add(-delta)
		if !since.Before(cutoff) {
			continue
		}
		reset, err := d.conn.ResetStale(ctx, row.UUID, row.State, cutoff)
		if err != nil {
			return errors.Wrapf(err, "runner: reset stale job %s", row.UUID)
		}
		if reset {
			reason := "stale " + string(row.State)
			r.logger.Warn("stale lease reset",
				slog.String("db", d.name),
				slog.String("job_uuid", row.UUID),
				slog.String("state", string(row.State)),
				slog.Time("since", *since),
			)
			r.extensions.EmitLeaseReset(ctx, d.name, row.UUID, reason)
		}
	}
	return nil
}

func dedup(uuids []string) []string {
	seen := make(map[string]bool, len(uuids))
	out := uuids[:0]
	for _, u := range uuids {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// errUnknownDatabase reports whether err means the database does not
// exist, which is not worth a restart.
func errUnknownDatabase(err error) bool {
	return errors.Is(err, queuejob.ErrUnknownDatabase)
}
