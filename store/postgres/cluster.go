package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/cluster"
	"github.com/xraph/queuejob/id"
)

const runnerColumns = `id, hostname, pid, application_name, databases, state,
	is_leader, leader_until, last_seen, created_at`

// RegisterRunner adds or replaces a runner row.
func (s *Store) RegisterRunner(ctx context.Context, r *cluster.Runner) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_job_runner (`+runnerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			pid = EXCLUDED.pid,
			application_name = EXCLUDED.application_name,
			databases = EXCLUDED.databases,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen`,
		r.ID, r.Hostname, r.PID, r.ApplicationName, textArray(r.Databases), string(r.State),
		r.IsLeader, r.LeaderUntil, r.LastSeen, r.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "queuejob/postgres: register runner")
	}
	return nil
}

// DeregisterRunner removes a runner row.
func (s *Store) DeregisterRunner(ctx context.Context, runnerID id.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_job_runner WHERE id = $1`, runnerID)
	if err != nil {
		return errors.Wrap(err, "queuejob/postgres: deregister runner")
	}
	if tag.RowsAffected() == 0 {
		return queuejob.ErrRunnerNotFound
	}
	return nil
}

// HeartbeatRunner updates the last-seen timestamp of a runner.
func (s *Store) HeartbeatRunner(ctx context.Context, runnerID id.ID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE queue_job_runner SET last_seen = NOW() WHERE id = $1`, runnerID)
	if err != nil {
		return errors.Wrap(err, "queuejob/postgres: heartbeat runner")
	}
	if tag.RowsAffected() == 0 {
		return queuejob.ErrRunnerNotFound
	}
	return nil
}

// ListRunners returns all registered runners, oldest first.
func (s *Store) ListRunners(ctx context.Context) ([]*cluster.Runner, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+runnerColumns+` FROM queue_job_runner ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: list runners")
	}
	return collectRunners(rows)
}

// ReapDeadRunners deletes and returns the runners not seen for threshold.
func (s *Store) ReapDeadRunners(ctx context.Context, threshold time.Duration) ([]*cluster.Runner, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM queue_job_runner
		WHERE last_seen < $1
		RETURNING `+runnerColumns,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: reap dead runners")
	}
	dead, err := collectRunners(rows)
	for _, r := range dead {
		r.State = cluster.RunnerDead
	}
	return dead, err
}

// AcquireLeadership claims the leader lease when no other runner holds an
// unexpired one. The current leader row is locked for the duration of the
// claim.
func (s *Store) AcquireLeadership(ctx context.Context, runnerID id.ID, ttl time.Duration) (bool, error) {
	var acquired bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()

		var holder string
		err := tx.QueryRow(ctx, `
			SELECT id FROM queue_job_runner
			WHERE is_leader = TRUE AND leader_until >= $1
			LIMIT 1 FOR UPDATE`,
			now,
		).Scan(&holder)
		if err != nil && !isNoRows(err) {
			return errors.Wrap(err, "queuejob/postgres: check leader")
		}
		if holder != "" && holder != runnerID.String() {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE queue_job_runner
			SET is_leader = FALSE, leader_until = NULL
			WHERE is_leader = TRUE AND id != $1`,
			runnerID,
		); err != nil {
			return errors.Wrap(err, "queuejob/postgres: clear expired leader")
		}

		tag, err := tx.Exec(ctx, `
			UPDATE queue_job_runner
			SET is_leader = TRUE, leader_until = $2
			WHERE id = $1`,
			runnerID, now.Add(ttl),
		)
		if err != nil {
			return errors.Wrap(err, "queuejob/postgres: claim leadership")
		}
		acquired = tag.RowsAffected() == 1
		return nil
	})
	return acquired, err
}

// RenewLeadership extends the lease held by runnerID.
func (s *Store) RenewLeadership(ctx context.Context, runnerID id.ID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_job_runner
		SET leader_until = $2
		WHERE id = $1 AND is_leader = TRUE AND leader_until >= $3`,
		runnerID, now.Add(ttl), now,
	)
	if err != nil {
		return false, errors.Wrap(err, "queuejob/postgres: renew leadership")
	}
	return tag.RowsAffected() == 1, nil
}

// GetLeader returns the current leader, or nil if the lease expired.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Runner, error) {
	r, err := scanRunner(s.pool.QueryRow(ctx, `
		SELECT `+runnerColumns+` FROM queue_job_runner
		WHERE is_leader = TRUE AND leader_until >= $1
		LIMIT 1`,
		time.Now().UTC(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "queuejob/postgres: get leader")
	}
	return r, nil
}

func collectRunners(rows pgx.Rows) ([]*cluster.Runner, error) {
	defer rows.Close()

	var out []*cluster.Runner
	for rows.Next() {
		r, err := scanRunner(rows)
		if err != nil {
			return nil, errors.Wrap(err, "queuejob/postgres: scan runner")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRunner(row pgx.Row) (*cluster.Runner, error) {
	var r cluster.Runner
	var state string
	if err := row.Scan(
		&r.ID, &r.Hostname, &r.PID, &r.ApplicationName, &r.Databases, &state,
		&r.IsLeader, &r.LeaderUntil, &r.LastSeen, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.State = cluster.RunnerState(state)
	return &r, nil
}
