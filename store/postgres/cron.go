package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/codec"
	"github.com/xraph/queuejob/cron"
	"github.com/xraph/queuejob/id"
)

const cronColumns = `id, name, schedule, model, method, args, kwargs, channel, priority,
	last_run_at, next_run_at, locked_by, locked_until, enabled, created_at, updated_at`

// RegisterCron persists a new cron entry. Names are unique.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	args, err := codec.MarshalArgs(entry.Args)
	if err != nil {
		return err
	}
	kwargs, err := codec.MarshalKwargs(entry.Kwargs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO queue_job_cron (`+cronColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		entry.ID, entry.Name, entry.Schedule, entry.Model, entry.Method, args, kwargs,
		entry.Channel, entry.Priority, entry.LastRunAt, entry.NextRunAt,
		entry.LockedBy, entry.LockedUntil, entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return queuejob.ErrDuplicateCron
		}
		return errors.Wrap(err, "queuejob/postgres: register cron")
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.ID) (*cron.Entry, error) {
	e, err := scanCron(s.pool.QueryRow(ctx, `SELECT `+cronColumns+` FROM queue_job_cron WHERE id = $1`, entryID))
	if err != nil {
		if isNoRows(err) {
			return nil, queuejob.ErrCronNotFound
		}
		return nil, errors.Wrap(err, "queuejob/postgres: get cron")
	}
	return e, nil
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cronColumns+` FROM queue_job_cron ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: list crons")
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, err := scanCron(rows)
		if err != nil {
			return nil, errors.Wrap(err, "queuejob/postgres: scan cron")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AcquireCronLock locks a cron entry unless another runner holds an
// unexpired lock.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.ID, runnerID id.ID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_job_cron
		SET locked_by = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
		  AND (locked_by = '' OR locked_until IS NULL OR locked_until < $4 OR locked_by = $2)`,
		entryID, runnerID.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, errors.Wrap(err, "queuejob/postgres: acquire cron lock")
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM queue_job_cron WHERE id = $1)`, entryID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "queuejob/postgres: check cron exists")
	}
	if !exists {
		return false, queuejob.ErrCronNotFound
	}
	return false, nil
}

// ReleaseCronLock releases the lock held by runnerID.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.ID, runnerID id.ID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_job_cron
		SET locked_by = '', locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		entryID, runnerID.String(),
	)
	if err != nil {
		return errors.Wrap(err, "queuejob/postgres: release cron lock")
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.ID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_job_cron SET last_run_at = $2, updated_at = NOW() WHERE id = $1`,
		entryID, at,
	)
	if err != nil {
		return errors.Wrap(err, "queuejob/postgres: update cron last run")
	}
	if tag.RowsAffected() == 0 {
		return queuejob.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates the mutable fields of a cron entry. The lock is
// left untouched.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	args, err := codec.MarshalArgs(entry.Args)
	if err != nil {
		return err
	}
	kwargs, err := codec.MarshalKwargs(entry.Kwargs)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_job_cron SET
			name = $2, schedule = $3, model = $4, method = $5, args = $6, kwargs = $7,
			channel = $8, priority = $9, last_run_at = $10, next_run_at = $11,
			enabled = $12, updated_at = NOW()
		WHERE id = $1`,
		entry.ID, entry.Name, entry.Schedule, entry.Model, entry.Method, args, kwargs,
		entry.Channel, entry.Priority, entry.LastRunAt, entry.NextRunAt, entry.Enabled,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return queuejob.ErrDuplicateCron
		}
		return errors.Wrap(err, "queuejob/postgres: update cron entry")
	}
	if tag.RowsAffected() == 0 {
		return queuejob.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_job_cron WHERE id = $1`, entryID)
	if err != nil {
		return errors.Wrap(err, "queuejob/postgres: delete cron")
	}
	if tag.RowsAffected() == 0 {
		return queuejob.ErrCronNotFound
	}
	return nil
}

func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e            cron.Entry
		args, kwargs []byte
	)
	if err := row.Scan(
		&e.ID, &e.Name, &e.Schedule, &e.Model, &e.Method, &args, &kwargs,
		&e.Channel, &e.Priority, &e.LastRunAt, &e.NextRunAt,
		&e.LockedBy, &e.LockedUntil, &e.Enabled, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if e.Args, err = codec.UnmarshalArgs(args); err != nil {
		return nil, errors.Wrapf(err, "cron %s args", e.Name)
	}
	if e.Kwargs, err = codec.UnmarshalKwargs(kwargs); err != nil {
		return nil, errors.Wrapf(err, "cron %s kwargs", e.Name)
	}
	return &e, nil
}
