package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/codec"
	"github.com/xraph/queuejob/job"
)

const jobColumns = `id, uuid, model_name, method_name, records, args, kwargs, name,
	state, priority, retry, max_retries, eta, COALESCE(identity_key, ''), channel,
	date_created, date_enqueued, date_started, date_done, date_cancelled, exec_time,
	result, exc_info, exc_name, exc_message,
	depends_on, reverse_depends_on, graph_uuid,
	worker_pid, worker_hostname, batch_id, user_id, company_id`

const rowColumns = `uuid, id, channel, state, priority, eta, date_created, date_enqueued, date_started`

const outstanding = `('pending', 'enqueued', 'wait_dependencies')`

// insertJob inserts j unless its identity key is held by an outstanding
// job. It reports false on an identity conflict.
func insertJob(ctx context.Context, q querier, j *job.Job) (bool, error) {
	records, err := codec.MarshalRecords(j.Records)
	if err != nil {
		return false, err
	}
	args, err := codec.MarshalArgs(j.Args)
	if err != nil {
		return false, err
	}
	kwargs, err := codec.MarshalKwargs(j.Kwargs)
	if err != nil {
		return false, err
	}

	err = q.QueryRow(ctx, `
		INSERT INTO queue_job (
			uuid, model_name, method_name, channel_method_name, job_function_id,
			records, args, kwargs, name,
			state, priority, retry, max_retries, eta, identity_key, channel,
			date_created, date_enqueued, date_started, date_done, date_cancelled, exec_time,
			result, exc_info, exc_name, exc_message,
			depends_on, reverse_depends_on, graph_uuid,
			worker_pid, worker_hostname, batch_id, user_id, company_id
		) VALUES (
			$1, $2, $3, $4, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13, NULLIF($14, ''), $15,
			$16, $17, $18, $19, $20, $21,
			$22, $23, $24, $25,
			$26, $27, $28,
			$29, $30, $31, $32, $33
		)
		ON CONFLICT (identity_key)
			WHERE state IN `+outstanding+` AND identity_key IS NOT NULL
			DO NOTHING
		RETURNING id`,
		j.UUID, j.Model, j.Method, j.MethodName(),
		records, args, kwargs, j.Description,
		string(j.State), j.Priority, j.Retry, j.MaxRetries, j.ETA, j.IdentityKey, j.Channel,
		j.DateCreated, j.DateEnqueued, j.DateStarted, j.DateDone, j.DateCancelled, j.ExecTime,
		j.Result, j.ExcInfo, j.ExcName, j.ExcMessage,
		textArray(j.DependsOn), textArray(j.ReverseDependsOn), j.GraphUUID,
		j.WorkerPID, j.WorkerHostname, j.BatchID, j.UserID, j.CompanyID,
	).Scan(&j.Seq)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		if isDuplicateKey(err) {
			return false, errors.Wrapf(queuejob.ErrJobAlreadyExists, "queuejob/postgres: insert job %s", j.UUID)
		}
		return false, errors.Wrap(err, "queuejob/postgres: insert job")
	}
	return true, nil
}

// InsertJob stores a prepared job unless its identity key is taken.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) (string, error) {
	// The holder of the key may leave the outstanding states between the
	// conflicting insert and the lookup; one more insert settles it.
	for attempt := 0; attempt < 2; attempt++ {
		inserted, err := insertJob(ctx, s.pool, j)
		if err != nil || inserted {
			return "", err
		}
		found, err := s.FindByIdentity(ctx, []string{j.IdentityKey})
		if err != nil {
			return "", err
		}
		if existing, ok := found[j.IdentityKey]; ok {
			return existing, nil
		}
	}
	return "", errors.Wrapf(queuejob.ErrJobAlreadyExists, "queuejob/postgres: identity key %q is contended", j.IdentityKey)
}

// InsertGraph stores all jobs in one transaction. A job whose key is held
// by an outstanding job, or by an earlier job of the graph, is stored
// without a key.
func (s *Store) InsertGraph(ctx context.Context, jobs []*job.Job) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, j := range jobs {
			inserted, err := insertJob(ctx, tx, j)
			if err != nil {
				return err
			}
			if inserted {
				continue
			}
			j.IdentityKey = ""
			if _, err := insertJob(ctx, tx, j); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByIdentity maps keys held by outstanding jobs to their uuids.
func (s *Store) FindByIdentity(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT identity_key, uuid FROM queue_job
		WHERE identity_key = ANY($1) AND state IN `+outstanding,
		keys,
	)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: find by identity")
	}
	defer rows.Close()

	for rows.Next() {
		var key, uuid string
		if err := rows.Scan(&key, &uuid); err != nil {
			return nil, errors.Wrap(err, "queuejob/postgres: scan identity")
		}
		out[key] = uuid
	}
	return out, rows.Err()
}

// GetJob retrieves a job by uuid.
func (s *Store) GetJob(ctx context.Context, uuid string) (*job.Job, error) {
	return getJob(ctx, s.pool, uuid, "")
}

func getJob(ctx context.Context, q querier, uuid, suffix string) (*job.Job, error) {
	row := q.QueryRow(ctx, `SELECT `+jobColumns+` FROM queue_job WHERE uuid = $1 `+suffix, uuid)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, queuejob.NoSuchJob(uuid)
		}
		return nil, errors.Wrapf(err, "queuejob/postgres: get job %s", uuid)
	}
	return j, nil
}

// UpdateJob writes every field of j except the protected ones.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	return updateJob(ctx, s.pool, j)
}

// CompleteJob writes j and releases its dependents in one transaction.
func (s *Store) CompleteJob(ctx context.Context, j *job.Job) ([]string, error) {
	var released []string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := updateJob(ctx, tx, j); err != nil {
			return err
		}
		if j.State != job.StateDone {
			return nil
		}
		var err error
		released, err = enqueueWaiting(ctx, tx, j.ReverseDependsOn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

func updateJob(ctx context.Context, q querier, j *job.Job) error {
	tag, err := q.Exec(ctx, `
		UPDATE queue_job SET
			state = $2, priority = $3, retry = $4, max_retries = $5, eta = $6,
			identity_key = NULLIF($7, ''), channel = $8,
			date_enqueued = $9, date_started = $10, date_done = $11, date_cancelled = $12,
			exec_time = $13, result = $14, exc_info = $15, exc_name = $16, exc_message = $17,
			depends_on = $18, reverse_depends_on = $19, graph_uuid = $20,
			worker_pid = $21, worker_hostname = $22, batch_id = $23,
			user_id = $24, company_id = $25
		WHERE uuid = $1`,
		j.UUID,
		string(j.State), j.Priority, j.Retry, j.MaxRetries, j.ETA,
		j.IdentityKey, j.Channel,
		j.DateEnqueued, j.DateStarted, j.DateDone, j.DateCancelled,
		j.ExecTime, j.Result, j.ExcInfo, j.ExcName, j.ExcMessage,
		textArray(j.DependsOn), textArray(j.ReverseDependsOn), j.GraphUUID,
		j.WorkerPID, j.WorkerHostname, j.BatchID,
		j.UserID, j.CompanyID,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return errors.Wrapf(queuejob.ErrJobAlreadyExists, "queuejob/postgres: identity key %q", j.IdentityKey)
		}
		return errors.Wrapf(err, "queuejob/postgres: update job %s", j.UUID)
	}
	if tag.RowsAffected() == 0 {
		return queuejob.NoSuchJob(j.UUID)
	}
	return nil
}

// DeleteJob removes a job by uuid.
func (s *Store) DeleteJob(ctx context.Context, uuid string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_job WHERE uuid = $1`, uuid)
	if err != nil {
		return errors.Wrapf(err, "queuejob/postgres: delete job %s", uuid)
	}
	if tag.RowsAffected() == 0 {
		return queuejob.NoSuchJob(uuid)
	}
	return nil
}

// StartJob locks an enqueued job, moves it to started and returns it.
func (s *Store) StartJob(ctx context.Context, uuid string, pid int, hostname string, now time.Time) (*job.Job, error) {
	var started *job.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		j, err := getJob(ctx, tx, uuid, `AND state = 'enqueued' FOR UPDATE`)
		if err != nil {
			return err
		}
		if err := j.SetStarted(now, pid, hostname); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE queue_job
			SET state = $2, date_started = $3, worker_pid = $4, worker_hostname = $5
			WHERE uuid = $1`,
			uuid, string(j.State), j.DateStarted, j.WorkerPID, j.WorkerHostname,
		); err != nil {
			return errors.Wrapf(err, "queuejob/postgres: start job %s", uuid)
		}
		started = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

// EnqueueWaiting releases the waiting jobs whose dependencies are all done.
func (s *Store) EnqueueWaiting(ctx context.Context, uuids []string) ([]string, error) {
	return enqueueWaiting(ctx, s.pool, uuids)
}

func enqueueWaiting(ctx context.Context, q querier, uuids []string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `
		UPDATE queue_job AS j
		SET state = 'pending', date_enqueued = NULL, date_started = NULL, date_done = NULL,
			worker_pid = 0, worker_hostname = ''
		WHERE j.uuid = ANY($1)
		  AND j.state = 'wait_dependencies'
		  AND NOT EXISTS (
			SELECT 1 FROM unnest(j.depends_on) AS dep(uuid)
			LEFT JOIN queue_job d ON d.uuid = dep.uuid
			WHERE d.state IS DISTINCT FROM 'done'
		  )
		RETURNING j.uuid`,
		uuids,
	)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: enqueue waiting")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListJobs returns jobs matching opts ordered by seq.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	w := jobFilter{}
	w.add("state = $%d", string(opts.State), opts.State != "")
	w.add("channel = $%d", opts.Channel, opts.Channel != "")
	w.add("batch_id = $%d", opts.BatchID.String(), !opts.BatchID.IsNil())
	w.add("graph_uuid = $%d", opts.GraphUUID, opts.GraphUUID != "")

	query := `SELECT ` + jobColumns + ` FROM queue_job` + w.where() + ` ORDER BY id`
	if opts.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	w := jobFilter{}
	w.add("state = $%d", string(opts.State), opts.State != "")
	w.add("channel = $%d", opts.Channel, opts.Channel != "")
	w.add("batch_id = $%d", opts.BatchID.String(), !opts.BatchID.IsNil())

	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_job`+w.where(), w.args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "queuejob/postgres: count jobs")
	}
	return count, nil
}

// VacuumJobs deletes done and cancelled jobs older than opts.Before.
func (s *Store) VacuumJobs(ctx context.Context, opts job.VacuumOpts) (int64, error) {
	w := jobFilter{}
	w.add(`((state = 'done' AND date_done < $%[1]d) OR (state = 'cancelled' AND date_cancelled < $%[1]d))`, opts.Before, true)
	w.add("channel = $%d", opts.Channel, opts.Channel != "")
	w.add("NOT (channel = ANY($%d))", textArray(opts.ExcludeChannels), opts.Channel == "" && len(opts.ExcludeChannels) > 0)

	inner := `SELECT id FROM queue_job` + w.where() + ` ORDER BY id`
	if opts.Limit > 0 {
		inner += " LIMIT " + strconv.Itoa(opts.Limit)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_job WHERE id IN (`+inner+`)`, w.args...)
	if err != nil {
		return 0, errors.Wrap(err, "queuejob/postgres: vacuum jobs")
	}
	return tag.RowsAffected(), nil
}

// ──────────────────────────────────────────────────
// Lease Store
// ──────────────────────────────────────────────────

// ListSchedulable returns the rows the runner hydrates from.
func (s *Store) ListSchedulable(ctx context.Context) ([]job.Row, error) {
	return s.queryRows(ctx, `
		SELECT `+rowColumns+` FROM queue_job
		WHERE state IN ('wait_dependencies', 'pending', 'enqueued', 'started')
		ORDER BY id`)
}

// ListLeased returns the rows of enqueued and started jobs.
func (s *Store) ListLeased(ctx context.Context) ([]job.Row, error) {
	return s.queryRows(ctx, `
		SELECT `+rowColumns+` FROM queue_job
		WHERE state IN ('enqueued', 'started')
		ORDER BY id`)
}

// GetRows returns the rows of the known uuids.
func (s *Store) GetRows(ctx context.Context, uuids []string) ([]job.Row, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	return s.queryRows(ctx, `SELECT `+rowColumns+` FROM queue_job WHERE uuid = ANY($1) ORDER BY id`, uuids)
}

func (s *Store) queryRows(ctx context.Context, sql string, args ...any) ([]job.Row, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: query rows")
	}
	defer rows.Close()

	var out []job.Row
	for rows.Next() {
		var r job.Row
		var state string
		if err := rows.Scan(
			&r.UUID, &r.Seq, &r.Channel, &state, &r.Priority,
			&r.ETA, &r.DateCreated, &r.DateEnqueued, &r.DateStarted,
		); err != nil {
			return nil, errors.Wrap(err, "queuejob/postgres: scan row")
		}
		r.State = job.State(state)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Lease moves a pending job to enqueued.
func (s *Store) Lease(ctx context.Context, uuid string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_job
		SET state = 'enqueued', date_enqueued = $2, date_started = NULL
		WHERE uuid = $1 AND state = 'pending'`,
		uuid, now,
	)
	if err != nil {
		return false, errors.Wrapf(err, "queuejob/postgres: lease %s", uuid)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetLease moves an enqueued job back to pending.
func (s *Store) ResetLease(ctx context.Context, uuid string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_job
		SET state = 'pending', date_enqueued = NULL, date_started = NULL
		WHERE uuid = $1 AND state = 'enqueued'`,
		uuid,
	)
	if err != nil {
		return false, errors.Wrapf(err, "queuejob/postgres: reset lease %s", uuid)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetStale moves a job whose lease started before cutoff back to pending.
func (s *Store) ResetStale(ctx context.Context, uuid string, state job.State, cutoff time.Time) (bool, error) {
	var column string
	switch state {
	case job.StateEnqueued:
		column = "date_enqueued"
	case job.StateStarted:
		column = "date_started"
	default:
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_job
		SET state = 'pending', date_enqueued = NULL, date_started = NULL, date_done = NULL,
			worker_pid = 0, worker_hostname = ''
		WHERE uuid = $1 AND state = $2 AND `+column+` < $3`,
		uuid, string(state), cutoff,
	)
	if err != nil {
		return false, errors.Wrapf(err, "queuejob/postgres: reset stale %s", uuid)
	}
	return tag.RowsAffected() == 1, nil
}

// ──────────────────────────────────────────────────
// Scanning
// ──────────────────────────────────────────────────

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                     job.Job
		state                 string
		records, args, kwargs []byte
	)
	if err := row.Scan(
		&j.Seq, &j.UUID, &j.Model, &j.Method, &records, &args, &kwargs, &j.Description,
		&state, &j.Priority, &j.Retry, &j.MaxRetries, &j.ETA, &j.IdentityKey, &j.Channel,
		&j.DateCreated, &j.DateEnqueued, &j.DateStarted, &j.DateDone, &j.DateCancelled, &j.ExecTime,
		&j.Result, &j.ExcInfo, &j.ExcName, &j.ExcMessage,
		&j.DependsOn, &j.ReverseDependsOn, &j.GraphUUID,
		&j.WorkerPID, &j.WorkerHostname, &j.BatchID, &j.UserID, &j.CompanyID,
	); err != nil {
		return nil, err
	}
	j.State = job.State(state)
	if !j.State.Valid() {
		return nil, errors.Newf("queuejob/postgres: job %s has unknown state %q", j.UUID, state)
	}

	var err error
	if j.Records, err = codec.UnmarshalRecords(records); err != nil {
		return nil, errors.Wrapf(err, "job %s records", j.UUID)
	}
	if j.Args, err = codec.UnmarshalArgs(args); err != nil {
		return nil, errors.Wrapf(err, "job %s args", j.UUID)
	}
	if j.Kwargs, err = codec.UnmarshalKwargs(kwargs); err != nil {
		return nil, errors.Wrapf(err, "job %s kwargs", j.UUID)
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "queuejob/postgres: scan job")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: iterate jobs")
	}
	return jobs, nil
}

// jobFilter accumulates WHERE conditions with positional arguments.
type jobFilter struct {
	conds []string
	args  []any
}

// add appends cond when ok. The %d verbs of cond receive the argument
// position.
func (f *jobFilter) add(cond string, arg any, ok bool) {
	if !ok {
		return
	}
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, len(f.args)))
}

func (f *jobFilter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}
