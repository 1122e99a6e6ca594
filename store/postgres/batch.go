package postgres

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/id"
)

const batchColumns = `id, name, state, user_id, company_id, is_read,
	job_count, finished_job_count, failed_job_count, completeness, failed_percentage,
	created_at, updated_at`

// CreateBatch persists a new batch.
func (s *Store) CreateBatch(ctx context.Context, b *batch.Batch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_job_batch (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.Name, string(b.State), b.UserID, b.CompanyID, b.IsRead,
		b.JobCount, b.FinishedCount, b.FailedCount, b.Completeness, b.FailedPercentage,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return errors.Wrapf(queuejob.ErrJobAlreadyExists, "queuejob/postgres: batch %s", b.ID)
		}
		return errors.Wrap(err, "queuejob/postgres: create batch")
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (s *Store) GetBatch(ctx context.Context, batchID id.ID) (*batch.Batch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM queue_job_batch WHERE id = $1`, batchID))
	if err != nil {
		if isNoRows(err) {
			return nil, queuejob.ErrBatchNotFound
		}
		return nil, errors.Wrap(err, "queuejob/postgres: get batch")
	}
	return b, nil
}

// UpdateBatch writes a batch.
func (s *Store) UpdateBatch(ctx context.Context, b *batch.Batch) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_job_batch SET
			name = $2, state = $3, is_read = $4,
			job_count = $5, finished_job_count = $6, failed_job_count = $7,
			completeness = $8, failed_percentage = $9, updated_at = $10
		WHERE id = $1`,
		b.ID, b.Name, string(b.State), b.IsRead,
		b.JobCount, b.FinishedCount, b.FailedCount,
		b.Completeness, b.FailedPercentage, b.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "queuejob/postgres: update batch")
	}
	if tag.RowsAffected() == 0 {
		return queuejob.ErrBatchNotFound
	}
	return nil
}

// ListBatches returns batches matching opts, newest first.
func (s *Store) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	w := jobFilter{}
	w.add("state = $%d", string(opts.State), opts.State != "")
	w.add("user_id = $%d", opts.UserID, opts.UserID != 0)

	query := `SELECT ` + batchColumns + ` FROM queue_job_batch` + w.where() + ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: list batches")
	}
	defer rows.Close()

	var out []*batch.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, errors.Wrap(err, "queuejob/postgres: scan batch")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(row pgx.Row) (*batch.Batch, error) {
	var b batch.Batch
	var state string
	if err := row.Scan(
		&b.ID, &b.Name, &state, &b.UserID, &b.CompanyID, &b.IsRead,
		&b.JobCount, &b.FinishedCount, &b.FailedCount, &b.Completeness, &b.FailedPercentage,
		&b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.State = batch.State(state)
	return &b, nil
}
