package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/id"
	"github.com/xraph/queuejob/message"
)

const messageColumns = `id, job_uuid, audience, subject, body, exc_name, user_id, created_at, read_at`

// PostMessage persists a message.
func (s *Store) PostMessage(ctx context.Context, m *message.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_job_message (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.JobUUID, m.Audience, m.Subject, m.Body, m.ExcName, m.UserID, m.CreatedAt, m.ReadAt,
	)
	if err != nil {
		return errors.Wrap(err, "queuejob/postgres: post message")
	}
	return nil
}

// ListMessages returns messages matching opts, oldest first.
func (s *Store) ListMessages(ctx context.Context, opts message.ListOpts) ([]*message.Message, error) {
	w := jobFilter{}
	w.add("job_uuid = $%d", opts.JobUUID, opts.JobUUID != "")
	if opts.Unread {
		w.conds = append(w.conds, "read_at IS NULL")
	}

	query := `SELECT ` + messageColumns + ` FROM queue_job_message` + w.where() + ` ORDER BY created_at, id`
	if opts.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: list messages")
	}
	defer rows.Close()

	var out []*message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "queuejob/postgres: scan message")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, messageID id.ID) (*message.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM queue_job_message WHERE id = $1`, messageID))
	if err != nil {
		if isNoRows(err) {
			return nil, queuejob.ErrMessageNotFound
		}
		return nil, errors.Wrap(err, "queuejob/postgres: get message")
	}
	return m, nil
}

// MarkMessageRead sets ReadAt on a message.
func (s *Store) MarkMessageRead(ctx context.Context, messageID id.ID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE queue_job_message SET read_at = $2 WHERE id = $1`, messageID, at)
	if err != nil {
		return errors.Wrap(err, "queuejob/postgres: mark message read")
	}
	if tag.RowsAffected() == 0 {
		return queuejob.ErrMessageNotFound
	}
	return nil
}

// PurgeMessages removes messages created before the given time.
func (s *Store) PurgeMessages(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_job_message WHERE created_at < $1`, before)
	if err != nil {
		return 0, errors.Wrap(err, "queuejob/postgres: purge messages")
	}
	return tag.RowsAffected(), nil
}

// CountMessages returns the number of stored messages.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_job_message`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "queuejob/postgres: count messages")
	}
	return count, nil
}

func scanMessage(row pgx.Row) (*message.Message, error) {
	var m message.Message
	if err := row.Scan(
		&m.ID, &m.JobUUID, &m.Audience, &m.Subject, &m.Body, &m.ExcName, &m.UserID, &m.CreatedAt, &m.ReadAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}
