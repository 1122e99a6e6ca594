package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/queuejob/job"
)

const day = 24 * time.Hour

// UpsertChannel stores a channel record by name.
func (s *Store) UpsertChannel(ctx context.Context, c job.ChannelRecord) error {
	var parent *string
	if c.Parent != "" {
		parent = &c.Parent
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_job_channel (name, parent, capacity, sequential, removal_interval)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			parent = EXCLUDED.parent,
			capacity = EXCLUDED.capacity,
			sequential = EXCLUDED.sequential,
			removal_interval = EXCLUDED.removal_interval`,
		c.Name, parent, c.Capacity, c.Sequential, int(c.RemovalInterval/day),
	)
	if err != nil {
		return errors.Wrapf(err, "queuejob/postgres: upsert channel %s", c.Name)
	}
	return nil
}

// ListChannels returns channel records sorted by name.
func (s *Store) ListChannels(ctx context.Context) ([]job.ChannelRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, COALESCE(parent, ''), capacity, sequential, removal_interval
		FROM queue_job_channel ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: list channels")
	}
	defer rows.Close()

	var out []job.ChannelRecord
	for rows.Next() {
		var c job.ChannelRecord
		var days int
		if err := rows.Scan(&c.Name, &c.Parent, &c.Capacity, &c.Sequential, &days); err != nil {
			return nil, errors.Wrap(err, "queuejob/postgres: scan channel")
		}
		c.RemovalInterval = time.Duration(days) * day
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertFunction stores a function configuration by name.
func (s *Store) UpsertFunction(ctx context.Context, fn job.Function) error {
	pattern, err := json.Marshal(fn.RetryPattern)
	if err != nil {
		return errors.Wrapf(err, "queuejob/postgres: encode retry pattern of %s", fn.Name())
	}
	related, err := json.Marshal(fn.RelatedAction)
	if err != nil {
		return errors.Wrapf(err, "queuejob/postgres: encode related action of %s", fn.Name())
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO queue_job_function (name, model, method, channel, retry_pattern, related_action, notify_owner, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			channel = EXCLUDED.channel,
			retry_pattern = EXCLUDED.retry_pattern,
			related_action = EXCLUDED.related_action,
			notify_owner = EXCLUDED.notify_owner,
			description = EXCLUDED.description`,
		fn.Name(), fn.Model, fn.Method, fn.ChannelOrDefault(), pattern, related, fn.NotifyOwner, fn.Description,
	)
	if err != nil {
		return errors.Wrapf(err, "queuejob/postgres: upsert function %s", fn.Name())
	}
	return nil
}

// ListFunctions returns function configurations sorted by name. Malformed
// JSON columns fail the read.
func (s *Store) ListFunctions(ctx context.Context) ([]job.Function, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT model, method, channel, retry_pattern, related_action, notify_owner, description
		FROM queue_job_function ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/postgres: list functions")
	}
	defer rows.Close()

	var out []job.Function
	for rows.Next() {
		var fn job.Function
		var pattern, related []byte
		if err := rows.Scan(&fn.Model, &fn.Method, &fn.Channel, &pattern, &related, &fn.NotifyOwner, &fn.Description); err != nil {
			return nil, errors.Wrap(err, "queuejob/postgres: scan function")
		}
		if err := json.Unmarshal(pattern, &fn.RetryPattern); err != nil {
			return nil, errors.Wrapf(err, "queuejob/postgres: retry pattern of %s", fn.Name())
		}
		if err := json.Unmarshal(related, &fn.RelatedAction); err != nil {
			return nil, errors.Wrapf(err, "queuejob/postgres: related action of %s", fn.Name())
		}
		out = append(out, fn)
	}
	return out, rows.Err()
}
