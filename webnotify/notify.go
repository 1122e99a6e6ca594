package webnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/ext"
	"github.com/xraph/queuejob/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Notifier)(nil)
	_ ext.JobFailed     = (*Notifier)(nil)
	_ ext.BatchFinished = (*Notifier)(nil)
)

const channelPrefix = "queue_job:notify:"

// Channel returns the Redis channel of user uid's notifications.
func Channel(uid int64) string {
	return channelPrefix + strconv.FormatInt(uid, 10)
}

// Notification is the payload published to an owner.
type Notification struct {
	UserID  int64  `json:"user_id"`
	JobUUID string `json:"job_uuid,omitempty"`
	BatchID string `json:"batch_id,omitempty"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// Publisher is the part of a Redis client the Notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// Notifier publishes owner notifications. A failed job is published when
// its function has NotifyOwner set and the job has a user.
type Notifier struct {
	client   Publisher
	registry *job.Registry
	logger   *slog.Logger
}

// NewNotifier creates a Notifier publishing through client.
func NewNotifier(client Publisher, registry *job.Registry, opts ...Option) *Notifier {
	n := &Notifier{client: client, registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements ext.Extension.
func (n *Notifier) Name() string { return "webnotify" }

// OnJobFailed implements ext.JobFailed.
func (n *Notifier) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
	if j.UserID == 0 || n.registry == nil {
		return nil
	}
	fn, ok := n.registry.Function(j.MethodName())
	if !ok || !fn.NotifyOwner {
		return nil
	}
	msg := fmt.Sprintf("Job %q failed", j.Description)
	if err != nil {
		msg += ": " + err.Error()
	}
	return n.Publish(ctx, Notification{
		UserID:  j.UserID,
		JobUUID: j.UUID,
		State:   string(j.State),
		Message: msg,
	})
}

// OnBatchFinished implements ext.BatchFinished.
func (n *Notifier) OnBatchFinished(ctx context.Context, b *batch.Batch) error {
	if b.UserID == 0 {
		return nil
	}
	return n.Publish(ctx, Notification{
		UserID:  b.UserID,
		BatchID: b.ID.String(),
		State:   string(b.State),
		Message: fmt.Sprintf("Batch %q finished: %d jobs, %d failed", b.Name, b.JobCount, b.FailedCount),
	})
}

// Publish sends note to its user's channel.
func (n *Notifier) Publish(ctx context.Context, note Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return errors.Wrap(err, "webnotify: marshal notification")
	}
	receivers, err := n.client.Publish(ctx, Channel(note.UserID), payload).Result()
	if err != nil {
		return errors.Wrapf(err, "webnotify: publish to user %d", note.UserID)
	}
	n.logger.Debug("owner notified",
		slog.Int64("user_id", note.UserID),
		slog.String("state", note.State),
		slog.Int64("receivers", receivers),
	)
	return nil
}
