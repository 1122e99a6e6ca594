package ext

import (
	"context"
	"time"

	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobDelayed is called after a job is stored by a delay call.
type JobDelayed interface {
	OnJobDelayed(ctx context.Context, j *job.Job) error
}

// JobEnqueued is called when the runner leased a job and dispatched it.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, db string, row job.Row) error
}

// JobStarted is called when the executor moved a job to started.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobDone is called after a job finished successfully.
type JobDone interface {
	OnJobDone(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job ends in failed.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobPostponed is called when a retryable failure sends a job back to
// pending.
type JobPostponed interface {
	OnJobPostponed(ctx context.Context, j *job.Job, eta time.Time) error
}

// LeaseReset is called when the runner returns a leased job to pending,
// after a failed dispatch or a stuck lease.
type LeaseReset interface {
	OnLeaseReset(ctx context.Context, db, uuid string, reason string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// BatchFinished is called once when every job of a batch is done.
type BatchFinished interface {
	OnBatchFinished(ctx context.Context, b *batch.Batch) error
}

// CronFired is called when a cron entry fires and delays a job.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, jobUUID string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
