package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type jobDelayedEntry struct {
	name string
	hook JobDelayed
}

type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobDoneEntry struct {
	name string
	hook JobDone
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobPostponedEntry struct {
	name string
	hook JobPostponed
}

type leaseResetEntry struct {
	name string
	hook LeaseReset
}

type batchFinishedEntry struct {
	name string
	hook BatchFinished
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the first emit; emits are safe for
// concurrent use afterwards. A nil *Registry drops every event.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobDelayed    []jobDelayedEntry
	jobEnqueued   []jobEnqueuedEntry
	jobStarted    []jobStartedEntry
	jobDone       []jobDoneEntry
	jobFailed     []jobFailedEntry
	jobPostponed  []jobPostponedEntry
	leaseReset    []leaseResetEntry
	batchFinished []batchFinishedEntry
	cronFired     []cronFiredEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobDelayed); ok {
		r.jobDelayed = append(r.jobDelayed, jobDelayedEntry{name, h})
	}
	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobDone); ok {
		r.jobDone = append(r.jobDone, jobDoneEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobPostponed); ok {
		r.jobPostponed = append(r.jobPostponed, jobPostponedEntry{name, h})
	}
	if h, ok := e.(LeaseReset); ok {
		r.leaseReset = append(r.leaseReset, leaseResetEntry{name, h})
	}
	if h, ok := e.(BatchFinished); ok {
		r.batchFinished = append(r.batchFinished, batchFinishedEntry{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	if r == nil {
		return nil
	}
	return r.extensions
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobDelayed notifies all extensions that implement JobDelayed.
func (r *Registry) EmitJobDelayed(ctx context.Context, j *job.Job) {
	if r == nil {
		return
	}
	for _, e := range r.jobDelayed {
		if err := e.hook.OnJobDelayed(ctx, j); err != nil {
			r.logHookError("OnJobDelayed", e.name, err)
		}
	}
}

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, db string, row job.Row) {
	if r == nil {
		return
	}
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, db, row); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	if r == nil {
		return
	}
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobDone notifies all extensions that implement JobDone.
func (r *Registry) EmitJobDone(ctx context.Context, j *job.Job, elapsed time.Duration) {
	if r == nil {
		return
	}
	for _, e := range r.jobDone {
		if err := e.hook.OnJobDone(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobDone", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	if r == nil {
		return
	}
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobPostponed notifies all extensions that implement JobPostponed.
func (r *Registry) EmitJobPostponed(ctx context.Context, j *job.Job, eta time.Time) {
	if r == nil {
		return
	}
	for _, e := range r.jobPostponed {
		if err := e.hook.OnJobPostponed(ctx, j, eta); err != nil {
			r.logHookError("OnJobPostponed", e.name, err)
		}
	}
}

// EmitLeaseReset notifies all extensions that implement LeaseReset.
func (r *Registry) EmitLeaseReset(ctx context.Context, db, uuid, reason string) {
	if r == nil {
		return
	}
	for _, e := range r.leaseReset {
		if err := e.hook.OnLeaseReset(ctx, db, uuid, reason); err != nil {
			r.logHookError("OnLeaseReset", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitBatchFinished notifies all extensions that implement BatchFinished.
func (r *Registry) EmitBatchFinished(ctx context.Context, b *batch.Batch) {
	if r == nil {
		return
	}
	for _, e := range r.batchFinished {
		if err := e.hook.OnBatchFinished(ctx, b); err != nil {
			r.logHookError("OnBatchFinished", e.name, err)
		}
	}
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName, jobUUID string) {
	if r == nil {
		return
	}
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName, jobUUID); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	if r == nil {
		return
	}
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
