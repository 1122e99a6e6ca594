package job

import (
	"context"
	"time"

	"github.com/xraph/queuejob/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// State filters by state. Empty means all states.
	State State
	// Channel filters by exact channel path. Empty means all channels.
	Channel string
	// BatchID filters by batch. Nil means all batches.
	BatchID id.ID
	// GraphUUID filters by dependency graph.
	GraphUUID string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	State   State
	Channel string
	BatchID id.ID
}

// VacuumOpts selects done and cancelled jobs to delete.
type VacuumOpts struct {
	// Before is the cutoff on date_done or date_cancelled.
	Before time.Time
	// Channel restricts the deletion to one channel path.
	Channel string
	// ExcludeChannels skips jobs of these channels when Channel is empty.
	ExcludeChannels []string
	// Limit bounds the number of deleted rows. Zero means no limit.
	Limit int
}

// LeaseStore is the part of the store the runner schedules with. Every
// method is a single atomic statement.
type LeaseStore interface {
	// ListSchedulable returns the rows of jobs in wait_dependencies,
	// pending, enqueued or started state.
	ListSchedulable(ctx context.Context) ([]Row, error)

	// GetRows returns the rows of the given uuids. Unknown uuids are
	// skipped.
	GetRows(ctx context.Context, uuids []string) ([]Row, error)

	// Lease moves a job from pending to enqueued, stamping date_enqueued.
	// It reports false when the job was not pending.
	Lease(ctx context.Context, uuid string, now time.Time) (bool, error)

	// ResetLease moves a job from enqueued back to pending, clearing its
	// lease dates. It reports false when the job was no longer enqueued.
	ResetLease(ctx context.Context, uuid string) (bool, error)

	// ListLeased returns the rows of jobs in enqueued or started state.
	ListLeased(ctx context.Context) ([]Row, error)

	// ResetStale moves a job in state back to pending when its
	// date_enqueued (enqueued) or date_started (started) is before cutoff.
	ResetStale(ctx context.Context, uuid string, state State, cutoff time.Time) (bool, error)
}

// Store defines the persistence contract for jobs.
type Store interface {
	LeaseStore

	// InsertJob stores a prepared job. When its identity key already
	// belongs to an outstanding job nothing is inserted and the existing
	// uuid is returned.
	InsertJob(ctx context.Context, j *Job) (existing string, err error)

	// InsertGraph stores prepared jobs in one transaction. A job whose
	// identity key collides with an outstanding job is stored with an empty
	// key.
	InsertGraph(ctx context.Context, jobs []*Job) error

	// FindByIdentity maps each key held by an outstanding job to its uuid.
	FindByIdentity(ctx context.Context, keys []string) (map[string]string, error)

	// GetJob retrieves a job by uuid.
	GetJob(ctx context.Context, uuid string) (*Job, error)

	// UpdateJob writes the non-protected fields of a stored job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by uuid.
	DeleteJob(ctx context.Context, uuid string) error

	// StartJob locks an enqueued job, moves it to started and returns it.
	// It returns ErrJobNotFound when the job is not enqueued.
	StartJob(ctx context.Context, uuid string, pid int, hostname string, now time.Time) (*Job, error)

	// CompleteJob writes j like UpdateJob and, when j is done, releases in
	// the same transaction its dependents whose depends_on are now all
	// done. It returns the released uuids.
	CompleteJob(ctx context.Context, j *Job) (released []string, err error)

	// EnqueueWaiting moves the given jobs from wait_dependencies to pending
	// when all their depends_on jobs are done, and returns the moved uuids.
	EnqueueWaiting(ctx context.Context, uuids []string) ([]string, error)

	// ListJobs returns jobs matching opts ordered by seq.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// VacuumJobs deletes done and cancelled jobs selected by opts.
	VacuumJobs(ctx context.Context, opts VacuumOpts) (int64, error)

	CatalogStore
}
