package batch

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/xraph/queuejob/id"
	"github.com/xraph/queuejob/job"
)

// Counter is the part of the job store a Service reads.
type Counter interface {
	CountJobs(ctx context.Context, opts job.CountOpts) (int64, error)
}

// FinishedFunc is called once when a batch finishes.
type FinishedFunc func(ctx context.Context, b *Batch)

// Service maintains batch states from their jobs.
type Service struct {
	store      Store
	jobs       Counter
	onFinished FinishedFunc
	logger     *slog.Logger
}

// NewService creates a batch service. onFinished may be nil.
func NewService(store Store, jobs Counter, onFinished FinishedFunc, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, jobs: jobs, onFinished: onFinished, logger: logger}
}

// Create stores a new draft batch.
func (s *Service) Create(ctx context.Context, name string, userID, companyID int64) (*Batch, error) {
	b := New(name, userID, companyID)
	if err := s.store.CreateBatch(ctx, b); err != nil {
		return nil, errors.Wrap(err, "batch: create")
	}
	return b, nil
}

// Enqueue moves a draft batch to enqueued, then checks its state.
func (s *Service) Enqueue(ctx context.Context, batchID id.ID) (*Batch, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.State == StateDraft {
		b.State = StateEnqueued
		b.Touch()
		if err := s.store.UpdateBatch(ctx, b); err != nil {
			return nil, errors.Wrap(err, "batch: enqueue")
		}
	}
	return s.check(ctx, b)
}

// CheckState refreshes the counters of a batch and advances its state.
func (s *Service) CheckState(ctx context.Context, batchID id.ID) (*Batch, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return s.check(ctx, b)
}

func (s *Service) check(ctx context.Context, b *Batch) (*Batch, error) {
	count := func(st job.State) (int64, error) {
		return s.jobs.CountJobs(ctx, job.CountOpts{BatchID: b.ID, State: st})
	}
	total, err := count("")
	if err != nil {
		return nil, errors.Wrap(err, "batch: count jobs")
	}
	byState := make(map[job.State]int64, len(job.States))
	for _, st := range job.States {
		n, err := count(st)
		if err != nil {
			return nil, errors.Wrap(err, "batch: count jobs")
		}
		byState[st] = n
	}
	done, failed := byState[job.StateDone], byState[job.StateFailed]
	b.setCounts(total, done, failed)

	finished := false
	if b.State == StateEnqueued && total-byState[job.StatePending]-byState[job.StateEnqueued]-byState[job.StateWaitDependencies] > 0 {
		b.State = StateProgress
	}
	if b.State == StateProgress && total > 0 && done == total {
		b.State = StateFinished
		b.IsRead = false
		finished = true
	}
	b.Touch()
	if err := s.store.UpdateBatch(ctx, b); err != nil {
		return nil, errors.Wrap(err, "batch: update")
	}
	if finished {
		s.logger.Info("batch finished",
			slog.String("batch_id", b.ID.String()),
			slog.String("name", b.Name),
			slog.Int64("jobs", total),
		)
		if s.onFinished != nil {
			s.onFinished(ctx, b)
		}
	}
	return b, nil
}

// MarkRead clears the unread flag of a finished batch.
func (s *Service) MarkRead(ctx context.Context, batchID id.ID) error {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	b.IsRead = true
	b.Touch()
	return s.store.UpdateBatch(ctx, b)
}

// Store returns the underlying batch store.
func (s *Service) Store() Store { return s.store }
