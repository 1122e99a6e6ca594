package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/id"
	"github.com/xraph/queuejob/job"
)

// DefaultRemovalInterval is the retention of done and cancelled jobs of
// channels without their own.
const DefaultRemovalInterval = 30 * 24 * time.Hour

// Result lists the uuids an action changed and the ones it skipped.
type Result struct {
	Changed []string `json:"changed"`
	Skipped []string `json:"skipped,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithBatches re-checks the batches of changed jobs.
func WithBatches(b *batch.Service) Option {
	return func(s *Service) { s.batches = b }
}

// WithRemovalInterval sets the default retention used by Autovacuum.
func WithRemovalInterval(d time.Duration) Option {
	return func(s *Service) { s.removalInterval = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service provides the operator actions over a job store.
type Service struct {
	store           job.Store
	batches         *batch.Service
	removalInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// NewService creates an admin service.
func NewService(store job.Store, opts ...Option) *Service {
	s := &Service{
		store:           store,
		removalInterval: DefaultRemovalInterval,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Requeue moves failed, cancelled and done jobs back to pending with a
// fresh retry budget.
func (s *Service) Requeue(ctx context.Context, uuids []string) (Result, error) {
	return s.apply(ctx, uuids, "requeue", func(j *job.Job) error {
		switch j.State {
		case job.StateFailed, job.StateCancelled, job.StateDone:
		default:
			return errors.Wrapf(queuejob.ErrInvalidState, "cannot requeue a %s job", j.State)
		}
		j.ETA = nil
		return j.SetPending(true)
	})
}

// SetDone marks jobs as done on behalf of user and releases their
// dependents.
func (s *Service) SetDone(ctx context.Context, uuids []string, user string) (Result, error) {
	return s.apply(ctx, uuids, "set done", func(j *job.Job) error {
		return j.SetDone(s.now(), "Manually set to done by "+user)
	})
}

// Cancel cancels pending, waiting, enqueued and failed jobs on behalf of
// user. Their dependents keep waiting; see CascadeCancel.
func (s *Service) Cancel(ctx context.Context, uuids []string, user string) (Result, error) {
	return s.apply(ctx, uuids, "cancel", func(j *job.Job) error {
		return j.SetCancelled(s.now(), "Cancelled by "+user)
	})
}

// CascadeCancel cancels the job uuid and every job that transitively
// waits on it.
func (s *Service) CascadeCancel(ctx context.Context, uuid, user string) (Result, error) {
	var res Result
	seen := map[string]bool{uuid: true}
	queue := []string{uuid}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		j, err := s.store.GetJob(ctx, current)
		if err != nil {
			if errors.Is(err, queuejob.ErrJobNotFound) && current != uuid {
				continue
			}
			return res, errors.Wrapf(err, "admin: cascade cancel %s", current)
		}
		if current != uuid && j.State != job.StateWaitDependencies {
			continue
		}
		if err := j.SetCancelled(s.now(), "Cancelled by "+user); err != nil {
			res.Skipped = append(res.Skipped, current)
			continue
		}
		if err := s.store.UpdateJob(ctx, j); err != nil {
			return res, errors.Wrapf(err, "admin: cascade cancel %s", current)
		}
		res.Changed = append(res.Changed, current)
		s.checkBatch(ctx, j.BatchID)

		for _, child := range j.ReverseDependsOn {
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	s.logger.Info("jobs cascade-cancelled",
		slog.String("job_uuid", uuid),
		slog.Int("count", len(res.Changed)),
	)
	return res, nil
}

// apply loads each job, changes it with change and stores it. Jobs change
// refuses are skipped.
func (s *Service) apply(ctx context.Context, uuids []string, action string, change func(*job.Job) error) (Result, error) {
	var res Result
	for _, uuid := range uuids {
		j, err := s.store.GetJob(ctx, uuid)
		if err != nil {
			return res, errors.Wrapf(err, "admin: %s %s", action, uuid)
		}
		if err := change(j); err != nil {
			s.logger.Debug("job skipped",
				slog.String("action", action),
				slog.String("job_uuid", uuid),
				slog.String("reason", err.Error()),
			)
			res.Skipped = append(res.Skipped, uuid)
			continue
		}
		if _, err := s.store.CompleteJob(ctx, j); err != nil {
			return res, errors.Wrapf(err, "admin: %s %s", action, uuid)
		}
		res.Changed = append(res.Changed, uuid)
		s.checkBatch(ctx, j.BatchID)
	}
	s.logger.Info("operator action applied",
		slog.String("action", action),
		slog.Int("changed", len(res.Changed)),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

func (s *Service) checkBatch(ctx context.Context, batchID id.ID) {
	if s.batches == nil || batchID.IsNil() {
		return
	}
	if _, err := s.batches.CheckState(ctx, batchID); err != nil {
		s.logger.Warn("batch check failed",
			slog.String("batch_id", batchID.String()),
			slog.String("error", err.Error()),
		)
	}
}
