package admin

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/xraph/queuejob/job"
)

// AutovacuumFunction is the job function running Autovacuum.
var AutovacuumFunction = job.Function{
	Model:       "queue.job",
	Method:      "autovacuum",
	Channel:     job.DefaultChannel,
	Description: "Delete old done and cancelled jobs",
}

// Autovacuum deletes the done and cancelled jobs older than the removal
// interval of their channel. Channels without a persisted interval use
// the service default. It returns the number of deleted jobs.
func (s *Service) Autovacuum(ctx context.Context) (int64, error) {
	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "admin: autovacuum: list channels")
	}
	now := s.now()

	var (
		total    int64
		specific []string
	)
	for _, c := range channels {
		if c.RemovalInterval <= 0 {
			continue
		}
		n, err := s.store.VacuumJobs(ctx, job.VacuumOpts{
			Before:  now.Add(-c.RemovalInterval),
			Channel: c.Name,
		})
		if err != nil {
			return total, errors.Wrapf(err, "admin: autovacuum channel %s", c.Name)
		}
		total += n
		specific = append(specific, c.Name)
	}

	n, err := s.store.VacuumJobs(ctx, job.VacuumOpts{
		Before:          now.Add(-s.removalInterval),
		ExcludeChannels: specific,
	})
	if err != nil {
		return total, errors.Wrap(err, "admin: autovacuum")
	}
	total += n

	s.logger.Info("autovacuum done", slog.Int64("deleted", total))
	return total, nil
}

// RegisterAutovacuum registers AutovacuumFunction on reg, running
// Autovacuum of s.
func RegisterAutovacuum(reg *job.Registry, s *Service) {
	RegisterAutovacuumFunc(reg, func(context.Context) (*Service, error) { return s, nil })
}

// RegisterAutovacuumFunc registers AutovacuumFunction on reg, running
// Autovacuum of the service resolve returns for the job's context.
func RegisterAutovacuumFunc(reg *job.Registry, resolve func(ctx context.Context) (*Service, error)) {
	job.Register(reg, AutovacuumFunction, func(ctx context.Context, _ job.Call) (any, error) {
		s, err := resolve(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "admin: autovacuum")
		}
		n, err := s.Autovacuum(ctx)
		if err != nil {
			return nil, err
		}
		return strconv.FormatInt(n, 10) + " jobs deleted", nil
	})
}
