package cluster

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/queuejob/id"
)

// MemberOption configures a Member.
type MemberOption func(*Member)

// WithLeaderTTL sets the leader lease duration.
func WithLeaderTTL(d time.Duration) MemberOption {
	return func(m *Member) { m.leaderTTL = d }
}

// WithReapThreshold sets how long a runner may miss heartbeats before it
// is removed.
func WithReapThreshold(d time.Duration) MemberOption {
	return func(m *Member) { m.reapAfter = d }
}

// WithLogger sets the member logger.
func WithLogger(l *slog.Logger) MemberOption {
	return func(m *Member) { m.logger = l }
}

// Member is the registry entry of the local runner.
type Member struct {
	store     Store
	self      *Runner
	logger    *slog.Logger
	leaderTTL time.Duration
	reapAfter time.Duration
}

// NewMember describes the local process as a runner serving databases.
func NewMember(store Store, applicationName string, databases []string, opts ...MemberOption) *Member {
	host, _ := os.Hostname()
	now := time.Now().UTC()
	m := &Member{
		store: store,
		self: &Runner{
			ID:              id.NewRunnerID(),
			Hostname:        host,
			PID:             os.Getpid(),
			ApplicationName: applicationName,
			Databases:       databases,
			State:           RunnerActive,
			LastSeen:        now,
			CreatedAt:       now,
		},
		logger:    slog.Default(),
		leaderTTL: 15 * time.Second,
		reapAfter: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the local runner id.
func (m *Member) ID() id.ID { return m.self.ID }

// Runner returns a copy of the local runner row.
func (m *Member) Runner() Runner { return *m.self }

// Join registers the local runner.
func (m *Member) Join(ctx context.Context) error {
	if err := m.store.RegisterRunner(ctx, m.self); err != nil {
		return errors.Wrap(err, "cluster: register runner")
	}
	m.logger.Info("runner registered",
		slog.String("runner_id", m.self.ID.String()),
		slog.String("application_name", m.self.ApplicationName),
	)
	return nil
}

// Beat heartbeats the local runner and reaps the dead ones.
func (m *Member) Beat(ctx context.Context) error {
	if err := m.store.HeartbeatRunner(ctx, m.self.ID); err != nil {
		return errors.Wrap(err, "cluster: heartbeat")
	}
	dead, err := m.store.ReapDeadRunners(ctx, m.reapAfter)
	if err != nil {
		return errors.Wrap(err, "cluster: reap")
	}
	for _, r := range dead {
		m.logger.Warn("reaped dead runner",
			slog.String("runner_id", r.ID.String()),
			slog.String("hostname", r.Hostname),
			slog.Time("last_seen", r.LastSeen),
		)
	}
	return nil
}

// Leave deregisters the local runner.
func (m *Member) Leave(ctx context.Context) error {
	if err := m.store.DeregisterRunner(ctx, m.self.ID); err != nil {
		return errors.Wrap(err, "cluster: deregister runner")
	}
	return nil
}

// TryLeadership renews the lease when held, else tries to acquire it.
func (m *Member) TryLeadership(ctx context.Context) (bool, error) {
	renewed, err := m.store.RenewLeadership(ctx, m.self.ID, m.leaderTTL)
	if err != nil {
		return false, errors.Wrap(err, "cluster: renew leadership")
	}
	if renewed {
		return true, nil
	}
	acquired, err := m.store.AcquireLeadership(ctx, m.self.ID, m.leaderTTL)
	if err != nil {
		return false, errors.Wrap(err, "cluster: acquire leadership")
	}
	if acquired {
		m.logger.Info("acquired leadership", slog.String("runner_id", m.self.ID.String()))
	}
	return acquired, nil
}

// IsLeader reports whether the local runner holds the lease.
func (m *Member) IsLeader(ctx context.Context) (bool, error) {
	leader, err := m.store.GetLeader(ctx)
	if err != nil {
		return false, errors.Wrap(err, "cluster: get leader")
	}
	return leader != nil && leader.ID.String() == m.self.ID.String(), nil
}

// LeaderTTL returns the lease duration.
func (m *Member) LeaderTTL() time.Duration { return m.leaderTTL }
