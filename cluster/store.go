package cluster

import (
	"context"
	"time"

	"github.com/xraph/queuejob/id"
)

// Store defines the persistence contract of the runner registry
// (queue_job_runner).
type Store interface {
	// RegisterRunner adds or replaces a runner row.
	RegisterRunner(ctx context.Context, r *Runner) error

	// DeregisterRunner removes a runner row.
	DeregisterRunner(ctx context.Context, runnerID id.ID) error

	// HeartbeatRunner updates the last-seen timestamp of a runner.
	HeartbeatRunner(ctx context.Context, runnerID id.ID) error

	// ListRunners returns all registered runners, oldest first.
	ListRunners(ctx context.Context) ([]*Runner, error)

	// ReapDeadRunners deletes the runners not seen for threshold and
	// returns them.
	ReapDeadRunners(ctx context.Context, threshold time.Duration) ([]*Runner, error)

	// AcquireLeadership makes runnerID the leader when no other runner
	// holds an unexpired lease. The lease expires after ttl.
	AcquireLeadership(ctx context.Context, runnerID id.ID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the lease held by runnerID.
	RenewLeadership(ctx context.Context, runnerID id.ID, ttl time.Duration) (bool, error)

	// GetLeader returns the current leader, or nil if the lease expired.
	GetLeader(ctx context.Context) (*Runner, error)
}
