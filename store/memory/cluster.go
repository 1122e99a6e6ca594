package memory

import (
	"context"
	"sort"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/cluster"
	"github.com/xraph/queuejob/id"
)

// RegisterRunner adds or replaces a runner.
func (m *Store) RegisterRunner(_ context.Context, r *cluster.Runner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.runners[r.ID.String()] = &cp
	return nil
}

// DeregisterRunner removes a runner and drops its leadership.
func (m *Store) DeregisterRunner(_ context.Context, runnerID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runnerID.String()
	if _, ok := m.runners[key]; !ok {
		return queuejob.ErrRunnerNotFound
	}
	delete(m.runners, key)
	if m.leader == key {
		m.leader = ""
	}
	return nil
}

// HeartbeatRunner updates the last-seen timestamp of a runner.
func (m *Store) HeartbeatRunner(_ context.Context, runnerID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runners[runnerID.String()]
	if !ok {
		return queuejob.ErrRunnerNotFound
	}
	r.LastSeen = time.Now().UTC()
	return nil
}

// ListRunners returns all registered runners, oldest first.
func (m *Store) ListRunners(_ context.Context) ([]*cluster.Runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Runner, 0, len(m.runners))
	for _, r := range m.runners {
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ReapDeadRunners deletes and returns the runners not seen for threshold.
func (m *Store) ReapDeadRunners(_ context.Context, threshold time.Duration) ([]*cluster.Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Runner
	for key, r := range m.runners {
		if r.LastSeen.Before(cutoff) {
			cp := *r
			cp.State = cluster.RunnerDead
			dead = append(dead, &cp)
			delete(m.runners, key)
			if m.leader == key {
				m.leader = ""
			}
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the leader.
func (m *Store) AcquireLeadership(_ context.Context, runnerID id.ID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := runnerID.String()
	if m.leader != "" && m.leaderUntil.After(now) && m.leader != key {
		return false, nil
	}
	if prev, ok := m.runners[m.leader]; ok && m.leader != key {
		prev.IsLeader = false
		prev.LeaderUntil = nil
	}
	m.leader = key
	m.leaderUntil = now.Add(ttl)
	if r, ok := m.runners[key]; ok {
		r.IsLeader = true
		until := m.leaderUntil
		r.LeaderUntil = &until
	}
	return true, nil
}

// RenewLeadership extends the lease held by runnerID.
func (m *Store) RenewLeadership(_ context.Context, runnerID id.ID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runnerID.String()
	if m.leader != key || m.leaderUntil.Before(time.Now().UTC()) {
		return false, nil
	}
	m.leaderUntil = time.Now().UTC().Add(ttl)
	if r, ok := m.runners[key]; ok {
		until := m.leaderUntil
		r.LeaderUntil = &until
	}
	return true, nil
}

// GetLeader returns the current leader, or nil.
func (m *Store) GetLeader(_ context.Context) (*cluster.Runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}
	r, ok := m.runners[m.leader]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}
