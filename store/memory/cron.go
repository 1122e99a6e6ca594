package memory

import (
	"context"
	"sort"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/cron"
	"github.com/xraph/queuejob/id"
)

// RegisterCron persists a new cron entry. Names are unique.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return queuejob.ErrDuplicateCron
		}
	}
	cp := *entry
	m.crons[entry.ID.String()] = &cp
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.ID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, queuejob.ErrCronNotFound
	}
	cp := *e
	return &cp, nil
}

// ListCrons returns all cron entries, oldest first.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// AcquireCronLock locks a cron entry unless another runner holds an
// unexpired lock.
func (m *Store) AcquireCronLock(_ context.Context, entryID id.ID, runnerID id.ID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return false, queuejob.ErrCronNotFound
	}
	now := time.Now().UTC()
	if e.LockedBy != "" && e.LockedBy != runnerID.String() && e.LockedUntil != nil && e.LockedUntil.After(now) {
		return false, nil
	}
	e.LockedBy = runnerID.String()
	until := now.Add(ttl)
	e.LockedUntil = &until
	return true, nil
}

// ReleaseCronLock releases the lock held by runnerID.
func (m *Store) ReleaseCronLock(_ context.Context, entryID id.ID, runnerID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return queuejob.ErrCronNotFound
	}
	if e.LockedBy != runnerID.String() {
		return nil
	}
	e.LockedBy = ""
	e.LockedUntil = nil
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (m *Store) UpdateCronLastRun(_ context.Context, entryID id.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return queuejob.ErrCronNotFound
	}
	e.LastRunAt = &at
	e.Touch()
	return nil
}

// UpdateCronEntry updates the mutable fields of a cron entry. The lock is
// left untouched.
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	cur, ok := m.crons[key]
	if !ok {
		return queuejob.ErrCronNotFound
	}
	cp := *entry
	cp.LockedBy, cp.LockedUntil = cur.LockedBy, cur.LockedUntil
	cp.Touch()
	m.crons[key] = &cp
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return queuejob.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}
