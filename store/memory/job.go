package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/job"
)

// ──────────────────────────────────────────────────
// Trigger
// ──────────────────────────────────────────────────

// changed publishes uuid the way the queue_job trigger does on insert and
// update. Caller holds m.mu.
func (m *Store) changed(uuid string) { m.hub.publish(uuid) }

// deleted publishes uuid unless the deleted row was done. Caller holds m.mu.
func (m *Store) deleted(j *job.Job) {
	if j.State != job.StateDone {
		m.hub.publish(j.UUID)
	}
}

// identityTaken returns the outstanding job holding key, other than
// except. Caller holds m.mu.
func (m *Store) identityTaken(key, except string) (string, bool) {
	if key == "" {
		return "", false
	}
	for uuid, j := range m.jobs {
		if uuid != except && j.IdentityKey == key && j.State.Outstanding() {
			return uuid, true
		}
	}
	return "", false
}

// put stores a copy of j with the next seq. Caller holds m.mu.
func (m *Store) put(j *job.Job) {
	m.seq++
	j.Seq = m.seq
	m.jobs[j.UUID] = j.Clone()
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// InsertJob stores a prepared job unless its identity key is taken.
func (m *Store) InsertJob(_ context.Context, j *job.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.identityTaken(j.IdentityKey, ""); ok {
		return existing, nil
	}
	if _, exists := m.jobs[j.UUID]; exists {
		return "", queuejob.ErrJobAlreadyExists
	}
	m.put(j)
	m.changed(j.UUID)
	return "", nil
}

// InsertGraph stores all jobs or none.
func (m *Store) InsertGraph(_ context.Context, jobs []*job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if _, exists := m.jobs[j.UUID]; exists || seen[j.UUID] {
			return queuejob.ErrJobAlreadyExists
		}
		seen[j.UUID] = true
	}
	keys := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.IdentityKey == "" {
			continue
		}
		if _, taken := m.identityTaken(j.IdentityKey, ""); taken || (keys[j.IdentityKey] && j.State.Outstanding()) {
			j.IdentityKey = ""
			continue
		}
		if j.State.Outstanding() {
			keys[j.IdentityKey] = true
		}
	}
	for _, j := range jobs {
		m.put(j)
	}
	for _, j := range jobs {
		m.changed(j.UUID)
	}
	return nil
}

// FindByIdentity maps keys held by outstanding jobs to their uuids.
func (m *Store) FindByIdentity(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if uuid, ok := m.identityTaken(k, ""); ok {
			out[k] = uuid
		}
	}
	return out, nil
}

// GetJob retrieves a job by uuid.
func (m *Store) GetJob(_ context.Context, uuid string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[uuid]
	if !ok {
		return nil, queuejob.NoSuchJob(uuid)
	}
	return j.Clone(), nil
}

// UpdateJob writes every field of j except the protected ones.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(j)
}

// CompleteJob writes j and releases its dependents under one lock.
func (m *Store) CompleteJob(_ context.Context, j *job.Job) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.jobs[j.UUID]
	if err := m.update(j); err != nil {
		return nil, err
	}
	if j.State != job.StateDone {
		return nil, nil
	}
	released, err := m.enqueueWaiting(j.ReverseDependsOn)
	if err != nil {
		m.jobs[j.UUID] = prev
		return nil, err
	}
	return released, nil
}

// update writes j. Caller holds m.mu.
func (m *Store) update(j *job.Job) error {
	cur, ok := m.jobs[j.UUID]
	if !ok {
		return queuejob.NoSuchJob(j.UUID)
	}
	if j.State.Outstanding() {
		if _, taken := m.identityTaken(j.IdentityKey, j.UUID); taken {
			return queuejob.ErrJobAlreadyExists
		}
	}
	next := j.Clone()
	next.Seq = cur.Seq
	next.Model, next.Method = cur.Model, cur.Method
	next.Records, next.Args, next.Kwargs = cur.Records, cur.Args, cur.Kwargs
	next.Description = cur.Description
	next.DateCreated = cur.DateCreated
	m.jobs[j.UUID] = next
	m.changed(j.UUID)
	return nil
}

// DeleteJob removes a job by uuid.
func (m *Store) DeleteJob(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[uuid]
	if !ok {
		return queuejob.NoSuchJob(uuid)
	}
	delete(m.jobs, uuid)
	m.deleted(j)
	return nil
}

// StartJob moves an enqueued job to started.
func (m *Store) StartJob(_ context.Context, uuid string, pid int, hostname string, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[uuid]
	if !ok || j.State != job.StateEnqueued {
		return nil, queuejob.NoSuchJob(uuid)
	}
	if err := j.SetStarted(now, pid, hostname); err != nil {
		return nil, err
	}
	m.changed(uuid)
	return j.Clone(), nil
}

// EnqueueWaiting releases the waiting jobs whose dependencies are all done.
func (m *Store) EnqueueWaiting(_ context.Context, uuids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueueWaiting(uuids)
}

// enqueueWaiting releases uuids, all or none. Caller holds m.mu.
func (m *Store) enqueueWaiting(uuids []string) ([]string, error) {
	var next []*job.Job
	for _, uuid := range uuids {
		j, ok := m.jobs[uuid]
		if !ok || j.State != job.StateWaitDependencies {
			continue
		}
		if !m.dependenciesDone(j) {
			continue
		}
		cp := j.Clone()
		if err := cp.SetPending(false); err != nil {
			return nil, err
		}
		next = append(next, cp)
	}
	moved := make([]string, 0, len(next))
	for _, j := range next {
		m.jobs[j.UUID] = j
		moved = append(moved, j.UUID)
		m.changed(j.UUID)
	}
	return moved, nil
}

// dependenciesDone reports whether every depends_on job is done. A missing
// dependency counts as not done. Caller holds m.mu.
func (m *Store) dependenciesDone(j *job.Job) bool {
	for _, dep := range j.DependsOn {
		d, ok := m.jobs[dep]
		if !ok || d.State != job.StateDone {
			return false
		}
	}
	return true
}

// ListJobs returns jobs matching opts ordered by seq.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Channel != "" && j.Channel != opts.Channel {
			continue
		}
		if !opts.BatchID.IsNil() && j.BatchID.String() != opts.BatchID.String() {
			continue
		}
		if opts.GraphUUID != "" && j.GraphUUID != opts.GraphUUID {
			continue
		}
		result = append(result, j.Clone())
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Seq < result[k].Seq })
	return page(result, opts.Offset, opts.Limit), nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Channel != "" && j.Channel != opts.Channel {
			continue
		}
		if !opts.BatchID.IsNil() && j.BatchID.String() != opts.BatchID.String() {
			continue
		}
		count++
	}
	return count, nil
}

// VacuumJobs deletes done and cancelled jobs older than opts.Before.
func (m *Store) VacuumJobs(_ context.Context, opts job.VacuumOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var victims []*job.Job
	for _, j := range m.jobs {
		var at *time.Time
		switch j.State {
		case job.StateDone:
			at = j.DateDone
		case job.StateCancelled:
			at = j.DateCancelled
		default:
			continue
		}
		if at == nil || !at.Before(opts.Before) {
			continue
		}
		if opts.Channel != "" && j.Channel != opts.Channel {
			continue
		}
		if opts.Channel == "" && slices.Contains(opts.ExcludeChannels, j.Channel) {
			continue
		}
		victims = append(victims, j)
	}
	sort.Slice(victims, func(i, k int) bool { return victims[i].Seq < victims[k].Seq })
	victims = page(victims, 0, opts.Limit)
	for _, j := range victims {
		delete(m.jobs, j.UUID)
		m.deleted(j)
	}
	return int64(len(victims)), nil
}

// ──────────────────────────────────────────────────
// Lease Store
// ──────────────────────────────────────────────────

var schedulable = []job.State{job.StateWaitDependencies, job.StatePending, job.StateEnqueued, job.StateStarted}

// ListSchedulable returns the rows the runner hydrates from.
func (m *Store) ListSchedulable(_ context.Context) ([]job.Row, error) {
	return m.rows(func(j *job.Job) bool { return slices.Contains(schedulable, j.State) }), nil
}

// ListLeased returns the rows of enqueued and started jobs.
func (m *Store) ListLeased(_ context.Context) ([]job.Row, error) {
	return m.rows(func(j *job.Job) bool { return j.State.Leased() }), nil
}

// GetRows returns the rows of the known uuids.
func (m *Store) GetRows(_ context.Context, uuids []string) ([]job.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]job.Row, 0, len(uuids))
	for _, uuid := range uuids {
		if j, ok := m.jobs[uuid]; ok {
			out = append(out, j.Row())
		}
	}
	return out, nil
}

func (m *Store) rows(keep func(*job.Job) bool) []job.Row {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]job.Row, 0, len(m.jobs))
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, j.Row())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	return out
}

// Lease moves a pending job to enqueued.
func (m *Store) Lease(_ context.Context, uuid string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[uuid]
	if !ok || j.State != job.StatePending {
		return false, nil
	}
	if err := j.SetEnqueued(now); err != nil {
		return false, err
	}
	m.changed(uuid)
	return true, nil
}

// ResetLease moves an enqueued job back to pending.
func (m *Store) ResetLease(_ context.Context, uuid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[uuid]
	if !ok || j.State != job.StateEnqueued {
		return false, nil
	}
	j.State = job.StatePending
	j.DateEnqueued = nil
	j.DateStarted = nil
	m.changed(uuid)
	return true, nil
}

// ResetStale moves a job whose lease started before cutoff back to pending.
func (m *Store) ResetStale(_ context.Context, uuid string, state job.State, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[uuid]
	if !ok || j.State != state {
		return false, nil
	}
	var since *time.Time
	switch state {
	case job.StateEnqueued:
		since = j.DateEnqueued
	case job.StateStarted:
		since = j.DateStarted
	default:
		return false, nil
	}
	if since == nil || !since.Before(cutoff) {
		return false, nil
	}
	if err := j.SetPending(false); err != nil {
		return false, err
	}
	m.changed(uuid)
	return true, nil
}
