package channel

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/queuejob/job"
)

// DeadRetention is how long terminal jobs stay known to the manager after
// their last notification.
const DeadRetention = time.Minute

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultSubchannelCapacity sets the capacity of channels created on
// the fly. Zero or less means unlimited.
func WithDefaultSubchannelCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.defaultCapacity = n
		}
	}
}

// WithDeltas sets the global stuck lease timeouts. Zero disables a reset.
func WithDeltas(enqueued, started time.Duration) Option {
	return func(m *Manager) {
		m.enqueuedDelta = enqueued
		m.startedDelta = started
	}
}

// WithRemovalInterval sets the global retention of done jobs.
func WithRemovalInterval(d time.Duration) Option {
	return func(m *Manager) { m.removalInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager schedules the jobs of one or more databases over the channel
// tree. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	root   *Channel
	byName map[string]*Channel
	jobs   map[jobKey]*Job

	defaultCapacity int
	enqueuedDelta   time.Duration
	startedDelta    time.Duration
	removalInterval time.Duration
	logger          *slog.Logger
}

// NewManager creates a manager with a root channel of capacity 1.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		byName:          make(map[string]*Channel),
		jobs:            make(map[jobKey]*Job),
		defaultCapacity: Unlimited,
		enqueuedDelta:   5 * time.Minute,
		removalInterval: 30 * 24 * time.Hour,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.root = newChannel(RootName, nil, 1)
	m.byName[RootName] = m.root
	return m
}

// ConfigureString parses s and applies it with Configure.
func (m *Manager) ConfigureString(s string) error {
	cfgs, err := ParseConfig(s)
	if err != nil {
		return err
	}
	m.Configure(cfgs)
	return nil
}

// Configure applies cfgs. Channels configured before but absent from cfgs
// fall back to the defaults of channels created on the fly. Jobs already
// known keep their place.
func (m *Manager) Configure(cfgs []Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.root.walk(func(c *Channel) {
		if c.configured {
			c.reset(m.defaultCapacity)
		}
	})
	m.root.reset(1)
	for _, cfg := range cfgs {
		c := m.ensure(cfg.Path)
		c.apply(cfg)
		m.logger.Debug("channel configured",
			slog.String("channel", cfg.Path),
			slog.Int("capacity", cfg.Capacity),
			slog.Bool("sequential", cfg.Sequential),
		)
	}
}

// ensure returns the channel at path, creating missing nodes. Caller holds
// m.mu.
func (m *Manager) ensure(path string) *Channel {
	path = NormalizePath(path)
	if c, ok := m.byName[path]; ok {
		return c
	}
	parent := m.ensure(Parent(path))
	name := path[strings.LastIndexByte(path, '.')+1:]
	c := newChannel(name, parent, m.defaultCapacity)
	m.byName[path] = c
	m.logger.Debug("channel created", slog.String("channel", path))
	return c
}

// nearest returns the channel at path or its closest existing ancestor.
// Caller holds m.mu.
func (m *Manager) nearest(path string) *Channel {
	for p := NormalizePath(path); p != ""; p = Parent(p) {
		if c, ok := m.byName[p]; ok {
			return c
		}
	}
	return m.root
}

// Notify inserts or updates a job from its row. Calling it again with the
// same row does not change the manager's state.
func (m *Manager) Notify(db string, row job.Row, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobKey{db: db, uuid: row.UUID}
	j, ok := m.jobs[key]
	if ok {
		m.detach(j)
	} else {
		j = &Job{DB: db, UUID: row.UUID, index: -1}
		m.jobs[key] = j
	}
	j.Seq = row.Seq
	j.Priority = row.Priority
	j.DateCreated = row.DateCreated
	j.State = row.State
	j.ETA = time.Time{}
	if row.ETA != nil {
		j.ETA = *row.ETA
	}
	j.channel = m.ensure(row.Channel)
	m.place(j, now)
}

// Remove forgets a job, e.g. after its row was deleted.
func (m *Manager) Remove(db, uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobKey{db: db, uuid: uuid}
	if j, ok := m.jobs[key]; ok {
		m.detach(j)
		delete(m.jobs, key)
	}
}

// RemoveDB forgets every job of db.
func (m *Manager) RemoveDB(db string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, j := range m.jobs {
		if key.db == db {
			m.detach(j)
			delete(m.jobs, key)
		}
	}
}

// Unlease returns a job taken by GetJobsToRun to the queue, when the
// runner could not dispatch it.
func (m *Manager) Unlease(db, uuid string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobKey{db: db, uuid: uuid}]
	if !ok || j.place != placeRunning {
		return
	}
	m.detach(j)
	j.State = job.StatePending
	m.place(j, now)
}

// GetJobsToRun takes every job that may start at now. Taken jobs count as
// running in their channel and its ancestors until a notification says
// otherwise.
func (m *Manager) GetJobsToRun(now time.Time) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneDead(now)
	m.root.promote(now)
	var out []Job
	for {
		j := m.root.take(now)
		if j == nil {
			break
		}
		j.State = job.StateEnqueued
		m.charge(j, now)
		out = append(out, *j)
	}
	return out
}

// GetWakeupTime returns the earliest future time at which GetJobsToRun may
// return jobs without any notification arriving.
func (m *Manager) GetWakeupTime(now time.Time) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok, _ := m.root.wakeup(now)
	return t, ok
}

// Deltas returns the stuck lease timeouts of the channel at path, walking
// up the tree to the global defaults.
func (m *Manager) Deltas(path string) (enqueued, started time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enqueued, started = m.enqueuedDelta, m.startedDelta
	var enqSet, startSet bool
	for c := m.nearest(path); c != nil; c = c.parent {
		if !enqSet && c.enqueuedDelta != nil {
			enqueued, enqSet = *c.enqueuedDelta, true
		}
		if !startSet && c.startedDelta != nil {
			started, startSet = *c.startedDelta, true
		}
	}
	return enqueued, started
}

// RemovalInterval returns the retention of done jobs of the channel at
// path, walking up the tree to the global default.
func (m *Manager) RemovalInterval(path string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := m.nearest(path); c != nil; c = c.parent {
		if c.removalInterval > 0 {
			return c.removalInterval
		}
	}
	return m.removalInterval
}

// Records returns the persisted form of every configured channel.
func (m *Manager) Records() []job.ChannelRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []job.ChannelRecord
	m.root.walk(func(c *Channel) {
		if !c.configured {
			return
		}
		name := c.FullName()
		out = append(out, job.ChannelRecord{
			Name:            name,
			Parent:          Parent(name),
			Capacity:        c.capacity,
			Sequential:      c.sequential,
			RemovalInterval: c.removalInterval,
		})
	})
	return out
}

// Channels returns a snapshot of every channel sorted by path.
func (m *Manager) Channels() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Info
	m.root.walk(func(c *Channel) { out = append(out, c.info()) })
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of known jobs, terminal ones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *Manager) place(j *Job, now time.Time) {
	switch j.State {
	case job.StatePending:
		if j.ETA.After(now) {
			j.place = placeETA
			j.channel.eta.add(j)
		} else {
			j.place = placeQueue
			j.channel.queue.add(j)
		}
	case job.StateEnqueued, job.StateStarted:
		j.place = placeRunning
		for c := j.channel; c != nil; c = c.parent {
			c.running[j.key()] = j
		}
	case job.StateDone, job.StateFailed, job.StateCancelled:
		j.place = placeDead
		j.deadSince = now
	default:
		j.place = placeNone
	}
}

// charge bills a taken job to its channel and every ancestor.
func (m *Manager) charge(j *Job, now time.Time) {
	j.place = placeRunning
	for c := j.channel; c != nil; c = c.parent {
		c.running[j.key()] = j
		if c.limiter != nil {
			c.limiter.AllowN(now, 1)
		}
	}
}

func (m *Manager) detach(j *Job) {
	switch j.place {
	case placeQueue:
		j.channel.queue.remove(j)
	case placeETA:
		j.channel.eta.remove(j)
	case placeRunning:
		for c := j.channel; c != nil; c = c.parent {
			delete(c.running, j.key())
		}
	}
	j.place = placeNone
}

func (m *Manager) pruneDead(now time.Time) {
	for key, j := range m.jobs {
		if j.place == placeDead && now.Sub(j.deadSince) > DeadRetention {
			delete(m.jobs, key)
		}
	}
}
