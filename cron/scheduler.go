package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	cronlib "github.com/robfig/cron/v3"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/id"
	"github.com/xraph/queuejob/job"
)

// Enqueuer creates the job of a fired entry. *delay.Client satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, m job.Method, args []any, kwargs map[string]any, opts ...job.Option) (string, error)
}

// Leadership elects the runner allowed to fire entries. *cluster.Member
// satisfies it.
type Leadership interface {
	ID() id.ID
	TryLeadership(ctx context.Context) (bool, error)
	IsLeader(ctx context.Context) (bool, error)
	LeaderTTL() time.Duration
	// Beat keeps the registration of the local runner alive.
	Beat(ctx context.Context) error
}

// Emitter emits cron lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName, jobUUID string)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL of per-entry locks.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithEmitter sets the CronFired hook target.
func WithEmitter(e Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = e }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler creates the jobs of due entries on a tick loop. Only the
// cluster leader ticks, and each entry is locked while it fires.
type Scheduler struct {
	store    Store
	leader   Leadership
	enqueuer Enqueuer
	emitter  Emitter
	now      func() time.Time
	logger   *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration

	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, leader Leadership, enqueuer Enqueuer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:        store,
		leader:       leader,
		enqueuer:     enqueuer,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       slog.Default(),
		tickInterval: time.Second,
		lockTTL:      30 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register stores an entry for every definition. A definition whose name
// is already registered keeps the stored entry, so that restarts do not
// reset schedules or undo an operator disabling it.
func (s *Scheduler) Register(ctx context.Context, defs ...Definition) error {
	for _, d := range defs {
		entry, err := d.NewEntry(s.now())
		if err != nil {
			return err
		}
		err = s.store.RegisterCron(ctx, entry)
		if errors.Is(err, queuejob.ErrDuplicateCron) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "cron: register %q", d.Name)
		}
		s.logger.Info("cron registered",
			slog.String("cron_name", entry.Name),
			slog.String("schedule", entry.Schedule),
			slog.Time("next_run_at", *entry.NextRunAt),
		)
	}
	return nil
}

// Start launches the leadership and tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.String("runner_id", s.leader.ID().String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for its goroutines.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) leaderLoop() {
	defer s.wg.Done()

	renew := s.leader.LeaderTTL() / 2
	if renew <= 0 {
		renew = time.Second
	}
	ticker := time.NewTicker(renew)
	defer ticker.Stop()

	s.tryLeadership()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Scheduler) tryLeadership() {
	ctx := context.Background()
	if err := s.leader.Beat(ctx); err != nil {
		s.logger.Warn("cron heartbeat error", slog.String("error", err.Error()))
	}
	if _, err := s.leader.TryLeadership(ctx); err != nil {
		s.logger.Warn("cron leadership error", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick fires every enabled entry whose NextRunAt has passed, when the
// local runner is the leader. It returns the number of entries fired.
func (s *Scheduler) Tick(ctx context.Context) int {
	leader, err := s.leader.IsLeader(ctx)
	if err != nil {
		s.logger.Warn("cron leader check failed", slog.String("error", err.Error()))
		return 0
	}
	if !leader {
		return 0
	}

	entries, err := s.store.ListCrons(ctx)
	if err != nil {
		s.logger.Error("list crons error", slog.String("error", err.Error()))
		return 0
	}

	now := s.now()
	fired := 0
	for _, entry := range entries {
		if !entry.Enabled || entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		if s.fire(ctx, entry, now) {
			fired++
		}
	}
	return fired
}

// fire creates the job of entry. The identity key of the job is derived
// from the entry and its due time, so a tick replayed by a new leader
// finds the job already created.
func (s *Scheduler) fire(ctx context.Context, entry *Entry, now time.Time) bool {
	owner := s.leader.ID()
	log := s.logger.With(slog.String("cron_name", entry.Name))

	acquired, err := s.store.AcquireCronLock(ctx, entry.ID, owner, s.lockTTL)
	if err != nil {
		log.Error("acquire cron lock error", slog.String("error", err.Error()))
		return false
	}
	if !acquired {
		return false
	}
	defer func() {
		if err := s.store.ReleaseCronLock(ctx, entry.ID, owner); err != nil {
			log.Error("release cron lock error", slog.String("error", err.Error()))
		}
	}()

	opts := []job.Option{job.WithIdentityKey(fmt.Sprintf("cron:%s:%d", entry.Name, entry.NextRunAt.Unix()))}
	if entry.Channel != "" {
		opts = append(opts, job.WithChannel(entry.Channel))
	}
	if entry.Priority != 0 {
		opts = append(opts, job.WithPriority(entry.Priority))
	}
	m := job.Method{Model: entry.Model, Method: entry.Method}
	uuid, err := s.enqueuer.Enqueue(ctx, m, entry.Args, entry.Kwargs, opts...)
	if err != nil {
		log.Error("cron enqueue error",
			slog.String("method", entry.MethodName()),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := s.store.UpdateCronLastRun(ctx, entry.ID, now); err != nil {
		log.Error("update cron last run error", slog.String("error", err.Error()))
	}
	entry.LastRunAt = &now

	sched, err := s.schedule(entry.Schedule)
	if err != nil {
		log.Error("parse cron schedule error",
			slog.String("schedule", entry.Schedule),
			slog.String("error", err.Error()),
		)
	} else {
		next := sched.Next(now)
		entry.NextRunAt = &next
		if err := s.store.UpdateCronEntry(ctx, entry); err != nil {
			log.Error("update cron next run error", slog.String("error", err.Error()))
		}
	}

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, uuid)
	}
	log.Info("cron fired",
		slog.String("method", entry.MethodName()),
		slog.String("job_uuid", uuid),
	)
	return true
}

// schedule caches parsed cron expressions.
func (s *Scheduler) schedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
