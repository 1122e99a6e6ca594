package runner

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/queuejob/backoff"
	"github.com/xraph/queuejob/channel"
	"github.com/xraph/queuejob/cluster"
	"github.com/xraph/queuejob/ext"
	"github.com/xraph/queuejob/job"
)

// Option configures a Runner.
type Option func(*Runner)

// WithDatabases sets the databases served at startup.
func WithDatabases(dbs ...string) Option {
	return func(r *Runner) { r.databases = dbs }
}

// WithDBListener adds and removes databases on queue_job_db_listener
// payloads.
func WithDBListener(l DBListener) Option {
	return func(r *Runner) { r.dbListener = l }
}

// WithMember registers the runner in the runner registry and heartbeats
// it on every sweep.
func WithMember(m *cluster.Member) Option {
	return func(r *Runner) { r.member = m }
}

// WithExtensions sets the lifecycle hooks.
func WithExtensions(e *ext.Registry) Option {
	return func(r *Runner) { r.extensions = e }
}

// WithLeaderElection only schedules the databases on which the runner
// holds the oldest runner connection.
func WithLeaderElection(enabled bool) Option {
	return func(r *Runner) { r.leaderElection = enabled }
}

// WithApplicationName overrides the "jobrunner_<uuid>" connection tag.
func WithApplicationName(name string) Option {
	return func(r *Runner) { r.applicationName = name }
}

// WithSelectTimeout bounds the wait for a notification.
func WithSelectTimeout(d time.Duration) Option {
	return func(r *Runner) { r.selectTimeout = d }
}

// WithSweepInterval sets how often stale leases are reset.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Runner) { r.sweepInterval = d }
}

// WithErrorRecoveryDelay sets the pause before the loop restarts after an
// error.
func WithErrorRecoveryDelay(d time.Duration) Option {
	return func(r *Runner) { r.recovery = backoff.NewConstant(d) }
}

// WithDispatchBackoff sets the pause of dispatching after consecutive
// dispatch failures.
func WithDispatchBackoff(s backoff.Strategy) Option {
	return func(r *Runner) { r.holdoff = s }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// dispatchResult reports a finished dispatch to the loop.
type dispatchResult struct {
	db   string
	uuid string
	err  error
}

// Runner dispatches the jobs of its databases. Scheduling happens on a
// single goroutine; listeners and dispatches run on their own goroutines
// and report to it through channels.
type Runner struct {
	connect    ConnectFunc
	dispatcher Dispatcher
	manager    *channel.Manager
	dbListener DBListener
	member     *cluster.Member
	extensions *ext.Registry

	databases       []string
	applicationName string
	leaderElection  bool
	selectTimeout   time.Duration
	sweepInterval   time.Duration
	recovery        backoff.Strategy
	holdoff         backoff.Strategy
	now             func() time.Time
	logger          *slog.Logger

	mu  sync.Mutex
	dbs map[string]*database

	group   *errgroup.Group
	notes   chan note
	results chan dispatchResult
	wake    chan struct{}

	// Owned by the loop goroutine.
	failures  int
	holdUntil time.Time
}

// New creates a Runner scheduling through manager the jobs of the
// databases opened by connect.
func New(connect ConnectFunc, dispatcher Dispatcher, manager *channel.Manager, opts ...Option) *Runner {
	r := &Runner{
		connect:         connect,
		dispatcher:      dispatcher,
		manager:         manager,
		applicationName: ApplicationPrefix + uuid.NewString(),
		selectTimeout:   60 * time.Second,
		sweepInterval:   60 * time.Second,
		recovery:        backoff.NewConstant(5 * time.Second),
		holdoff:         backoff.NewExponentialWithJitter(100*time.Millisecond, 5*time.Second),
		now:             func() time.Time { return time.Now().UTC() },
		logger:          slog.Default(),
		dbs:             make(map[string]*database),
		notes:           make(chan note, 256),
		results:         make(chan dispatchResult, 64),
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ApplicationName returns the tag of the runner's connections.
func (r *Runner) ApplicationName() string { return r.applicationName }

// Manager returns the channel manager.
func (r *Runner) Manager() *channel.Manager { return r.manager }

// Databases returns the names of the open databases, sorted.
func (r *Runner) Databases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.dbs))
	for name := range r.dbs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) database(name string) *database {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dbs[name]
}

// Reconfigure replaces the channel configuration of the live manager.
func (r *Runner) Reconfigure(channels string) error {
	if err := r.manager.ConfigureString(channels); err != nil {
		return errors.Wrap(err, "runner: reconfigure channels")
	}
	r.logger.Info("channels reconfigured", slog.String("channels", channels))
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// WatchConfig re-applies the channels key of v whenever its config file
// changes.
func (r *Runner) WatchConfig(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		r.logger.Info("config file changed", slog.String("file", e.Name))
		if err := r.Reconfigure(v.GetString("channels")); err != nil {
			r.logger.Error("failed to apply channels", slog.String("error", err.Error()))
		}
	})
	v.WatchConfig()
}

// Run serves until ctx is done. Any error restarts the loop from fresh
// connections after the error recovery delay.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner starting",
		slog.String("application_name", r.applicationName),
		slog.Any("databases", r.databases),
		slog.Bool("leader_election", r.leaderElection),
	)
	if r.member != nil {
		if err := r.member.Join(ctx); err != nil {
			return err
		}
		defer func() {
			if err := r.member.Leave(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("failed to deregister runner", slog.String("error", err.Error()))
			}
		}()
	}

	for attempt := 1; ; attempt++ {
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			r.logger.Info("runner stopped")
			return nil
		}
		delay := r.recovery.Delay(attempt)
		r.logger.Error("runner loop failed, restarting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopped")
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce runs the loop until ctx is done or a task fails.
func (r *Runner) runOnce(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	r.group = g
	defer r.closeAll()

	if r.dbListener != nil {
		sub, err := r.dbListener.ListenDatabases(ctx)
		if err != nil {
			return errors.Wrap(err, "runner: listen databases")
		}
		g.Go(func() error {
			defer sub.Close()
			return r.pump(ctx, "", sub)
		})
	}

	g.Go(func() error {
		for _, name := range r.databases {
			if err := r.open(ctx, name); err != nil {
				if !errUnknownDatabase(err) {
					return err
				}
				r.logger.Error("skipping unknown database", slog.String("db", name), slog.String("error", err.Error()))
			}
		}
		return r.loop(ctx)
	})
	return g.Wait()
}

// loop is the scheduling goroutine.
func (r *Runner) loop(ctx context.Context) error {
	if err := r.sweep(ctx); err != nil {
		return err
	}
	sweep := time.NewTicker(r.sweepInterval)
	defer sweep.Stop()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		r.dispatchRunnable(ctx)
		now := r.now()
		timer.Reset(r.nextWakeup(now).Sub(now))

		select {
		case <-ctx.Done():
			return nil
		case n := <-r.notes:
			if err := r.process(ctx, r.drain(n)); err != nil {
				return err
			}
		case res := <-r.results:
			r.dispatched(res)
		case <-sweep.C:
			if err := r.sweep(ctx); err != nil {
				return err
			}
		case <-r.wake:
		case <-timer.C:
		}
	}
}

// drain collects the notifications already waiting behind first.
func (r *Runner) drain(first note) []note {
	notes := []note{first}
	for {
		select {
		case n := <-r.notes:
			notes = append(notes, n)
		default:
			return notes
		}
	}
}

// nextWakeup returns when the loop must look at the manager again
// without any notification.
func (r *Runner) nextWakeup(now time.Time) time.Time {
	next := now.Add(r.selectTimeout)
	if t, ok := r.manager.GetWakeupTime(now); ok && t.Before(next) {
		next = t
	}
	// Nothing starts while dispatching is held, so wake when the hold ends.
	if r.holdUntil.After(now) {
		next = r.holdUntil
	}
	return next
}

// dispatchRunnable leases every job the manager lets start and dispatches
// it on its own goroutine.
func (r *Runner) dispatchRunnable(ctx context.Context) {
	now := r.now()
	if now.Before(r.holdUntil) {
		return
	}
	jobs := r.manager.GetJobsToRun(now)
	for i := range jobs {
		cj := &jobs[i]
		d := r.database(cj.DB)
		if d == nil {
			r.manager.Remove(cj.DB, cj.UUID)
			continue
		}
		leased, err := d.conn.Lease(ctx, cj.UUID, now)
		if err != nil {
			r.logger.Error("failed to lease job",
				slog.String("db", cj.DB),
				slog.String("job_uuid", cj.UUID),
				slog.String("error", err.Error()),
			)
			// The jobs not leased yet go back to their queues.
			for _, rest := range jobs[i:] {
				r.manager.Unlease(rest.DB, rest.UUID, now)
			}
			r.hold(now)
			return
		}
		if !leased {
			// The row changed since it was read; its notification follows.
			continue
		}
		r.extensions.EmitJobEnqueued(ctx, cj.DB, job.Row{
			UUID:         cj.UUID,
			Seq:          cj.Seq,
			Channel:      cj.Channel(),
			State:        job.StateEnqueued,
			Priority:     cj.Priority,
			DateCreated:  cj.DateCreated,
			DateEnqueued: &now,
		})
		r.logger.Debug("job enqueued",
			slog.String("db", cj.DB),
			slog.String("job_uuid", cj.UUID),
			slog.String("channel", cj.Channel()),
		)
		r.group.Go(func() error {
			r.dispatch(ctx, d, cj.UUID)
			return nil
		})
	}
}

// dispatch hands uuid to the dispatcher and returns the lease to pending
// when it is refused.
func (r *Runner) dispatch(ctx context.Context, d *database, uuid string) {
	err := r.dispatcher.Dispatch(ctx, d.name, uuid)
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("dispatch failed, resetting lease",
			slog.String("db", d.name),
			slog.String("job_uuid", uuid),
			slog.String("error", err.Error()),
		)
		reset, rerr := d.conn.ResetLease(ctx, uuid)
		switch {
		case rerr != nil:
			r.logger.Error("failed to reset lease",
				slog.String("db", d.name),
				slog.String("job_uuid", uuid),
				slog.String("error", rerr.Error()),
			)
		case reset:
			r.extensions.EmitLeaseReset(ctx, d.name, uuid, "dispatch failed")
		}
	}
	select {
	case r.results <- dispatchResult{db: d.name, uuid: uuid, err: err}:
	case <-ctx.Done():
	}
}

// dispatched tracks consecutive dispatch failures. While they last the
// loop stops dispatching for a growing delay.
func (r *Runner) dispatched(res dispatchResult) {
	if res.err == nil {
		r.failures = 0
		r.holdUntil = time.Time{}
		return
	}
	r.hold(r.now())
}

func (r *Runner) hold(now time.Time) {
	r.failures++
	r.holdUntil = now.Add(r.holdoff.Delay(r.failures))
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
