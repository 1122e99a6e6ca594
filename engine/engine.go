package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/admin"
	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/channel"
	"github.com/xraph/queuejob/cluster"
	"github.com/xraph/queuejob/cron"
	"github.com/xraph/queuejob/delay"
	"github.com/xraph/queuejob/ext"
	"github.com/xraph/queuejob/job"
	"github.com/xraph/queuejob/message"
	mw "github.com/xraph/queuejob/middleware"
	"github.com/xraph/queuejob/observability"
	"github.com/xraph/queuejob/runner"
	"github.com/xraph/queuejob/store"
	"github.com/xraph/queuejob/webnotify"
	"github.com/xraph/queuejob/worker"
)

// AutovacuumCron is the cron entry running the autovacuum job.
var AutovacuumCron = cron.Definition{
	Name:     "queue_job.autovacuum",
	Schedule: "@daily",
	Model:    admin.AutovacuumFunction.Model,
	Method:   admin.AutovacuumFunction.Method,
}

// Database holds the services of one database.
type Database struct {
	Name      string
	Store     store.Store
	Delay     *delay.Client
	Admin     *admin.Service
	Batches   *batch.Service
	Messages  *message.Service
	Executor  *worker.Executor
	Member    *cluster.Member
	Scheduler *cron.Scheduler
}

// Engine wires the queue subsystems of every database served from one
// Config: job registry, extensions, middleware, executors behind a worker
// pool, cron schedulers and the runner.
type Engine struct {
	cfg        queuejob.Config
	backend    Backend
	registry   *job.Registry
	extensions *ext.Registry
	exts       []ext.Extension
	mws        []mw.Middleware
	pool       *worker.Pool
	redis      *redis.Client
	ownsRedis  bool
	relay      *webnotify.Relay
	inProcess  bool
	logger     *slog.Logger

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	dbs     map[string]*Database
	running bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackend sets how databases are opened. The default is the
// PostgreSQL cluster of the config.
func WithBackend(b Backend) Option {
	return func(eng *Engine) { eng.backend = b }
}

// WithRegistry sets the job function registry.
func WithRegistry(r *job.Registry) Option {
	return func(eng *Engine) { eng.registry = r }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithTracerProvider sets the OTel TracerProvider of the tracing
// middleware. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the OTel MeterProvider of the metrics middleware
// and the observability extension. The global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// WithRedis enables owner notifications through client. Without it, a
// client is created from Config.RedisURL when set.
func WithRedis(client *redis.Client) Option {
	return func(eng *Engine) { eng.redis = client }
}

// WithInProcessDispatch makes runners built by the engine hand jobs to
// the engine's worker pool instead of calling the runjob endpoint.
func WithInProcessDispatch(on bool) Option {
	return func(eng *Engine) { eng.inProcess = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// New builds an Engine from cfg.
func New(cfg queuejob.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eng := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		dbs:    make(map[string]*Database),
	}
	for _, opt := range opts {
		opt(eng)
	}
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}
	if eng.backend == nil {
		eng.backend = Postgres(cfg, eng.logger)
	}
	if eng.registry == nil {
		eng.registry = job.NewRegistry()
	}

	if eng.meterProvider != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/xraph/queuejob/observability")))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}

	if eng.redis == nil && cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "engine: redis url")
		}
		eng.redis = redis.NewClient(ropts)
		eng.ownsRedis = true
	}
	if eng.redis != nil {
		eng.extensions.Register(webnotify.NewNotifier(eng.redis, eng.registry, webnotify.WithLogger(eng.logger)))
		eng.relay = webnotify.NewRelay(eng.redis, webnotify.WithRelayLogger(eng.logger))
	}

	admin.RegisterAutovacuumFunc(eng.registry, func(ctx context.Context) (*admin.Service, error) {
		db, ok := worker.DatabaseFrom(ctx)
		if !ok {
			return nil, errors.New("engine: no database in context")
		}
		d, err := eng.Database(ctx, db)
		if err != nil {
			return nil, err
		}
		return d.Admin, nil
	})

	eng.pool = worker.NewPool(eng.executor,
		worker.WithPoolConcurrency(cfg.Workers),
		worker.WithPoolLogger(eng.logger),
	)
	return eng, nil
}

// middleware returns the default chain followed by the configured one:
// recover, tracing, metrics, logging, environment.
func (eng *Engine) middleware() []mw.Middleware {
	tracing := mw.Tracing()
	if eng.tracerProvider != nil {
		tracing = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/queuejob"))
	}
	metrics := mw.Metrics()
	if eng.meterProvider != nil {
		metrics = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/queuejob"))
	}
	out := []mw.Middleware{
		mw.Recover(eng.logger),
		tracing,
		metrics,
		mw.Logging(eng.logger),
		mw.Env(),
	}
	return append(out, eng.mws...)
}

// Database returns the services of db, opening it on first use.
func (eng *Engine) Database(ctx context.Context, db string) (*Database, error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if d, ok := eng.dbs[db]; ok {
		return d, nil
	}
	st, err := eng.backend.Open(ctx, db)
	if err != nil {
		return nil, err
	}
	d := eng.build(db, st)
	if err := eng.syncCatalog(ctx, d); err != nil {
		_ = st.Close()
		return nil, err
	}
	if eng.running {
		if err := eng.startDatabase(ctx, d); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	eng.dbs[db] = d
	return d, nil
}

func (eng *Engine) build(db string, st store.Store) *Database {
	logger := eng.logger.With(slog.String("db", db))
	d := &Database{Name: db, Store: st}
	d.Messages = message.NewService(st)
	d.Batches = batch.NewService(st, st, func(ctx context.Context, b *batch.Batch) {
		eng.extensions.EmitBatchFinished(ctx, b)
	}, logger)
	d.Delay = delay.NewClient(st,
		delay.WithRegistry(eng.registry),
		delay.WithBatches(d.Batches),
		delay.WithExtensions(eng.extensions),
		delay.WithNoDelay(eng.cfg.NoDelay),
		delay.WithLogger(logger),
	)
	d.Admin = admin.NewService(st,
		admin.WithBatches(d.Batches),
		admin.WithRemovalInterval(eng.cfg.RemovalInterval),
		admin.WithLogger(logger),
	)
	d.Executor = worker.NewExecutor(st, eng.registry,
		worker.WithDatabase(db),
		worker.WithExtensions(eng.extensions),
		worker.WithMessages(d.Messages),
		worker.WithBatches(d.Batches),
		worker.WithMiddleware(eng.middleware()...),
		worker.WithLogger(logger),
	)
	d.Member = cluster.NewMember(st, serverApplicationName, []string{db}, cluster.WithLogger(logger))
	d.Scheduler = cron.NewScheduler(st, d.Member, d.Delay,
		cron.WithEmitter(eng.extensions),
		cron.WithLogger(logger),
	)
	return d
}

// syncCatalog persists the configured channels and the registered
// functions of d.
func (eng *Engine) syncCatalog(ctx context.Context, d *Database) error {
	manager, err := eng.newManager()
	if err != nil {
		return err
	}
	for _, rec := range manager.Records() {
		if err := d.Store.UpsertChannel(ctx, rec); err != nil {
			return errors.Wrapf(err, "engine: %s: channel %s", d.Name, rec.Name)
		}
	}
	for _, fn := range eng.registry.Functions() {
		if err := d.Store.UpsertFunction(ctx, fn); err != nil {
			return errors.Wrapf(err, "engine: %s: function %s", d.Name, fn.Name())
		}
	}
	return nil
}

func (eng *Engine) startDatabase(ctx context.Context, d *Database) error {
	if err := d.Member.Join(ctx); err != nil {
		return err
	}
	if err := d.Scheduler.Register(ctx, AutovacuumCron); err != nil {
		return err
	}
	return d.Scheduler.Start(ctx)
}

func (eng *Engine) stopDatabase(ctx context.Context, d *Database) {
	if err := d.Scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("db", d.Name), slog.String("error", err.Error()))
	}
	if err := d.Member.Leave(ctx); err != nil {
		eng.logger.Warn("failed to deregister", slog.String("db", d.Name), slog.String("error", err.Error()))
	}
}

// executor is the worker.ExecutorFunc of the pool.
func (eng *Engine) executor(ctx context.Context, db string) (*worker.Executor, error) {
	d, err := eng.Database(ctx, db)
	if err != nil {
		return nil, err
	}
	return d.Executor, nil
}

func (eng *Engine) newManager() (*channel.Manager, error) {
	m := channel.NewManager(
		channel.WithDefaultSubchannelCapacity(eng.cfg.DefaultSubchannelCapacity),
		channel.WithDeltas(eng.cfg.EnqueuedDelta, eng.cfg.StartedDelta),
		channel.WithRemovalInterval(eng.cfg.RemovalInterval),
		channel.WithLogger(eng.logger),
	)
	if err := m.ConfigureString(eng.cfg.Channels); err != nil {
		return nil, errors.Wrap(err, "engine: channels")
	}
	return m, nil
}

// Runner builds a runner over the configured databases. opts are applied
// after the options derived from the config.
func (eng *Engine) Runner(ctx context.Context, opts ...runner.Option) (*runner.Runner, error) {
	manager, err := eng.newManager()
	if err != nil {
		return nil, err
	}
	var dispatcher runner.Dispatcher = runner.NewHTTPDispatcher(eng.cfg)
	if eng.inProcess {
		dispatcher = eng.pool
	}

	appName := runner.ApplicationPrefix + uuid.NewString()
	base := []runner.Option{
		runner.WithApplicationName(appName),
		runner.WithDatabases(eng.cfg.Databases...),
		runner.WithDBListener(eng.backend),
		runner.WithExtensions(eng.extensions),
		runner.WithLeaderElection(eng.cfg.LeaderElection),
		runner.WithSelectTimeout(eng.cfg.SelectTimeout),
		runner.WithSweepInterval(eng.cfg.SweepInterval),
		runner.WithErrorRecoveryDelay(eng.cfg.ErrorRecoveryDelay),
		runner.WithLogger(eng.logger),
	}
	if len(eng.cfg.Databases) > 0 {
		d, err := eng.Database(ctx, eng.cfg.Databases[0])
		if err != nil {
			return nil, err
		}
		base = append(base, runner.WithMember(cluster.NewMember(d.Store, appName, eng.cfg.Databases,
			cluster.WithLogger(eng.logger))))
	}
	return runner.New(eng.backend.Connect, dispatcher, manager, append(base, opts...)...), nil
}

// Start starts the worker pool and the cron scheduler of every configured
// database.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "engine: start pool")
	}
	for _, db := range eng.cfg.Databases {
		if _, err := eng.Database(ctx, db); err != nil {
			return err
		}
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.running {
		return nil
	}
	for _, d := range eng.dbs {
		if err := eng.startDatabase(ctx, d); err != nil {
			return err
		}
	}
	eng.running = true
	return nil
}

// Stop stops the schedulers and the pool, emits Shutdown and closes the
// stores.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	dbs := make([]*Database, 0, len(eng.dbs))
	for _, d := range eng.dbs {
		dbs = append(dbs, d)
	}
	wasRunning := eng.running
	eng.running = false
	eng.dbs = make(map[string]*Database)
	eng.mu.Unlock()

	if wasRunning {
		for _, d := range dbs {
			eng.stopDatabase(ctx, d)
		}
	}
	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)

	for _, d := range dbs {
		if cerr := d.Store.Close(); cerr != nil {
			eng.logger.Warn("failed to close store", slog.String("db", d.Name), slog.String("error", cerr.Error()))
		}
	}
	if eng.ownsRedis {
		if cerr := eng.redis.Close(); cerr != nil {
			eng.logger.Warn("failed to close redis", slog.String("error", cerr.Error()))
		}
	}
	return err
}

// Config returns the engine configuration.
func (eng *Engine) Config() queuejob.Config { return eng.cfg }

// Registry returns the job function registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Pool returns the worker pool behind the runjob endpoint.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Relay returns the notification relay, or nil when Redis is not
// configured.
func (eng *Engine) Relay() *webnotify.Relay { return eng.relay }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Register registers fn with its handler.
func (eng *Engine) Register(fn job.Function, h job.Handler) {
	job.Register(eng.registry, fn, h)
}
