// Package worker provides the job execution engine: an Executor that
// takes a leased job, invokes its handler through middleware and persists
// the classified outcome, and a Pool that runs executors on a bounded
// number of goroutines behind the runjob endpoint.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/backoff"
	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/ext"
	"github.com/xraph/queuejob/job"
	"github.com/xraph/queuejob/message"
	"github.com/xraph/queuejob/middleware"
)

// PostgreSQL error codes that postpone a job without consuming a retry.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// Executor runs one job of one database: it moves the job to started,
// calls its handler through middleware, then stores done, pending or
// failed and releases the dependents of a done job.
type Executor struct {
	db         string
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	messages   *message.Service
	batches    *batch.Service
	mw         middleware.Middleware
	now        func() time.Time
	pid        int
	hostname   string
	logger     *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDatabase names the database the executor serves. Handlers read it
// with DatabaseFrom.
func WithDatabase(name string) ExecutorOption {
	return func(e *Executor) { e.db = name }
}

// WithExtensions sets the lifecycle hooks.
func WithExtensions(r *ext.Registry) ExecutorOption {
	return func(e *Executor) { e.extensions = r }
}

// WithMessages posts a failure message for every failed job.
func WithMessages(s *message.Service) ExecutorOption {
	return func(e *Executor) { e.messages = s }
}

// WithBatches re-checks the batch of every finished job.
func WithBatches(s *batch.Service) ExecutorOption {
	return func(e *Executor) { e.batches = s }
}

// WithMiddleware wraps every handler call.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithClock sets the time source of state dates.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor over store and registry.
func NewExecutor(store job.Store, registry *job.Registry, opts ...ExecutorOption) *Executor {
	hostname, _ := os.Hostname()
	e := &Executor{
		store:    store,
		registry: registry,
		mw:       middleware.Chain(),
		now:      func() time.Time { return time.Now().UTC() },
		pid:      os.Getpid(),
		hostname: hostname,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunJob executes the enqueued job uuid. A job that is unknown or no
// longer enqueued is skipped silently: another executor took it or an
// operator changed it. The returned error reports a failure to persist the
// outcome; the job's own failure is stored on the job.
func (e *Executor) RunJob(ctx context.Context, uuid string) error {
	j, err := e.store.StartJob(ctx, uuid, e.pid, e.hostname, e.now())
	if errors.Is(err, queuejob.ErrJobNotFound) {
		e.logger.Debug("job not enqueued, skipping", slog.String("job_uuid", uuid))
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "worker: start job %s", uuid)
	}
	e.extensions.EmitJobStarted(ctx, j)

	if e.db != "" {
		ctx = context.WithValue(ctx, dbKey{}, e.db)
	}
	start := time.Now()
	result, runErr := e.mw(ctx, j, func(ctx context.Context) (any, error) {
		return j.Perform(ctx, e.registry)
	})
	elapsed := time.Since(start)

	return e.finish(ctx, j, result, runErr, elapsed)
}

type dbKey struct{}

// DatabaseFrom returns the database of the job running in ctx.
func DatabaseFrom(ctx context.Context) (string, bool) {
	db, ok := ctx.Value(dbKey{}).(string)
	return db, ok && db != ""
}

// finish classifies the outcome of j and persists it.
func (e *Executor) finish(ctx context.Context, j *job.Job, result any, runErr error, elapsed time.Duration) error {
	now := e.now()
	var (
		failed    bool
		postponed bool
		err       error
		failedErr *queuejob.FailedError
		nothing   *queuejob.NothingToDoError
		retryable *queuejob.RetryableError
	)
	switch {
	case runErr == nil:
		err = j.SetDone(now, resultText(result))
	case errors.As(runErr, &failedErr):
		failed = true
		err = e.setFailed(j, runErr)
	case errors.As(runErr, &nothing):
		err = j.SetDone(now, nothing.Msg)
	case errors.As(runErr, &retryable):
		failed, err = j.ApplyRetryable(now, retryable, e.retryStrategy(j))
		postponed = !failed
	case isConcurrencyError(runErr):
		j.Postpone(now, job.PGRetry, "")
		err = j.SetPending(false)
		postponed = true
	default:
		failed = true
		err = e.setFailed(j, runErr)
	}
	if err != nil {
		return errors.Wrapf(err, "worker: classify outcome of %s", j.UUID)
	}
	if j.State == job.StateDone {
		j.ExecTime = elapsed.Seconds()
	}

	released, err := e.store.CompleteJob(ctx, j)
	if err != nil {
		e.logger.Error("failed to store job outcome",
			slog.String("job_uuid", j.UUID),
			slog.String("state", string(j.State)),
			slog.String("error", err.Error()),
		)
		return errors.Wrapf(err, "worker: store outcome of %s", j.UUID)
	}

	switch {
	case failed:
		e.onFailed(ctx, j, runErr)
	case postponed:
		e.logger.Info("job postponed",
			slog.String("job_uuid", j.UUID),
			slog.Int("retry", j.Retry),
			slog.Time("eta", *j.ETA),
		)
		e.extensions.EmitJobPostponed(ctx, j, *j.ETA)
	default:
		e.extensions.EmitJobDone(ctx, j, elapsed)
		if len(released) > 0 {
			e.logger.Debug("dependents released", slog.String("job_uuid", j.UUID), slog.Int("count", len(released)))
		}
	}

	if !postponed && e.batches != nil && !j.BatchID.IsNil() {
		if _, err := e.batches.CheckState(ctx, j.BatchID); err != nil {
			e.logger.Warn("batch check failed",
				slog.String("batch_id", j.BatchID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// setFailed records runErr on j with its stack trace.
func (e *Executor) setFailed(j *job.Job, runErr error) error {
	return j.SetFailed(fmt.Sprintf("%+v", runErr), errorName(runErr), runErr.Error())
}

func (e *Executor) onFailed(ctx context.Context, j *job.Job, runErr error) {
	if e.messages != nil {
		if _, err := e.messages.PostFailure(ctx, j); err != nil {
			e.logger.Warn("failed to post failure message",
				slog.String("job_uuid", j.UUID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.extensions.EmitJobFailed(ctx, j, runErr)
}

// retryStrategy returns the retry pattern of j's function, if any.
func (e *Executor) retryStrategy(j *job.Job) backoff.Strategy {
	if e.registry == nil {
		return nil
	}
	fn, ok := e.registry.Function(j.MethodName())
	if !ok || fn.RetryPattern.IsZero() {
		return nil
	}
	return fn.RetryPattern
}

func isConcurrencyError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

// errorName returns the type name of the outermost error that is not a
// wrapper added for context or stack traces.
func errorName(err error) string {
	var failed *queuejob.FailedError
	if errors.As(err, &failed) {
		return "FailedError"
	}
	name := fmt.Sprintf("%T", errors.UnwrapAll(err))
	return strings.TrimPrefix(name, "*")
}

func resultText(result any) string {
	switch r := result.(type) {
	case nil:
		return ""
	case string:
		return r
	case fmt.Stringer:
		return r.String()
	default:
		return fmt.Sprint(r)
	}
}
