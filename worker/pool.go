package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
)

// ExecutorFunc returns the executor serving a database.
type ExecutorFunc func(ctx context.Context, db string) (*Executor, error)

// request is one accepted runjob call.
type request struct {
	db   string
	uuid string
}

// Pool runs accepted jobs on a fixed number of goroutines. Submissions
// beyond the queue size are refused with ErrPoolSaturated, so the runner
// can reset the lease and dispatch again later.
type Pool struct {
	executors   ExecutorFunc
	concurrency int
	queueSize   int
	logger      *slog.Logger

	queue      chan request
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueueSize sets how many accepted jobs may wait for a worker.
// It defaults to the concurrency.
func WithPoolQueueSize(n int) PoolOption {
	return func(p *Pool) { p.queueSize = n }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool over executors.
func NewPool(executors ExecutorFunc, opts ...PoolOption) *Pool {
	p := &Pool{
		executors:   executors,
		concurrency: 4,
		logger:      slog.Default(),
		stopCh:      make(chan struct{}),
		activeJobs:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.queueSize < 1 {
		p.queueSize = p.concurrency
	}
	p.queue = make(chan request, p.queueSize)
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Int("queue_size", p.queueSize),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.workLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish the job
// they run. Jobs still queued are left enqueued for the sweep. If ctx
// expires first, active jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}
	return nil
}

// Submit accepts the job uuid of db for execution without waiting for it.
func (p *Pool) Submit(db, uuid string) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return errors.Wrap(queuejob.ErrPoolSaturated, "worker: pool not running")
	}
	select {
	case p.queue <- request{db: db, uuid: uuid}:
		return nil
	default:
		return errors.Wrapf(queuejob.ErrPoolSaturated, "worker: %d jobs waiting", p.queueSize)
	}
}

// Dispatch is Submit; it lets the runner hand jobs to an in-process pool.
func (p *Pool) Dispatch(_ context.Context, db, uuid string) error {
	return p.Submit(db, uuid)
}

// Active returns the number of jobs being executed.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

func (p *Pool) workLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case req := <-p.queue:
			p.run(req)
		}
	}
}

func (p *Pool) run(req request) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.trackJob(req.uuid, cancel)
	defer p.untrackJob(req.uuid)

	exec, err := p.executors(ctx, req.db)
	if err != nil {
		p.logger.Error("no executor for database",
			slog.String("db", req.db),
			slog.String("job_uuid", req.uuid),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := exec.RunJob(ctx, req.uuid); err != nil {
		p.logger.Error("job execution failed",
			slog.String("db", req.db),
			slog.String("job_uuid", req.uuid),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) trackJob(uuid string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[uuid] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(uuid string) {
	p.activeMu.Lock()
	delete(p.activeJobs, uuid)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for uuid, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_uuid", uuid))
		cancel()
	}
}
