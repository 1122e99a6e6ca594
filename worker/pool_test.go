package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/job"
	"github.com/xraph/queuejob/worker"
)

func setupTestPool(t *testing.T, f *fixture, opts ...worker.PoolOption) *worker.Pool {
	t.Helper()
	pool := worker.NewPool(func(_ context.Context, db string) (*worker.Executor, error) {
		if db != "main" {
			return nil, queuejob.ErrUnknownDatabase
		}
		return f.executor, nil
	}, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	return pool
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestPool_StartStop(t *testing.T) {
	pool := setupTestPool(t, newFixture(t), worker.WithPoolConcurrency(2))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_RunsSubmittedJob(t *testing.T) {
	f := newFixture(t)
	var processed atomic.Bool
	f.register("greet", func(context.Context, job.Call) (any, error) {
		processed.Store(true)
		return nil, nil
	})
	j := f.enqueue(t, "greet")

	pool := setupTestPool(t, f, worker.WithPoolConcurrency(1))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := pool.Dispatch(context.Background(), "main", j.UUID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	waitFor(t, func() bool {
		got, err := f.store.GetJob(context.Background(), j.UUID)
		return err == nil && got.State == job.StateDone
	})
	if !processed.Load() {
		t.Fatal("handler not called")
	}
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := setupTestPool(t, newFixture(t))

	err := pool.Submit("main", "u")
	if !errors.Is(err, queuejob.ErrPoolSaturated) {
		t.Fatalf("Submit before Start = %v, want ErrPoolSaturated", err)
	}
}

func TestPool_Saturated(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	var started atomic.Int32
	f.register("slow", func(context.Context, job.Call) (any, error) {
		started.Add(1)
		<-release
		return nil, nil
	})
	jobs := []*job.Job{f.enqueue(t, "slow"), f.enqueue(t, "slow"), f.enqueue(t, "slow")}

	pool := setupTestPool(t, f, worker.WithPoolConcurrency(1), worker.WithPoolQueueSize(1))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer close(release)

	if err := pool.Submit("main", jobs[0].UUID); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	waitFor(t, func() bool { return started.Load() == 1 })
	if pool.Active() != 1 {
		t.Errorf("Active = %d, want 1", pool.Active())
	}
	if err := pool.Submit("main", jobs[1].UUID); err != nil {
		t.Fatalf("queued Submit: %v", err)
	}
	if err := pool.Submit("main", jobs[2].UUID); !errors.Is(err, queuejob.ErrPoolSaturated) {
		t.Fatalf("third Submit = %v, want ErrPoolSaturated", err)
	}
}

func TestPool_UnknownDatabaseIsLogged(t *testing.T) {
	f := newFixture(t)
	called := false
	f.register("greet", func(context.Context, job.Call) (any, error) {
		called = true
		return nil, nil
	})
	j := f.enqueue(t, "greet")

	pool := setupTestPool(t, f)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := pool.Submit("other", j.UUID); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("job of an unknown database ran")
	}
}
