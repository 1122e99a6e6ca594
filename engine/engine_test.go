package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/engine"
	"github.com/xraph/queuejob/job"
	"github.com/xraph/queuejob/store/memory"
)

var syncFn = job.Function{Model: "res.partner", Method: "sync", Channel: "root.sync", Description: "Sync partners"}

// shutdownExt records OnShutdown.
type shutdownExt struct {
	called atomic.Bool
}

func (e *shutdownExt) Name() string { return "shutdown-recorder" }

func (e *shutdownExt) OnShutdown(context.Context) error {
	e.called.Store(true)
	return nil
}

func testConfig() queuejob.Config {
	cfg := queuejob.DefaultConfig()
	cfg.Channels = "root:2,root.sync:1"
	cfg.Databases = []string{"main"}
	cfg.SelectTimeout = 50 * time.Millisecond
	cfg.SweepInterval = time.Hour
	cfg.ErrorRecoveryDelay = 10 * time.Millisecond
	return cfg
}

func newEngine(t *testing.T, dbs *memory.Databases, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{engine.WithBackend(engine.Memory(dbs))}, opts...)
	eng, err := engine.New(testConfig(), opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng
}

// runRunner runs the engine's runner until the test ends.
func runRunner(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r, err := eng.Runner(ctx)
	if err != nil {
		cancel()
		t.Fatalf("Runner: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("runner: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("runner did not stop")
		}
	})
}

func waitState(t *testing.T, s job.Store, uuid string, want job.State) *job.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		j, err := s.GetJob(context.Background(), uuid)
		if err == nil && j.State == want {
			return j
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s not %s within 3s (last: %+v, err %v)", uuid, want, j, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_DelayDispatchRun(t *testing.T) {
	dbs := memory.NewDatabases()
	dbs.Add("main")
	eng := newEngine(t, dbs, engine.WithInProcessDispatch(true))

	var got atomic.Value
	eng.Register(syncFn, func(_ context.Context, call job.Call) (any, error) {
		got.Store(call.Kwargs["full"])
		return "synced", nil
	})

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	db, err := eng.Database(ctx, "main")
	if err != nil {
		t.Fatalf("Database: %v", err)
	}
	uuid, err := db.Delay.Enqueue(ctx, job.Method{Model: "res.partner", Method: "sync"}, nil, map[string]any{"full": true})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runRunner(t, eng)

	j := waitState(t, db.Store, uuid, job.StateDone)
	if j.Result != "synced" {
		t.Errorf("Result = %q, want synced", j.Result)
	}
	if j.Channel != "root.sync" {
		t.Errorf("Channel = %q, want root.sync", j.Channel)
	}
	if got.Load() != true {
		t.Errorf("handler kwargs full = %v, want true", got.Load())
	}
}

func TestEngine_DatabaseSyncsCatalog(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	eng := newEngine(t, dbs)
	eng.Register(syncFn, func(context.Context, job.Call) (any, error) { return nil, nil })

	if _, err := eng.Database(context.Background(), "main"); err != nil {
		t.Fatalf("Database: %v", err)
	}

	channels, err := s.ListChannels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range channels {
		if c.Name == "root.sync" && c.Capacity == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("root.sync:1 not persisted, got %+v", channels)
	}

	fns, err := s.ListFunctions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, fn := range fns {
		names[fn.Name()] = true
	}
	if !names["res.partner.sync"] || !names["queue.job.autovacuum"] {
		t.Errorf("functions = %v, want res.partner.sync and queue.job.autovacuum", names)
	}
}

func TestEngine_DatabaseIsCached(t *testing.T) {
	dbs := memory.NewDatabases()
	dbs.Add("main")
	eng := newEngine(t, dbs)

	a, err := eng.Database(context.Background(), "main")
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.Database(context.Background(), "main")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("Database opened main twice")
	}
}

func TestEngine_UnknownDatabase(t *testing.T) {
	eng := newEngine(t, memory.NewDatabases())

	_, err := eng.Database(context.Background(), "nope")
	if !errors.Is(err, queuejob.ErrUnknownDatabase) {
		t.Fatalf("Database(nope) = %v, want ErrUnknownDatabase", err)
	}
}

func TestEngine_StartRegistersAutovacuumCron(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	eng := newEngine(t, dbs)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	entries, err := s.ListCrons(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != engine.AutovacuumCron.Name {
		t.Fatalf("crons = %+v, want the autovacuum entry", entries)
	}
	if entries[0].MethodName() != "queue.job.autovacuum" {
		t.Errorf("cron method = %q", entries[0].MethodName())
	}
}

func TestEngine_AutovacuumRunsOnItsDatabase(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	eng := newEngine(t, dbs, engine.WithInProcessDispatch(true))
	ctx := context.Background()

	old := &job.Job{Model: "res.partner", Method: "sync", Channel: "root", Priority: job.DefaultPriority}
	old.Prepare(time.Now().UTC())
	if _, err := s.InsertJob(ctx, old); err != nil {
		t.Fatal(err)
	}
	stored, _ := s.GetJob(ctx, old.UUID)
	doneAt := time.Now().UTC().Add(-40 * 24 * time.Hour)
	stored.State = job.StateDone
	stored.DateDone = &doneAt
	if err := s.UpdateJob(ctx, stored); err != nil {
		t.Fatal(err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	db, _ := eng.Database(ctx, "main")
	uuid, err := db.Delay.Enqueue(ctx, job.Method{Model: "queue.job", Method: "autovacuum"}, nil, nil)
	if err != nil {
		t.Fatalf("Enqueue autovacuum: %v", err)
	}
	runRunner(t, eng)

	j := waitState(t, s, uuid, job.StateDone)
	if j.Result != "1 jobs deleted" {
		t.Errorf("Result = %q, want %q", j.Result, "1 jobs deleted")
	}
	if _, err := s.GetJob(ctx, old.UUID); !errors.Is(err, queuejob.ErrJobNotFound) {
		t.Errorf("old job still present: %v", err)
	}
}

func TestEngine_StopEmitsShutdown(t *testing.T) {
	dbs := memory.NewDatabases()
	dbs.Add("main")
	rec := &shutdownExt{}
	eng := newEngine(t, dbs, engine.WithExtension(rec))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !rec.called.Load() {
		t.Error("OnShutdown not called")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 0
	if _, err := engine.New(cfg, engine.WithBackend(engine.Memory(memory.NewDatabases()))); err == nil {
		t.Fatal("expected error for zero workers")
	}

	cfg = testConfig()
	cfg.RedisURL = "not a url"
	if _, err := engine.New(cfg, engine.WithBackend(engine.Memory(memory.NewDatabases()))); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}
