package runner_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/queuejob/backoff"
	"github.com/xraph/queuejob/channel"
	"github.com/xraph/queuejob/ext"
	"github.com/xraph/queuejob/job"
	"github.com/xraph/queuejob/runner"
	"github.com/xraph/queuejob/store/memory"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// recordingDispatcher records dispatched jobs as "<db>/<uuid>".
type recordingDispatcher struct {
	mu     sync.Mutex
	got    []string
	lastOK bool
	fail   atomic.Bool
	// refuse is the number of upcoming calls to fail.
	refuse int
}

func (d *recordingDispatcher) Dispatch(_ context.Context, db, uuid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, db+"/"+uuid)
	d.lastOK = !d.fail.Load()
	if d.refuse > 0 {
		d.refuse--
		d.lastOK = false
	}
	if !d.lastOK {
		return errors.New("status 503")
	}
	return nil
}

func (d *recordingDispatcher) accepted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastOK
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.got...)
}

// leaseHooks records lease hooks.
type leaseHooks struct {
	mu       sync.Mutex
	enqueued []string
	resets   []string
}

func (h *leaseHooks) Name() string { return "lease-hooks" }

func (h *leaseHooks) OnJobEnqueued(_ context.Context, _ string, row job.Row) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueued = append(h.enqueued, row.UUID)
	return nil
}

func (h *leaseHooks) OnLeaseReset(_ context.Context, _, uuid, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resets = append(h.resets, uuid+":"+reason)
	return nil
}

func (h *leaseHooks) resetReasons() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.resets...)
}

func connectTo(dbs *memory.Databases) runner.ConnectFunc {
	return func(ctx context.Context, name, applicationName string) (runner.Database, error) {
		c, err := dbs.Connect(ctx, name, applicationName)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// flakyConn fails its first leaseErrors Lease calls.
type flakyConn struct {
	*memory.Conn
	leaseErrors atomic.Int32
}

func (c *flakyConn) Lease(ctx context.Context, uuid string, now time.Time) (bool, error) {
	if c.leaseErrors.Add(-1) >= 0 {
		return false, errors.New("could not serialize access")
	}
	return c.Conn.Lease(ctx, uuid, now)
}

func newManager(t *testing.T, channels string) *channel.Manager {
	t.Helper()
	m := channel.NewManager()
	require.NoError(t, m.ConfigureString(channels))
	return m
}

// start runs r until the test ends.
func start(t *testing.T, r *runner.Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("runner did not stop")
		}
	})
}

func insertJob(t *testing.T, s *memory.Store, channelName string) string {
	t.Helper()
	j := &job.Job{
		Model:      "res.partner",
		Method:     "write",
		Channel:    channelName,
		Priority:   job.DefaultPriority,
		MaxRetries: job.DefaultMaxRetries,
	}
	j.Prepare(time.Now().UTC())
	_, err := s.InsertJob(context.Background(), j)
	require.NoError(t, err)
	return j.UUID
}

// finish runs the job like an executor would.
func finish(t *testing.T, s *memory.Store, uuid string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	j, err := s.StartJob(ctx, uuid, 1, "test", now)
	require.NoError(t, err)
	require.NoError(t, j.SetDone(now, ""))
	require.NoError(t, s.UpdateJob(ctx, j))
}

func stateOf(t *testing.T, s *memory.Store, uuid string) job.State {
	t.Helper()
	j, err := s.GetJob(context.Background(), uuid)
	require.NoError(t, err)
	return j.State
}

func TestRunner_DispatchesWithinCapacity(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	first := insertJob(t, s, "root")
	second := insertJob(t, s, "root")

	disp := &recordingDispatcher{}
	hooks := &leaseHooks{}
	exts := ext.NewRegistry(nil)
	exts.Register(hooks)
	r := runner.New(connectTo(dbs), disp, newManager(t, "root:1"),
		runner.WithDatabases("main"),
		runner.WithExtensions(exts),
	)
	start(t, r)

	require.Eventually(t, func() bool { return len(disp.dispatched()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"main/" + first}, disp.dispatched())
	assert.Equal(t, job.StateEnqueued, stateOf(t, s, first))
	assert.Equal(t, job.StatePending, stateOf(t, s, second))

	assert.Never(t, func() bool { return len(disp.dispatched()) > 1 }, 100*time.Millisecond, tick)

	finish(t, s, first)
	require.Eventually(t, func() bool { return len(disp.dispatched()) == 2 }, waitFor, tick)
	assert.Equal(t, "main/"+second, disp.dispatched()[1])

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	assert.Equal(t, []string{first, second}, hooks.enqueued)
}

func TestRunner_DispatchFailureResetsLease(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	uuid := insertJob(t, s, "root")

	disp := &recordingDispatcher{}
	disp.fail.Store(true)
	hooks := &leaseHooks{}
	exts := ext.NewRegistry(nil)
	exts.Register(hooks)
	r := runner.New(connectTo(dbs), disp, newManager(t, "root:1"),
		runner.WithDatabases("main"),
		runner.WithExtensions(exts),
		runner.WithDispatchBackoff(backoff.NewConstant(20*time.Millisecond)),
	)
	start(t, r)

	require.Eventually(t, func() bool { return len(hooks.resetReasons()) >= 1 }, waitFor, tick)
	assert.Equal(t, uuid+":dispatch failed", hooks.resetReasons()[0])

	// Once the executor accepts again the job is dispatched and stays leased.
	disp.fail.Store(false)
	require.Eventually(t, func() bool {
		return disp.accepted() && stateOf(t, s, uuid) == job.StateEnqueued
	}, waitFor, tick)
	n := len(disp.dispatched())
	assert.Never(t, func() bool { return len(disp.dispatched()) > n }, 100*time.Millisecond, tick)
}

func TestRunner_SingleDispatchFailureResumesAfterHold(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	uuid := insertJob(t, s, "root")

	disp := &recordingDispatcher{refuse: 1}
	r := runner.New(connectTo(dbs), disp, newManager(t, "root:1"),
		runner.WithDatabases("main"),
		runner.WithDispatchBackoff(backoff.NewConstant(50*time.Millisecond)),
	)
	start(t, r)

	// The select timeout stays at its default; only the hold may wake the loop.
	require.Eventually(t, func() bool {
		return len(disp.dispatched()) == 2 && disp.accepted()
	}, waitFor, tick)
	assert.Equal(t, job.StateEnqueued, stateOf(t, s, uuid))
}

func TestRunner_LeaseErrorReleasesRemainingJobs(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	first := insertJob(t, s, "root")
	second := insertJob(t, s, "root")

	connect := func(ctx context.Context, name, app string) (runner.Database, error) {
		c, err := dbs.Connect(ctx, name, app)
		if err != nil {
			return nil, err
		}
		fc := &flakyConn{Conn: c}
		fc.leaseErrors.Store(1)
		return fc, nil
	}
	disp := &recordingDispatcher{}
	r := runner.New(connect, disp, newManager(t, "root:2"),
		runner.WithDatabases("main"),
		runner.WithDispatchBackoff(backoff.NewConstant(20*time.Millisecond)),
	)
	start(t, r)

	require.Eventually(t, func() bool { return len(disp.dispatched()) == 2 }, waitFor, tick)
	assert.ElementsMatch(t, []string{"main/" + first, "main/" + second}, disp.dispatched())
	assert.Equal(t, job.StateEnqueued, stateOf(t, s, first))
	assert.Equal(t, job.StateEnqueued, stateOf(t, s, second))

	for _, info := range r.Manager().Channels() {
		if info.Name == "root" {
			assert.Equal(t, 2, info.Running)
			assert.Equal(t, 0, info.Queued)
		}
	}
}

func TestRunner_SweepResetsStaleLease(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	uuid := insertJob(t, s, "root")
	leased, err := s.Lease(context.Background(), uuid, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, leased)

	disp := &recordingDispatcher{}
	hooks := &leaseHooks{}
	exts := ext.NewRegistry(nil)
	exts.Register(hooks)
	r := runner.New(connectTo(dbs), disp, newManager(t, "root:1:enqueued_delta=60"),
		runner.WithDatabases("main"),
		runner.WithExtensions(exts),
	)
	start(t, r)

	require.Eventually(t, func() bool { return len(disp.dispatched()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"main/" + uuid}, disp.dispatched())
	assert.Equal(t, []string{uuid + ":stale enqueued"}, hooks.resetReasons())
}

func TestRunner_DatabaseListener(t *testing.T) {
	dbs := memory.NewDatabases()
	disp := &recordingDispatcher{}
	r := runner.New(connectTo(dbs), disp, newManager(t, "root:2"),
		runner.WithDBListener(dbs),
	)
	start(t, r)

	var sales *memory.Store
	// The listener subscribes once the runner is up; announce until seen.
	require.Eventually(t, func() bool {
		sales = dbs.Add("sales")
		return assert.ObjectsAreEqual([]string{"sales"}, r.Databases())
	}, waitFor, tick)

	uuid := insertJob(t, sales, "root")
	require.Eventually(t, func() bool { return len(disp.dispatched()) == 1 }, waitFor, tick)
	assert.Equal(t, "sales/"+uuid, disp.dispatched()[0])

	dbs.Remove("sales")
	require.Eventually(t, func() bool { return len(r.Databases()) == 0 }, waitFor, tick)
	assert.Equal(t, 0, r.Manager().Len())
}

func TestRunner_LeaderElection(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	other := s.Connect(runner.ApplicationPrefix + "other")
	uuid := insertJob(t, s, "root")

	disp := &recordingDispatcher{}
	r := runner.New(connectTo(dbs), disp, newManager(t, "root:1"),
		runner.WithDatabases("main"),
		runner.WithLeaderElection(true),
		runner.WithSweepInterval(20*time.Millisecond),
	)
	start(t, r)

	assert.Never(t, func() bool { return len(disp.dispatched()) > 0 }, 150*time.Millisecond, tick)

	require.NoError(t, other.Close())
	require.Eventually(t, func() bool { return len(disp.dispatched()) == 1 }, waitFor, tick)
	assert.Equal(t, "main/"+uuid, disp.dispatched()[0])
}

func TestRunner_Reconfigure(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	insertJob(t, s, "root")
	insertJob(t, s, "root")

	disp := &recordingDispatcher{}
	r := runner.New(connectTo(dbs), disp, newManager(t, "root:1"),
		runner.WithDatabases("main"),
	)
	start(t, r)

	require.Eventually(t, func() bool { return len(disp.dispatched()) == 1 }, waitFor, tick)
	require.NoError(t, r.Reconfigure("root:2"))
	require.Eventually(t, func() bool { return len(disp.dispatched()) == 2 }, waitFor, tick)

	assert.Error(t, r.Reconfigure("root:-1"))
}

func TestRunner_RestartsAfterError(t *testing.T) {
	dbs := memory.NewDatabases()
	s := dbs.Add("main")
	uuid := insertJob(t, s, "root")

	var attempts atomic.Int32
	connect := func(ctx context.Context, name, app string) (runner.Database, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return connectTo(dbs)(ctx, name, app)
	}
	disp := &recordingDispatcher{}
	r := runner.New(connect, disp, newManager(t, "root:1"),
		runner.WithDatabases("main"),
		runner.WithErrorRecoveryDelay(10*time.Millisecond),
	)
	start(t, r)

	require.Eventually(t, func() bool { return len(disp.dispatched()) == 1 }, waitFor, tick)
	assert.Equal(t, "main/"+uuid, disp.dispatched()[0])
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestRunner_UnknownDatabaseIsSkipped(t *testing.T) {
	dbs := memory.NewDatabases()
	dbs.Add("main")

	r := runner.New(connectTo(dbs), &recordingDispatcher{}, newManager(t, "root:1"),
		runner.WithDatabases("missing", "main"),
	)
	start(t, r)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"main"}, r.Databases())
	}, waitFor, tick)
	assert.Contains(t, r.ApplicationName(), runner.ApplicationPrefix)
}
