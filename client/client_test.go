package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/api"
	"github.com/xraph/queuejob/client"
	"github.com/xraph/queuejob/cron"
	"github.com/xraph/queuejob/engine"
	"github.com/xraph/queuejob/job"
	"github.com/xraph/queuejob/store/memory"
	"github.com/xraph/queuejob/webnotify"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupClientTest serves the API of a memory-backed engine and returns a
// client for it together with the opened "main" database.
func setupClientTest(t *testing.T) (*client.Client, *engine.Database) {
	t.Helper()

	dbs := memory.NewDatabases()
	dbs.Add("main")
	cfg := queuejob.DefaultConfig()
	cfg.Databases = []string{"main"}
	eng, err := engine.New(cfg, engine.WithBackend(engine.Memory(dbs)), engine.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	eng.Register(job.Function{Model: "res.partner", Method: "sync", Channel: "root"},
		func(context.Context, job.Call) (any, error) { return nil, nil })

	db, err := eng.Database(context.Background(), "main")
	if err != nil {
		t.Fatalf("Database: %v", err)
	}

	srv := httptest.NewServer(api.New(eng).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = eng.Stop(context.Background())
	})

	c, err := client.New(srv.URL, client.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c, db
}

func enqueue(t *testing.T, db *engine.Database) string {
	t.Helper()
	uuid, err := db.Delay.Enqueue(context.Background(), job.Method{Model: "res.partner", Method: "sync"}, nil, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return uuid
}

// ── Tests ─────────────────────────────────────────────

func TestNew_InvalidURL(t *testing.T) {
	if _, err := client.New("ftp://example.com"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestClient_GetAndListJobs(t *testing.T) {
	c, db := setupClientTest(t)
	ctx := context.Background()
	uuid := enqueue(t, db)

	j, err := c.GetJob(ctx, "main", uuid)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.UUID != uuid || j.State != job.StatePending {
		t.Errorf("job = %+v", j)
	}

	jobs, err := c.ListJobs(ctx, "main", client.ListOptions{State: job.StatePending, Channel: "root"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("ListJobs returned %d jobs, want 1", len(jobs))
	}

	counts, err := c.JobCounts(ctx, "main", "")
	if err != nil {
		t.Fatalf("JobCounts: %v", err)
	}
	if counts[job.StatePending] != 1 {
		t.Errorf("pending = %d, want 1", counts[job.StatePending])
	}
}

func TestClient_NotFoundErrors(t *testing.T) {
	c, _ := setupClientTest(t)
	ctx := context.Background()

	_, err := c.GetJob(ctx, "main", "missing")
	if !errors.Is(err, queuejob.ErrJobNotFound) {
		t.Errorf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}

	_, err = c.ListJobs(ctx, "other", client.ListOptions{})
	if !errors.Is(err, queuejob.ErrUnknownDatabase) {
		t.Errorf("ListJobs(other) = %v, want ErrUnknownDatabase", err)
	}

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("error = %#v, want a 404 APIError", err)
	}
}

func TestClient_CancelRequeue(t *testing.T) {
	c, db := setupClientTest(t)
	ctx := context.Background()
	uuid := enqueue(t, db)

	res, err := c.Cancel(ctx, "main", []string{uuid}, "admin")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(res.Changed) != 1 || res.Changed[0] != uuid {
		t.Fatalf("Cancel result = %+v", res)
	}

	res, err = c.Requeue(ctx, "main", []string{uuid})
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if len(res.Changed) != 1 {
		t.Fatalf("Requeue result = %+v", res)
	}

	j, err := db.Store.GetJob(ctx, uuid)
	if err != nil {
		t.Fatal(err)
	}
	if j.State != job.StatePending {
		t.Errorf("state = %s, want pending", j.State)
	}
}

func TestClient_SetDone(t *testing.T) {
	c, db := setupClientTest(t)
	uuid := enqueue(t, db)

	if _, err := c.SetDone(context.Background(), "main", []string{uuid}, "admin"); err != nil {
		t.Fatalf("SetDone: %v", err)
	}
	j, _ := db.Store.GetJob(context.Background(), uuid)
	if j.State != job.StateDone {
		t.Errorf("state = %s, want done", j.State)
	}
}

func TestClient_Crons(t *testing.T) {
	c, db := setupClientTest(t)
	ctx := context.Background()
	err := db.Scheduler.Register(ctx, cron.Definition{
		Name: "partner.sync", Schedule: "*/5 * * * *", Model: "res.partner", Method: "sync",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	entries, err := c.ListCrons(ctx, "main")
	if err != nil {
		t.Fatalf("ListCrons: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entryID := entries[0].ID

	e, err := c.DisableCron(ctx, "main", entryID)
	if err != nil {
		t.Fatalf("DisableCron: %v", err)
	}
	if e.Enabled {
		t.Error("entry still enabled")
	}
	if e, err = c.EnableCron(ctx, "main", entryID); err != nil || !e.Enabled {
		t.Fatalf("EnableCron = %+v, %v", e, err)
	}

	if err := c.DeleteCron(ctx, "main", entryID); err != nil {
		t.Fatalf("DeleteCron: %v", err)
	}
	if err := c.DeleteCron(ctx, "main", entryID); !errors.Is(err, queuejob.ErrCronNotFound) {
		t.Errorf("second DeleteCron = %v, want ErrCronNotFound", err)
	}
}

func TestClient_StatsAndChannels(t *testing.T) {
	c, db := setupClientTest(t)
	ctx := context.Background()
	enqueue(t, db)

	stats, err := c.Stats(ctx, "main")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Jobs[job.StatePending] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	channels, err := c.Channels(ctx, "main")
	if err != nil {
		t.Fatalf("Channels: %v", err)
	}
	if len(channels) == 0 {
		t.Error("no channels returned")
	}

	n, err := c.Autovacuum(ctx, "main")
	if err != nil || n != 0 {
		t.Errorf("Autovacuum = %d, %v", n, err)
	}
}

// notifyServer upgrades every connection and writes notes, closing the
// connection after each batch.
func notifyServer(t *testing.T, notes ...webnotify.Notification) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/queue_job/notifications" || r.URL.Query().Get("uid") != "2" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := int(dials.Add(1)) - 1
		if n < len(notes) {
			_ = conn.WriteJSON(notes[n])
		}
		// Hold the connection open until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv, &dials
}

func TestClient_Watch(t *testing.T) {
	srv, _ := notifyServer(t, webnotify.Notification{UserID: 2, JobUUID: "abc", State: "failed", Message: "boom"})
	c, err := client.New(srv.URL, client.WithLogger(testLogger()))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Watch(ctx, 2)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	select {
	case n := <-ch:
		if n.JobUUID != "abc" || n.Message != "boom" {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected notification after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestClient_WatchBadUser(t *testing.T) {
	srv, _ := notifyServer(t)
	c, _ := client.New(srv.URL)
	if _, err := c.Watch(context.Background(), 3); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestClient_WatchReconnects(t *testing.T) {
	first := webnotify.Notification{UserID: 2, JobUUID: "one", State: "failed"}
	second := webnotify.Notification{UserID: 2, JobUUID: "two", State: "failed"}

	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if dials.Add(1) == 1 {
			// Drop the first connection right after one notification.
			_ = conn.WriteJSON(first)
			return
		}
		_ = conn.WriteJSON(second)
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithLogger(testLogger()), client.WithReconnect(3, 10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Watch(ctx, 2)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	var got []string
	for len(got) < 2 {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %v", got)
			}
			got = append(got, n.JobUUID)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != "one" || got[1] != "two" {
		t.Errorf("got %v, want [one two]", got)
	}
}
