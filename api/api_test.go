package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/admin"
	"github.com/xraph/queuejob/api"
	"github.com/xraph/queuejob/cron"
	"github.com/xraph/queuejob/engine"
	"github.com/xraph/queuejob/job"
	"github.com/xraph/queuejob/store/memory"
)

var syncFn = job.Function{Model: "res.partner", Method: "sync", Channel: "root"}

type fixture struct {
	eng   *engine.Engine
	db    *engine.Database
	store *memory.Store
	srv   *httptest.Server
}

func newFixture(t *testing.T, mutate func(*queuejob.Config)) *fixture {
	t.Helper()
	dbs := memory.NewDatabases()
	s := dbs.Add("main")

	cfg := queuejob.DefaultConfig()
	cfg.Databases = []string{"main"}
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := engine.New(cfg, engine.WithBackend(engine.Memory(dbs)))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	eng.Register(syncFn, func(context.Context, job.Call) (any, error) { return "ok", nil })

	db, err := eng.Database(context.Background(), "main")
	if err != nil {
		t.Fatalf("Database: %v", err)
	}
	srv := httptest.NewServer(api.New(eng).Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return &fixture{eng: eng, db: db, store: s, srv: srv}
}

func (f *fixture) enqueue(t *testing.T) string {
	t.Helper()
	uuid, err := f.db.Delay.Enqueue(context.Background(), job.Method{Model: "res.partner", Method: "sync"}, nil, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return uuid
}

func (f *fixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAPI_ListAndGetJob(t *testing.T) {
	f := newFixture(t, nil)
	uuid := f.enqueue(t)

	var jobs []*job.Job
	if code := f.do(t, http.MethodGet, "/v1/main/jobs?state=pending", nil, &jobs); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(jobs) != 1 || jobs[0].UUID != uuid {
		t.Fatalf("jobs = %+v, want one job %s", jobs, uuid)
	}

	var j job.Job
	if code := f.do(t, http.MethodGet, "/v1/main/jobs/"+uuid, nil, &j); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if j.Channel != "root" || j.State != job.StatePending {
		t.Errorf("job = %+v", j)
	}

	if code := f.do(t, http.MethodGet, "/v1/main/jobs/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", code)
	}
	if code := f.do(t, http.MethodGet, "/v1/main/jobs?state=bogus", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad state status = %d, want 400", code)
	}
}

func TestAPI_UnknownDatabase(t *testing.T) {
	f := newFixture(t, nil)
	if code := f.do(t, http.MethodGet, "/v1/other/jobs", nil, nil); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}

func TestAPI_JobCounts(t *testing.T) {
	f := newFixture(t, nil)
	f.enqueue(t)
	f.enqueue(t)

	var counts map[job.State]int64
	if code := f.do(t, http.MethodGet, "/v1/main/jobs/counts", nil, &counts); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if counts[job.StatePending] != 2 || counts[job.StateDone] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestAPI_CancelThenRequeue(t *testing.T) {
	f := newFixture(t, nil)
	uuid := f.enqueue(t)

	var res admin.Result
	code := f.do(t, http.MethodPost, "/v1/main/jobs/cancel", api.JobsRequest{UUIDs: []string{uuid}, User: "admin"}, &res)
	if code != http.StatusOK {
		t.Fatalf("cancel status = %d", code)
	}
	if len(res.Changed) != 1 {
		t.Fatalf("cancel result = %+v", res)
	}
	j, _ := f.store.GetJob(context.Background(), uuid)
	if j.State != job.StateCancelled {
		t.Fatalf("state = %s, want cancelled", j.State)
	}

	res = admin.Result{}
	if code := f.do(t, http.MethodPost, "/v1/main/jobs/requeue", api.JobsRequest{UUIDs: []string{uuid}}, &res); code != http.StatusOK {
		t.Fatalf("requeue status = %d", code)
	}
	j, _ = f.store.GetJob(context.Background(), uuid)
	if j.State != job.StatePending {
		t.Errorf("state = %s, want pending", j.State)
	}

	if code := f.do(t, http.MethodPost, "/v1/main/jobs/requeue", api.JobsRequest{}, nil); code != http.StatusBadRequest {
		t.Errorf("empty uuids status = %d, want 400", code)
	}
}

func TestAPI_Autovacuum(t *testing.T) {
	f := newFixture(t, nil)
	var res api.AutovacuumResponse
	if code := f.do(t, http.MethodPost, "/v1/main/autovacuum", nil, &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if res.Deleted != 0 {
		t.Errorf("deleted = %d, want 0", res.Deleted)
	}
}

func TestAPI_CronEnableDisableDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	err := f.db.Scheduler.Register(ctx, cron.Definition{
		Name: "partner.sync", Schedule: "@hourly", Model: "res.partner", Method: "sync",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var entries []*cron.Entry
	if code := f.do(t, http.MethodGet, "/v1/main/crons", nil, &entries); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	path := "/v1/main/crons/" + entries[0].ID.String()

	var entry cron.Entry
	if code := f.do(t, http.MethodPost, path+"/disable", nil, &entry); code != http.StatusOK {
		t.Fatalf("disable status = %d", code)
	}
	if entry.Enabled {
		t.Error("entry still enabled")
	}

	entry = cron.Entry{}
	if code := f.do(t, http.MethodPost, path+"/enable", nil, &entry); code != http.StatusOK {
		t.Fatalf("enable status = %d", code)
	}
	if !entry.Enabled || entry.NextRunAt == nil || !entry.NextRunAt.After(time.Now()) {
		t.Errorf("enabled entry = %+v, want a future NextRunAt", entry)
	}

	if code := f.do(t, http.MethodDelete, path, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete status = %d", code)
	}
	if code := f.do(t, http.MethodGet, path, nil, nil); code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", code)
	}
	if code := f.do(t, http.MethodGet, "/v1/main/crons/garbage", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", code)
	}
}

func TestAPI_RunJob(t *testing.T) {
	f := newFixture(t, nil)
	uuid := f.enqueue(t)
	ctx := context.Background()

	if code := f.do(t, http.MethodGet, "/queue_job/runjob?db=main&job_uuid="+uuid, nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("stopped pool status = %d, want 503", code)
	}

	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ok, err := f.store.Lease(ctx, uuid, time.Now().UTC()); err != nil || !ok {
		t.Fatalf("Lease = %v, %v", ok, err)
	}
	if code := f.do(t, http.MethodGet, "/queue_job/runjob?db=main&job_uuid="+uuid, nil, nil); code != http.StatusOK {
		t.Fatalf("runjob status = %d", code)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		j, err := f.store.GetJob(ctx, uuid)
		if err == nil && j.State == job.StateDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job not done within 3s: %+v", j)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if code := f.do(t, http.MethodGet, "/queue_job/runjob?db=main", nil, nil); code != http.StatusBadRequest {
		t.Errorf("missing uuid status = %d, want 400", code)
	}
}

// syncBuffer is a log sink shared with the server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestAPI_RunJobRejectionIsLogged(t *testing.T) {
	dbs := memory.NewDatabases()
	dbs.Add("main")
	cfg := queuejob.DefaultConfig()
	cfg.Databases = []string{"main"}

	logs := &syncBuffer{}
	eng, err := engine.New(cfg,
		engine.WithBackend(engine.Memory(dbs)),
		engine.WithLogger(slog.New(slog.NewJSONHandler(logs, nil))),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	srv := httptest.NewServer(api.New(eng).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/queue_job/runjob?db=main&job_uuid=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}

	var entry map[string]any
	for _, line := range logs.lines() {
		var e map[string]any
		if json.Unmarshal([]byte(line), &e) == nil && e["msg"] == "runjob rejected" {
			entry = e
		}
	}
	if entry == nil {
		t.Fatalf("no runjob rejected entry in %v", logs.lines())
	}
	if entry["db"] != "main" || entry["job_uuid"] != "abc" {
		t.Errorf("entry = %v", entry)
	}
	if msg, _ := entry["error"].(string); msg == "" {
		t.Errorf("error attribute = %v, want a string", entry["error"])
	}
}

func TestAPI_RunJobBasicAuth(t *testing.T) {
	f := newFixture(t, func(cfg *queuejob.Config) {
		cfg.HTTPAuthUser = "runner"
		cfg.HTTPAuthPassword = "secret"
	})

	if code := f.do(t, http.MethodGet, "/queue_job/runjob?db=main&job_uuid=x", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", code)
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/queue_job/runjob?db=main&job_uuid=x", nil)
	req.SetBasicAuth("runner", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Error("valid credentials rejected")
	}
}

func TestAPI_NotificationsWithoutRedis(t *testing.T) {
	f := newFixture(t, nil)
	if code := f.do(t, http.MethodGet, "/queue_job/notifications", nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
}

func TestAPI_Stats(t *testing.T) {
	f := newFixture(t, nil)
	f.enqueue(t)

	var stats api.StatsResponse
	if code := f.do(t, http.MethodGet, "/v1/main/stats", nil, &stats); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if stats.Database != "main" || stats.Jobs[job.StatePending] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	var channels []job.ChannelRecord
	if code := f.do(t, http.MethodGet, "/v1/main/channels", nil, &channels); code != http.StatusOK {
		t.Fatalf("channels status = %d", code)
	}
	if len(channels) == 0 || channels[0].Name != "root" {
		t.Errorf("channels = %+v", channels)
	}
}
