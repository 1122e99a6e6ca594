package job_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/backoff"
	"github.com/xraph/queuejob/job"
)

func TestStateMachine_HappyPath(t *testing.T) {
	j := build(t)
	j.Prepare(now)

	if err := j.SetEnqueued(now); err != nil {
		t.Fatalf("SetEnqueued: %v", err)
	}
	started := now.Add(time.Second)
	if err := j.SetStarted(started, 42, "host-a"); err != nil {
		t.Fatalf("SetStarted: %v", err)
	}
	if j.WorkerPID != 42 || j.WorkerHostname != "host-a" {
		t.Errorf("worker = %d@%s", j.WorkerPID, j.WorkerHostname)
	}
	if err := j.SetDone(started.Add(1500*time.Millisecond), "ok"); err != nil {
		t.Fatalf("SetDone: %v", err)
	}
	if j.ExecTime != 1.5 {
		t.Errorf("ExecTime = %v, want 1.5", j.ExecTime)
	}
	if j.Result != "ok" || j.DateDone == nil {
		t.Errorf("done fields: result=%q date_done=%v", j.Result, j.DateDone)
	}
}

func TestStateMachine_RejectsInvalidEdges(t *testing.T) {
	tests := []struct {
		from job.State
		do   func(*job.Job) error
	}{
		{job.StatePending, func(j *job.Job) error { return j.SetStarted(now, 1, "h") }},
		{job.StatePending, func(j *job.Job) error { return j.SetFailed("", "E", "m") }},
		{job.StateWaitDependencies, func(j *job.Job) error { return j.SetEnqueued(now) }},
		{job.StateDone, func(j *job.Job) error { return j.SetStarted(now, 1, "h") }},
		{job.StateCancelled, func(j *job.Job) error { return j.SetDone(now, "") }},
		{job.StateStarted, func(j *job.Job) error { return j.SetCancelled(now, "") }},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			j := build(t)
			j.State = tt.from
			if err := tt.do(j); !errors.Is(err, queuejob.ErrInvalidState) {
				t.Errorf("err = %v, want ErrInvalidState", err)
			}
			if j.State != tt.from {
				t.Errorf("state changed to %s", j.State)
			}
		})
	}
}

func TestSetPending_ResetsLease(t *testing.T) {
	j := build(t)
	j.Prepare(now)
	_ = j.SetEnqueued(now)
	_ = j.SetStarted(now, 1, "h")
	j.Retry = 3

	if err := j.SetPending(false); err != nil {
		t.Fatal(err)
	}
	if j.DateEnqueued != nil || j.DateStarted != nil || j.WorkerPID != 0 {
		t.Errorf("lease not cleared: %+v", j)
	}
	if j.Retry != 3 {
		t.Errorf("Retry = %d, want 3", j.Retry)
	}
	_ = j.SetEnqueued(now)
	_ = j.SetPending(true)
	if j.Retry != 0 {
		t.Errorf("Retry = %d, want 0 after reset", j.Retry)
	}
}

func TestStateHelpers(t *testing.T) {
	for _, s := range job.States {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if job.State("running").Valid() {
		t.Error("unknown state should be invalid")
	}
	if !job.StateDone.Terminal() || !job.StateCancelled.Terminal() || job.StateFailed.Terminal() {
		t.Error("terminal states are done and cancelled")
	}
	if !job.StateEnqueued.Leased() || !job.StateStarted.Leased() || job.StatePending.Leased() {
		t.Error("leased states are enqueued and started")
	}
}

func startedJob(t *testing.T, maxRetries int) *job.Job {
	t.Helper()
	j := build(t, job.WithMaxRetries(maxRetries))
	j.Prepare(now)
	_ = j.SetEnqueued(now)
	_ = j.SetStarted(now, 1, "h")
	return j
}

func TestApplyRetryable_FollowsPattern(t *testing.T) {
	pattern := backoff.NewPattern(map[int]int{1: 60, 3: 300})
	j := startedJob(t, 0)

	want := []time.Duration{60 * time.Second, 60 * time.Second, 300 * time.Second}
	for i, delay := range want {
		failed, err := j.ApplyRetryable(now, queuejob.Retryable("busy"), pattern)
		if err != nil || failed {
			t.Fatalf("attempt %d: failed=%v err=%v", i+1, failed, err)
		}
		if j.State != job.StatePending {
			t.Errorf("attempt %d: state = %s", i+1, j.State)
		}
		if got := j.ETA.Sub(now); got != delay {
			t.Errorf("attempt %d: eta = now+%v, want now+%v", i+1, got, delay)
		}
		_ = j.SetEnqueued(now)
		_ = j.SetStarted(now, 1, "h")
	}
	if j.Retry != 3 {
		t.Errorf("Retry = %d, want 3", j.Retry)
	}
}

func TestApplyRetryable_ExplicitSecondsAndIgnoreRetry(t *testing.T) {
	j := startedJob(t, 5)
	rerr := queuejob.RetryableWrap(fmt.Errorf("locked"), 5, true)
	if _, err := j.ApplyRetryable(now, rerr, nil); err != nil {
		t.Fatal(err)
	}
	if j.Retry != 0 {
		t.Errorf("Retry = %d, want 0 with IgnoreRetry", j.Retry)
	}
	if got := j.ETA.Sub(now); got != 5*time.Second {
		t.Errorf("eta = now+%v, want now+5s", got)
	}
}

func TestApplyRetryable_MaxRetriesFails(t *testing.T) {
	j := startedJob(t, 2)
	j.Retry = 1
	failed, err := j.ApplyRetryable(now, queuejob.Retryable("still busy"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !failed || j.State != job.StateFailed {
		t.Fatalf("failed=%v state=%s, want failed", failed, j.State)
	}
	if j.ExcName != job.FailedJobErrorName {
		t.Errorf("ExcName = %q", j.ExcName)
	}
	if j.ExcMessage != "Max. retries (2) reached: still busy" {
		t.Errorf("ExcMessage = %q", j.ExcMessage)
	}
	if j.ExcInfo == "" {
		t.Error("ExcInfo should carry the stack")
	}
}

func TestApplyRetryable_UnlimitedRetries(t *testing.T) {
	j := startedJob(t, 0)
	j.Retry = 1000
	failed, _ := j.ApplyRetryable(now, queuejob.Retryable("x"), nil)
	if failed {
		t.Fatal("max_retries = 0 must retry forever")
	}
	if got := j.ETA.Sub(now); got != backoff.RetryInterval {
		t.Errorf("eta = now+%v, want now+%v", got, backoff.RetryInterval)
	}
}
