package job_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/codec"
	"github.com/xraph/queuejob/job"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func build(t *testing.T, opts ...job.Option) *job.Job {
	t.Helper()
	j, err := job.Build(nil, job.Method{Model: "res.users", Method: "touch", Records: codec.RecordRef{IDs: []int64{1}}},
		[]any{"a"}, map[string]any{"k": int64(1)}, opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return j
}

func TestBuild_Defaults(t *testing.T) {
	j := build(t)
	if j.Priority != job.DefaultPriority {
		t.Errorf("Priority = %d, want %d", j.Priority, job.DefaultPriority)
	}
	if j.MaxRetries != job.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", j.MaxRetries, job.DefaultMaxRetries)
	}
	if j.Retry != 0 {
		t.Errorf("Retry = %d, want 0", j.Retry)
	}
	if j.Description != "res.users.touch" {
		t.Errorf("Description = %q", j.Description)
	}
	if j.Records.Model != "res.users" {
		t.Errorf("Records.Model = %q", j.Records.Model)
	}
	if j.Stored() {
		t.Error("built job must not be stored")
	}
}

func TestBuild_RejectsNonMethods(t *testing.T) {
	for _, m := range []job.Method{{Model: "", Method: "x"}, {Model: "m", Method: ""}, {Model: "m", Method: "_private"}} {
		_, err := job.Build(nil, m, nil, nil)
		if !errors.Is(err, queuejob.ErrNotMethod) {
			t.Errorf("Build(%+v) err = %v, want ErrNotMethod", m, err)
		}
	}
}

func TestBuild_RejectsUnsupportedArgs(t *testing.T) {
	_, err := job.Build(nil, job.Method{Model: "m", Method: "x"}, []any{struct{}{}}, nil)
	if !errors.Is(err, queuejob.ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestBuild_Options(t *testing.T) {
	eta := now.Add(time.Hour)
	j := build(t,
		job.WithPriority(1),
		job.WithMaxRetries(0),
		job.WithETA(eta),
		job.WithChannel("root.users"),
		job.WithDescription("touch user"),
		job.WithIdentity(job.IdentityExact),
	)
	if j.Priority != 1 || j.MaxRetries != 0 || j.Channel != "root.users" || j.Description != "touch user" {
		t.Errorf("options not applied: %+v", j)
	}
	if j.ETA == nil || !j.ETA.Equal(eta) {
		t.Errorf("ETA = %v, want %v", j.ETA, eta)
	}
	if j.IdentityKey != job.IdentityExact(j) || len(j.IdentityKey) != 40 {
		t.Errorf("IdentityKey = %q", j.IdentityKey)
	}
}

func TestIdentityExact(t *testing.T) {
	a := build(t)
	b := build(t)
	if job.IdentityExact(a) != job.IdentityExact(b) {
		t.Error("same call must share the identity")
	}
	b.Records.IDs = []int64{2}
	if job.IdentityExact(a) == job.IdentityExact(b) {
		t.Error("different records must differ")
	}
	c := build(t)
	c.Kwargs = map[string]any{"k": int64(2)}
	if job.IdentityExact(a) == job.IdentityExact(c) {
		t.Error("different kwargs must differ")
	}
	// record order does not matter
	d, _ := job.Build(nil, job.Method{Model: "m", Method: "x", Records: codec.RecordRef{IDs: []int64{2, 1}}}, nil, nil)
	e, _ := job.Build(nil, job.Method{Model: "m", Method: "x", Records: codec.RecordRef{IDs: []int64{1, 2}}}, nil, nil)
	if job.IdentityExact(d) != job.IdentityExact(e) {
		t.Error("record order must not change the identity")
	}
}

func TestPrepare(t *testing.T) {
	root := build(t)
	root.Prepare(now)
	if root.UUID == "" || !root.DateCreated.Equal(now) || root.State != job.StatePending {
		t.Errorf("root after Prepare: %+v", root)
	}

	child := build(t)
	child.UUID = job.NewUUID()
	child.AddDependency(root)
	child.AddDependency(root)
	child.Prepare(now)
	if child.State != job.StateWaitDependencies {
		t.Errorf("child state = %s, want wait_dependencies", child.State)
	}
	if len(child.DependsOn) != 1 || len(root.ReverseDependsOn) != 1 {
		t.Errorf("edges duplicated: %v %v", child.DependsOn, root.ReverseDependsOn)
	}
}

func TestEligible(t *testing.T) {
	j := build(t)
	j.Prepare(now)
	if !j.Eligible(now) {
		t.Error("pending job without eta must be eligible")
	}
	eta := now
	j.ETA = &eta
	if !j.Eligible(now) {
		t.Error("eta == now must be eligible")
	}
	later := now.Add(time.Second)
	j.ETA = &later
	if j.Eligible(now) {
		t.Error("eta > now must not be eligible")
	}
}

func TestRelatedAction(t *testing.T) {
	j := build(t)
	a, ok := j.RelatedAction(job.Function{})
	if !ok || a.Type != "open_record" || a.Model != "res.users" {
		t.Errorf("single record action = %+v, %v", a, ok)
	}
	j.Records.IDs = []int64{1, 2}
	a, _ = j.RelatedAction(job.Function{})
	if a.Type != "list_records" {
		t.Errorf("Type = %q, want list_records", a.Type)
	}
	off := false
	if _, ok := j.RelatedAction(job.Function{RelatedAction: job.RelatedAction{Enable: &off}}); ok {
		t.Error("disabled action must not resolve")
	}
}

func TestClone(t *testing.T) {
	j := build(t)
	eta := now
	j.ETA = &eta
	c := j.Clone()
	c.Args[0] = "changed"
	c.Kwargs["k"] = int64(9)
	*c.ETA = now.Add(time.Hour)
	if j.Args[0] != "a" || j.Kwargs["k"] != int64(1) || !j.ETA.Equal(now) {
		t.Error("clone aliases the original")
	}
	if !strings.HasPrefix(c.MethodName(), "res.users") {
		t.Error("clone lost fields")
	}
}
