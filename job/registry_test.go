package job_test

import (
	"context"
	"errors"
	"testing"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/codec"
	"github.com/xraph/queuejob/job"
)

type mailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegistry_RegisterAndPerform(t *testing.T) {
	r := job.NewRegistry()

	var got mailInput
	var gotIDs []int64
	job.RegisterTyped(r, job.Function{Model: "mail.mail", Method: "send", Channel: "root.mail"},
		func(_ context.Context, records codec.RecordRef, in mailInput) (any, error) {
			got = in
			gotIDs = records.IDs
			return "sent", nil
		})

	j, err := job.Build(r, job.Method{Model: "mail.mail", Method: "send", Records: codec.RecordRef{IDs: []int64{7}}},
		nil, map[string]any{"to": "alice@example.com", "subject": "Hello"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if j.Channel != "root.mail" {
		t.Errorf("Channel = %q, want %q", j.Channel, "root.mail")
	}

	res, err := j.Perform(context.Background(), r)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if res != "sent" {
		t.Errorf("result = %v, want sent", res)
	}
	if got.To != "alice@example.com" || got.Subject != "Hello" {
		t.Errorf("input = %+v", got)
	}
	if len(gotIDs) != 1 || gotIDs[0] != 7 {
		t.Errorf("ids = %v, want [7]", gotIDs)
	}
}

func TestRegistry_HandlerSeesJobInContext(t *testing.T) {
	r := job.NewRegistry()
	var seen string
	job.Register(r, job.Function{Model: "m", Method: "run"}, func(ctx context.Context, _ job.Call) (any, error) {
		j, ok := job.FromContext(ctx)
		if !ok {
			t.Fatal("job missing from context")
		}
		seen = j.UUID
		return nil, nil
	})
	j, _ := job.Build(r, job.Method{Model: "m", Method: "run"}, nil, nil)
	j.UUID = "abc"
	if _, err := j.Perform(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if seen != "abc" {
		t.Errorf("uuid in context = %q, want abc", seen)
	}
}

func TestRegistry_PerformUnknown(t *testing.T) {
	r := job.NewRegistry()
	j, err := job.Build(r, job.Method{Model: "m", Method: "missing"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if j.Channel != job.DefaultChannel {
		t.Errorf("Channel = %q, want root", j.Channel)
	}
	_, err = j.Perform(context.Background(), r)
	if !errors.Is(err, queuejob.ErrNoHandler) {
		t.Fatalf("err = %v, want ErrNoHandler", err)
	}
}

func TestPerform_NilRegistry(t *testing.T) {
	j, err := job.Build(nil, job.Method{Model: "m", Method: "x"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Perform(context.Background(), nil); !errors.Is(err, queuejob.ErrNoHandler) {
		t.Fatalf("err = %v, want ErrNoHandler", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := job.NewRegistry()
	noop := func(context.Context, job.Call) (any, error) { return nil, nil }
	job.Register(r, job.Function{Model: "b", Method: "x"}, noop)
	job.Register(r, job.Function{Model: "a", Method: "y"}, noop)
	job.Register(r, job.Function{Model: "a", Method: "x"}, noop)

	names := r.Names()
	want := []string{"a.x", "a.y", "b.x"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRegistry_InvalidKwargs(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterTyped(r, job.Function{Model: "m", Method: "typed"},
		func(context.Context, codec.RecordRef, mailInput) (any, error) {
			t.Fatal("handler should not be called with mismatched kwargs")
			return nil, nil
		})
	j, _ := job.Build(r, job.Method{Model: "m", Method: "typed"}, nil, map[string]any{"to": int64(5)})
	if _, err := j.Perform(context.Background(), r); err == nil {
		t.Fatal("expected decode error")
	}
}
