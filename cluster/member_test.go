package cluster_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/queuejob/cluster"
	"github.com/xraph/queuejob/store/memory"
)

func TestMember_JoinBeatLeave(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	m := cluster.NewMember(s, "jobrunner_test", []string{"main"})

	if err := m.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}
	runners, err := s.ListRunners(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runners) != 1 || runners[0].ApplicationName != "jobrunner_test" {
		t.Fatalf("runners = %+v", runners)
	}
	if got := m.Runner(); got.State != cluster.RunnerActive || len(got.Databases) != 1 {
		t.Errorf("Runner() = %+v", got)
	}

	if err := m.Beat(ctx); err != nil {
		t.Fatalf("Beat: %v", err)
	}
	if err := m.Leave(ctx); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	runners, _ = s.ListRunners(ctx)
	if len(runners) != 0 {
		t.Errorf("runners after Leave = %d", len(runners))
	}
}

func TestMember_BeatReapsDeadRunners(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	stale := cluster.NewMember(s, "jobrunner_old", nil)
	if err := stale.Join(ctx); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	live := cluster.NewMember(s, "jobrunner_new", nil, cluster.WithReapThreshold(10*time.Millisecond))
	if err := live.Join(ctx); err != nil {
		t.Fatal(err)
	}
	if err := live.Beat(ctx); err != nil {
		t.Fatal(err)
	}

	runners, _ := s.ListRunners(ctx)
	if len(runners) != 1 || runners[0].ApplicationName != "jobrunner_new" {
		t.Errorf("runners = %+v, want only jobrunner_new", runners)
	}
}

func TestMember_Leadership(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a := cluster.NewMember(s, "a", nil, cluster.WithLeaderTTL(time.Minute))
	b := cluster.NewMember(s, "b", nil, cluster.WithLeaderTTL(time.Minute))
	for _, m := range []*cluster.Member{a, b} {
		if err := m.Join(ctx); err != nil {
			t.Fatal(err)
		}
	}

	ok, err := a.TryLeadership(ctx)
	if err != nil || !ok {
		t.Fatalf("a.TryLeadership = %v, %v", ok, err)
	}
	ok, err = b.TryLeadership(ctx)
	if err != nil || ok {
		t.Fatalf("b.TryLeadership = %v, %v; want false", ok, err)
	}
	// Renewal keeps the lease.
	if ok, _ := a.TryLeadership(ctx); !ok {
		t.Error("a lost leadership on renewal")
	}

	if lead, _ := a.IsLeader(ctx); !lead {
		t.Error("a.IsLeader = false")
	}
	if lead, _ := b.IsLeader(ctx); lead {
		t.Error("b.IsLeader = true")
	}
	if a.LeaderTTL() != time.Minute {
		t.Errorf("LeaderTTL = %v", a.LeaderTTL())
	}
}
