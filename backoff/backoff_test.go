package backoff_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/queuejob/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)
	for attempt := 1; attempt <= 8; attempt++ {
		for range 50 {
			got := e.Delay(attempt)
			if got < 0 || got > 10*time.Second {
				t.Fatalf("Delay(%d) = %v, out of [0, 10s]", attempt, got)
			}
		}
	}
}

func TestDefaultStrategy(t *testing.T) {
	if got := backoff.DefaultStrategy().Delay(3); got != backoff.RetryInterval {
		t.Errorf("Delay(3) = %v, want %v", got, backoff.RetryInterval)
	}
}

func TestPattern_LargestThresholdWins(t *testing.T) {
	p := backoff.NewPattern(map[int]int{1: 60, 2: 180, 3: 10, 5: 300})

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 60 * time.Second},
		{2, 180 * time.Second},
		{3, 10 * time.Second},
		{4, 10 * time.Second},
		{5, 300 * time.Second},
		{42, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.retry); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestPattern_FallbackBelowFirstThreshold(t *testing.T) {
	p := backoff.NewPattern(map[int]int{3: 30})
	if got := p.Delay(1); got != backoff.RetryInterval {
		t.Errorf("Delay(1) = %v, want %v", got, backoff.RetryInterval)
	}
	p.Fallback = time.Minute
	if got := p.Delay(1); got != time.Minute {
		t.Errorf("Delay(1) = %v, want 1m", got)
	}
	var zero backoff.Pattern
	if got := zero.Delay(7); got != backoff.RetryInterval {
		t.Errorf("zero Delay(7) = %v, want %v", got, backoff.RetryInterval)
	}
}

func TestPattern_RangeIsSampledWithinBounds(t *testing.T) {
	p := backoff.NewPattern(map[int]int{1: 5}).WithRange(2, 10, 20)
	for range 100 {
		got := p.Delay(2)
		if got < 10*time.Second || got > 20*time.Second {
			t.Fatalf("Delay(2) = %v, out of [10s, 20s]", got)
		}
	}
	if got := p.Delay(1); got != 5*time.Second {
		t.Errorf("Delay(1) = %v, want 5s", got)
	}
}

func TestPattern_JSON(t *testing.T) {
	var p backoff.Pattern
	if err := json.Unmarshal([]byte(`{"1": 60, "3": [300, 600]}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(p.Steps))
	}
	if p.Steps[0].Threshold != 1 || p.Steps[1].Threshold != 3 {
		t.Errorf("steps not sorted: %+v", p.Steps)
	}
	if p.Steps[1].Min != 300*time.Second || p.Steps[1].Max != 600*time.Second {
		t.Errorf("range step = %+v", p.Steps[1])
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"1":60,"3":[300,600]}` {
		t.Errorf("marshal = %s", data)
	}
}

func TestPattern_JSONRejectsBadValues(t *testing.T) {
	for _, in := range []string{`{"x": 1}`, `{"1": "soon"}`, `{"1": [5]}`, `{"1": [9, 2]}`, `[1]`} {
		var p backoff.Pattern
		if err := json.Unmarshal([]byte(in), &p); err == nil {
			t.Errorf("Unmarshal(%s): expected error", in)
		}
	}
}
