package backoff

import (
	"encoding/json"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// Step applies from Threshold retries on. When Max > Min the delay is
// sampled uniformly in [Min, Max].
type Step struct {
	Threshold int
	Min       time.Duration
	Max       time.Duration
}

// Pattern maps retry counts to postpone delays: the step with the largest
// threshold not above the retry count wins. The zero Pattern always returns
// Fallback, or RetryInterval when Fallback is zero.
//
// Patterns are stored as JSON objects keyed by threshold, with either a
// number of seconds or a [min, max] pair as value:
//
//	{"1": 60, "5": [300, 600]}
type Pattern struct {
	Steps    []Step
	Fallback time.Duration
}

// NewPattern builds a pattern from threshold to seconds.
func NewPattern(seconds map[int]int) Pattern {
	p := Pattern{}
	for threshold, s := range seconds {
		d := time.Duration(s) * time.Second
		p.Steps = append(p.Steps, Step{Threshold: threshold, Min: d, Max: d})
	}
	p.sort()
	return p
}

// WithRange adds a randomized step.
func (p Pattern) WithRange(threshold int, minSeconds, maxSeconds int) Pattern {
	steps := append([]Step(nil), p.Steps...)
	steps = append(steps, Step{
		Threshold: threshold,
		Min:       time.Duration(minSeconds) * time.Second,
		Max:       time.Duration(maxSeconds) * time.Second,
	})
	out := Pattern{Steps: steps, Fallback: p.Fallback}
	out.sort()
	return out
}

// IsZero reports whether the pattern has no steps.
func (p Pattern) IsZero() bool { return len(p.Steps) == 0 }

// Delay implements Strategy.
func (p Pattern) Delay(retry int) time.Duration {
	d := p.Fallback
	if d == 0 {
		d = RetryInterval
	}
	for _, s := range p.Steps {
		if retry < s.Threshold {
			break
		}
		d = s.Min
		if s.Max > s.Min {
			d = s.Min + time.Duration(rand.Int64N(int64(s.Max-s.Min)+1)) //nolint:gosec // jitter
		}
	}
	return d
}

func (p *Pattern) sort() {
	sort.Slice(p.Steps, func(i, j int) bool { return p.Steps[i].Threshold < p.Steps[j].Threshold })
}

// MarshalJSON encodes the pattern as {"threshold": seconds | [min, max]}.
func (p Pattern) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Steps))
	for _, s := range p.Steps {
		key := strconv.Itoa(s.Threshold)
		if s.Max > s.Min {
			out[key] = []int64{int64(s.Min / time.Second), int64(s.Max / time.Second)}
		} else {
			out[key] = int64(s.Min / time.Second)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON. null decodes to
// the zero pattern.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "backoff: retry pattern")
	}
	steps := make([]Step, 0, len(raw))
	for key, value := range raw {
		threshold, err := strconv.Atoi(key)
		if err != nil || threshold < 0 {
			return errors.Newf("backoff: retry pattern: invalid threshold %q", key)
		}
		var seconds int64
		if err := json.Unmarshal(value, &seconds); err == nil {
			d := time.Duration(seconds) * time.Second
			steps = append(steps, Step{Threshold: threshold, Min: d, Max: d})
			continue
		}
		var pair []int64
		if err := json.Unmarshal(value, &pair); err != nil || len(pair) != 2 || pair[0] > pair[1] {
			return errors.Newf("backoff: retry pattern: invalid value %s for threshold %d", value, threshold)
		}
		steps = append(steps, Step{
			Threshold: threshold,
			Min:       time.Duration(pair[0]) * time.Second,
			Max:       time.Duration(pair[1]) * time.Second,
		})
	}
	p.Steps = steps
	p.sort()
	return nil
}
