package channel

import (
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// Channel is a node of the channel tree.
type Channel struct {
	name     string
	parent   *Channel
	children map[string]*Channel
	// kids is children sorted by name, the round-robin order.
	kids []*Channel

	capacity        int
	sequential      bool
	throttle        time.Duration
	limiter         *rate.Limiter
	enqueuedDelta   *time.Duration
	startedDelta    *time.Duration
	removalInterval time.Duration
	configured      bool

	queue   *jobHeap
	eta     *jobHeap
	running map[jobKey]*Job
	// rr is the next round-robin slot: 0 is the own queue, i > 0 is kids[i-1].
	rr int
}

func newChannel(name string, parent *Channel, capacity int) *Channel {
	c := &Channel{
		name:     name,
		parent:   parent,
		children: make(map[string]*Channel),
		capacity: capacity,
		queue:    newJobHeap(runsBefore),
		eta:      newJobHeap(dueBefore),
		running:  make(map[jobKey]*Job),
	}
	if parent != nil {
		parent.children[name] = c
		parent.kids = append(parent.kids, c)
		sort.Slice(parent.kids, func(i, j int) bool { return parent.kids[i].name < parent.kids[j].name })
	}
	return c
}

// FullName returns the dotted path of the channel.
func (c *Channel) FullName() string {
	if c.parent == nil {
		return c.name
	}
	return c.parent.FullName() + "." + c.name
}

func (c *Channel) apply(cfg Config) {
	c.capacity = cfg.Capacity
	c.sequential = cfg.Sequential
	c.enqueuedDelta = cfg.EnqueuedDelta
	c.startedDelta = cfg.StartedDelta
	c.removalInterval = cfg.RemovalInterval
	c.configured = true
	if cfg.Throttle != c.throttle {
		c.throttle = cfg.Throttle
		c.limiter = nil
		if cfg.Throttle > 0 {
			c.limiter = rate.NewLimiter(rate.Every(cfg.Throttle), 1)
		}
	}
}

func (c *Channel) reset(capacity int) {
	c.apply(Config{Capacity: capacity})
	c.configured = false
}

// hasRoom reports whether one more job may start in c's subtree as far as
// c itself is concerned.
func (c *Channel) hasRoom(now time.Time) bool {
	if c.capacity == 0 {
		return false
	}
	if c.capacity != Unlimited && len(c.running) >= c.capacity {
		return false
	}
	if c.sequential && len(c.running) > 0 {
		return false
	}
	if c.limiter != nil && c.limiter.TokensAt(now) < 1 {
		return false
	}
	return true
}

// take pops the next job of c's subtree, serving the own queue and the
// children round-robin. Ancestors' room is checked by the caller.
func (c *Channel) take(now time.Time) *Job {
	if !c.hasRoom(now) {
		return nil
	}
	n := len(c.kids) + 1
	for i := 0; i < n; i++ {
		slot := (c.rr + i) % n
		var j *Job
		if slot == 0 {
			if c.queue.Len() > 0 {
				j = c.queue.pop()
			}
		} else {
			j = c.kids[slot-1].take(now)
		}
		if j != nil {
			c.rr = (slot + 1) % n
			return j
		}
	}
	return nil
}

// promote moves due jobs of the subtree from the eta queue to the queue.
func (c *Channel) promote(now time.Time) {
	for {
		j := c.eta.peek()
		if j == nil || j.ETA.After(now) {
			break
		}
		c.eta.pop()
		j.place = placeQueue
		c.queue.add(j)
	}
	for _, k := range c.kids {
		k.promote(now)
	}
}

// wakeup returns the earliest time something changes in the subtree
// without a notification: an eta coming due or a throttle token refilling
// while jobs wait.
func (c *Channel) wakeup(now time.Time) (time.Time, bool, bool) {
	var best time.Time
	found := false
	consider := func(t time.Time) {
		if !found || t.Before(best) {
			best, found = t, true
		}
	}
	if j := c.eta.peek(); j != nil {
		consider(j.ETA)
	}
	waiting := c.queue.Len() > 0
	for _, k := range c.kids {
		t, ok, w := k.wakeup(now)
		if ok {
			consider(t)
		}
		waiting = waiting || w
	}
	if waiting && c.limiter != nil {
		if tokens := c.limiter.TokensAt(now); tokens < 1 {
			consider(now.Add(time.Duration((1 - tokens) * float64(c.throttle))))
		}
	}
	return best, found, waiting
}

// walk calls fn on c and every descendant, parents first.
func (c *Channel) walk(fn func(*Channel)) {
	fn(c)
	for _, k := range c.kids {
		k.walk(fn)
	}
}

// Info is a snapshot of a channel.
type Info struct {
	Name       string        `json:"name"`
	Capacity   int           `json:"capacity"`
	Sequential bool          `json:"sequential"`
	Throttle   time.Duration `json:"throttle"`
	Queued     int           `json:"queued"`
	Waiting    int           `json:"waiting"`
	Running    int           `json:"running"`
}

func (c *Channel) info() Info {
	return Info{
		Name:       c.FullName(),
		Capacity:   c.capacity,
		Sequential: c.sequential,
		Throttle:   c.throttle,
		Queued:     c.queue.Len(),
		Waiting:    c.eta.Len(),
		Running:    len(c.running),
	}
}
