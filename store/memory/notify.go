package memory

import (
	"context"
	"sync"

	queuejob "github.com/xraph/queuejob"
)

// hub fans payloads out to subscriptions. Publishing never blocks.
type hub struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[*subscription]struct{})}
}

func (h *hub) publish(payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.push(payload)
	}
}

func (h *hub) subscribe() *subscription {
	s := &subscription{hub: h, signal: make(chan struct{}, 1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.closed = true
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		s.shut()
		delete(h.subs, s)
	}
}

func (h *hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// subscription buffers payloads without bound so that none is lost.
type subscription struct {
	hub    *hub
	mu     sync.Mutex
	queue  []string
	closed bool
	signal chan struct{}
}

func (s *subscription) push(payload string) {
	s.mu.Lock()
	s.queue = append(s.queue, payload)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) shut() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next returns the oldest pending payload, waiting for one if needed.
func (s *subscription) Next(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			p := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return p, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return "", queuejob.ErrStoreClosed
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.signal:
		}
	}
}

// Close unsubscribes.
func (s *subscription) Close() error {
	s.hub.remove(s)
	s.shut()
	return nil
}
