// Package memory is an in-memory implementation of store.Store. It mirrors
// the PostgreSQL backend, including the queue_job notifications of its
// trigger, and is intended for unit tests and development.
package memory

import (
	"context"
	"sync"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/cluster"
	"github.com/xraph/queuejob/cron"
	"github.com/xraph/queuejob/job"
	"github.com/xraph/queuejob/message"
	"github.com/xraph/queuejob/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	seq       int64
	jobs      map[string]*job.Job
	channels  map[string]job.ChannelRecord
	functions map[string]job.Function
	batches   map[string]*batch.Batch
	messages  map[string]*message.Message
	crons     map[string]*cron.Entry
	runners   map[string]*cluster.Runner

	leader      string
	leaderUntil time.Time

	conns  []*Conn
	hub    *hub
	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.Job),
		channels:  make(map[string]job.ChannelRecord),
		functions: make(map[string]job.Function),
		batches:   make(map[string]*batch.Batch),
		messages:  make(map[string]*message.Message),
		crons:     make(map[string]*cron.Entry),
		runners:   make(map[string]*cluster.Runner),
		hub:       newHub(),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails once the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return queuejob.ErrStoreClosed
	}
	return nil
}

// Close ends every subscription.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.hub.close()
	return nil
}

// Listen subscribes to the uuids of changed jobs.
func (m *Store) Listen(_ context.Context) (job.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, queuejob.ErrStoreClosed
	}
	return m.hub.subscribe(), nil
}

// page applies offset and limit to a sorted slice.
func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
