package memory

import (
	"context"
	"sort"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/id"
)

// CreateBatch persists a new batch.
func (m *Store) CreateBatch(_ context.Context, b *batch.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := b.ID.String()
	if _, exists := m.batches[key]; exists {
		return queuejob.ErrJobAlreadyExists
	}
	cp := *b
	m.batches[key] = &cp
	return nil
}

// GetBatch retrieves a batch by ID.
func (m *Store) GetBatch(_ context.Context, batchID id.ID) (*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return nil, queuejob.ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

// UpdateBatch writes a batch.
func (m *Store) UpdateBatch(_ context.Context, b *batch.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := b.ID.String()
	if _, ok := m.batches[key]; !ok {
		return queuejob.ErrBatchNotFound
	}
	cp := *b
	m.batches[key] = &cp
	return nil
}

// ListBatches returns batches matching opts, newest first.
func (m *Store) ListBatches(_ context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*batch.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		if opts.State != "" && b.State != opts.State {
			continue
		}
		if opts.UserID != 0 && b.UserID != opts.UserID {
			continue
		}
		cp := *b
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	return page(result, opts.Offset, opts.Limit), nil
}
