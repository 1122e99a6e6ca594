package batch

import (
	"context"

	"github.com/xraph/queuejob/id"
)

// ListOpts controls pagination and filtering for batch list queries.
type ListOpts struct {
	Limit  int
	Offset int
	State  State
	UserID int64
}

// Store defines the persistence contract for batches.
type Store interface {
	// CreateBatch persists a new batch.
	CreateBatch(ctx context.Context, b *Batch) error

	// GetBatch retrieves a batch by ID.
	GetBatch(ctx context.Context, batchID id.ID) (*Batch, error)

	// UpdateBatch writes the state and counters of a batch.
	UpdateBatch(ctx context.Context, b *Batch) error

	// ListBatches returns batches matching opts, newest first.
	ListBatches(ctx context.Context, opts ListOpts) ([]*Batch, error)
}
