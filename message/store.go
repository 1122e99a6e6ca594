package message

import (
	"context"
	"time"

	"github.com/xraph/queuejob/id"
)

// ListOpts controls pagination and filtering for message list queries.
type ListOpts struct {
	// Limit is the maximum number of messages to return. Zero means no limit.
	Limit int
	// Offset is the number of messages to skip.
	Offset int
	// JobUUID filters by job. Empty means all jobs.
	JobUUID string
	// Unread keeps only messages without ReadAt.
	Unread bool
}

// Store defines the persistence contract for job messages.
type Store interface {
	// PostMessage persists a message.
	PostMessage(ctx context.Context, m *Message) error

	// ListMessages returns messages matching opts, oldest first.
	ListMessages(ctx context.Context, opts ListOpts) ([]*Message, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, messageID id.ID) (*Message, error)

	// MarkMessageRead sets ReadAt on a message.
	MarkMessageRead(ctx context.Context, messageID id.ID, at time.Time) error

	// PurgeMessages removes messages created before the given time and
	// returns how many were removed.
	PurgeMessages(ctx context.Context, before time.Time) (int64, error)

	// CountMessages returns the number of stored messages.
	CountMessages(ctx context.Context) (int64, error)
}
