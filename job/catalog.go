package job

import (
	"context"
	"time"
)

// ChannelRecord is the persisted configuration of a channel.
type ChannelRecord struct {
	// Name is the full dotted path, e.g. "root.mail".
	Name string `json:"name"`
	// Parent is the parent path, empty for root.
	Parent          string        `json:"parent,omitempty"`
	Capacity        int           `json:"capacity"`
	Sequential      bool          `json:"sequential"`
	RemovalInterval time.Duration `json:"removal_interval"`
}

// CatalogStore persists channel and function configuration.
type CatalogStore interface {
	UpsertChannel(ctx context.Context, c ChannelRecord) error
	ListChannels(ctx context.Context) ([]ChannelRecord, error)
	UpsertFunction(ctx context.Context, fn Function) error
	ListFunctions(ctx context.Context) ([]Function, error)
}
