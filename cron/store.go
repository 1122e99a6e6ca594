package cron

import (
	"context"
	"time"

	"github.com/xraph/queuejob/id"
)

// Store defines the persistence contract for cron entries.
type Store interface {
	// RegisterCron persists a new cron entry. Returns ErrDuplicateCron if
	// the name already exists.
	RegisterCron(ctx context.Context, entry *Entry) error

	// GetCron retrieves a cron entry by ID.
	GetCron(ctx context.Context, entryID id.ID) (*Entry, error)

	// ListCrons returns all cron entries.
	ListCrons(ctx context.Context) ([]*Entry, error)

	// AcquireCronLock attempts to lock a cron entry for runnerID. The
	// lock expires after ttl.
	AcquireCronLock(ctx context.Context, entryID id.ID, runnerID id.ID, ttl time.Duration) (bool, error)

	// ReleaseCronLock releases the lock held by runnerID.
	ReleaseCronLock(ctx context.Context, entryID id.ID, runnerID id.ID) error

	// UpdateCronLastRun records when a cron entry last fired.
	UpdateCronLastRun(ctx context.Context, entryID id.ID, at time.Time) error

	// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
	UpdateCronEntry(ctx context.Context, entry *Entry) error

	// DeleteCron removes a cron entry by ID.
	DeleteCron(ctx context.Context, entryID id.ID) error
}
