package job

import "context"

// NotifyChannel is the channel job changes are published on. The payload
// is the job uuid.
const NotifyChannel = "queue_job"

// DBListenerChannel carries "add <db>" and "remove <db>" payloads.
const DBListenerChannel = "queue_job_db_listener"

// Subscription delivers notification payloads.
type Subscription interface {
	// Next blocks until a payload arrives or ctx is done.
	Next(ctx context.Context) (string, error)
	// Close releases the subscription.
	Close() error
}

// Notifier publishes the uuid of every inserted or updated job, and of
// deleted jobs that were not done.
type Notifier interface {
	Listen(ctx context.Context) (Subscription, error)
}
