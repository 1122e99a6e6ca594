package job

import (
	"time"

	"github.com/xraph/queuejob/id"
)

// Options configures a job at build time.
type Options struct {
	// Priority orders jobs within a channel. Lower runs first.
	Priority int

	// MaxRetries bounds retryable failures. Zero means unlimited.
	MaxRetries int

	// ETA delays the job until the given time. Zero means immediate.
	ETA time.Time

	// Description defaults to the function description.
	Description string

	// Channel overrides the function's channel.
	Channel string

	// IdentityKey deduplicates outstanding jobs. IdentityFunc, when set,
	// derives the key from the built job and wins over IdentityKey.
	IdentityKey  string
	IdentityFunc func(*Job) string

	BatchID   id.ID
	UserID    int64
	CompanyID int64
}

// DefaultOptions returns Options with the job defaults.
func DefaultOptions() Options {
	return Options{
		Priority:   DefaultPriority,
		MaxRetries: DefaultMaxRetries,
	}
}

// Option is a functional option for building a job.
type Option func(*Options)

// WithPriority sets the job priority. Lower values run first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithMaxRetries sets the retry budget. Zero means unlimited.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithETA delays the job until t.
func WithETA(t time.Time) Option {
	return func(o *Options) { o.ETA = t }
}

// WithETAIn delays the job by d from now.
func WithETAIn(d time.Duration) Option {
	return func(o *Options) { o.ETA = time.Now().UTC().Add(d) }
}

// WithDescription sets the human readable description.
func WithDescription(s string) Option {
	return func(o *Options) { o.Description = s }
}

// WithChannel places the job on the given channel path.
func WithChannel(c string) Option {
	return func(o *Options) { o.Channel = c }
}

// WithIdentityKey deduplicates the job on key.
func WithIdentityKey(key string) Option {
	return func(o *Options) { o.IdentityKey = key }
}

// WithIdentity derives the identity key from the built job, e.g.
// WithIdentity(IdentityExact).
func WithIdentity(fn func(*Job) string) Option {
	return func(o *Options) { o.IdentityFunc = fn }
}

// WithBatch attaches the job to a batch.
func WithBatch(batchID id.ID) Option {
	return func(o *Options) { o.BatchID = batchID }
}

// WithUser sets the user and company the job runs as.
func WithUser(userID, companyID int64) Option {
	return func(o *Options) {
		o.UserID = userID
		o.CompanyID = companyID
	}
}
