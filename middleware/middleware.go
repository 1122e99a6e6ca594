// Package middleware provides composable middleware for job execution.
// Middleware wraps handler calls synchronously and can modify execution
// (recover from panics, inject the job environment, log, trace).
package middleware

import (
	"context"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/job"
)

// Handler is the terminal function that performs the job. Its result is
// stored as the job's result text.
type Handler func(ctx context.Context) (any, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the job being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// unless short-circuiting on error.
type Middleware func(ctx context.Context, j *job.Job, next Handler) (any, error)

// Chain composes multiple middleware into a single Middleware.
// The first middleware in the list is the outermost wrapper.
//
// Example: Chain(logging, recover, env) executes as:
//
//	logging → recover → env → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (any, error) {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// Outcome names how an error returned by a handler is handled: "done",
// "retry" or "failed". A FailedError wins over any cause it wraps.
func Outcome(err error) string {
	if err == nil {
		return "done"
	}
	var failed *queuejob.FailedError
	if errors.As(err, &failed) {
		return "failed"
	}
	var nothing *queuejob.NothingToDoError
	if errors.As(err, &nothing) {
		return "done"
	}
	var retry *queuejob.RetryableError
	if errors.As(err, &retry) {
		return "retry"
	}
	return "failed"
}
