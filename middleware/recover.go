package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/cockroachdb/errors"

	"github.com/xraph/queuejob/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors, which fail the job, and logged with a
// stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (result any, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job handler panicked",
					slog.String("job_uuid", j.UUID),
					slog.String("method", j.MethodName()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				result = nil
				retErr = errors.Newf("panic in job %s: %v", j.MethodName(), r)
			}
		}()
		return next(ctx)
	}
}
