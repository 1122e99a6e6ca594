package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/queuejob/job"
)

// Logging returns middleware that logs job start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		logger.Info("job started",
			slog.String("job_uuid", j.UUID),
			slog.String("method", j.MethodName()),
			slog.String("channel", j.Channel),
			slog.Int("retry", j.Retry),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		switch outcome := Outcome(err); {
		case outcome == "failed":
			logger.Error("job failed",
				slog.String("job_uuid", j.UUID),
				slog.String("method", j.MethodName()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		case outcome == "retry":
			logger.Warn("job will be retried",
				slog.String("job_uuid", j.UUID),
				slog.String("method", j.MethodName()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		default:
			logger.Info("job done",
				slog.String("job_uuid", j.UUID),
				slog.String("method", j.MethodName()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return result, err
	}
}
