// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps the handler the executor calls for a job. Middleware
// are composed with [Chain]; the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs method, channel, duration and outcome
//   - [Recover] turns panics into errors, which fail the job
//   - [Env] binds the job's user, company and context to ctx
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-job duration and outcome counters
//
// [Outcome] classifies a handler error the way the executor does.
package middleware
