// Package observability provides an OpenTelemetry extension that counts
// job lifecycle events: delays, leases, starts, outcomes, lease resets,
// finished batches and cron fires.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
