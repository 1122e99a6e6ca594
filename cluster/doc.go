// Package cluster keeps the registry of running jobrunner processes and the
// lease that elects one of them leader.
//
// Every runner registers a [Runner] row on start, heartbeats it on each
// sweep and deregisters on stop. Rows not seen within the reap threshold
// are deleted by whichever runner sweeps next.
//
// The lease in [Store.AcquireLeadership] is used by the cron scheduler so
// that scheduled jobs are created once per tick across the cluster. It is
// unrelated to the advisory application_name convention the runner uses
// to pick which process dispatches; dispatch correctness never depends on
// either, because leasing a job is a compare-and-set on its row.
package cluster
