// Package runner implements the job runner: a long-lived dispatcher that
// listens for job notifications of one or more databases, keeps the
// channel manager's view of their jobs current, leases the jobs the
// channels let start and hands them to an executor.
//
// A Runner owns one connection per database. Each connection LISTENs on
// queue_job; every payload is a job uuid whose row is re-read and fed to
// the channel manager. Jobs returned by the manager are leased with the
// pending to enqueued compare-and-set, then dispatched through a
// Dispatcher. A failed dispatch returns the lease to pending. A periodic
// sweep returns leases older than their channel's deltas to pending.
//
// Databases can be added and removed at runtime by publishing
// "add <db>" or "remove <db>" on queue_job_db_listener.
//
// With leader election enabled, a runner only schedules the databases on
// which it holds the oldest "jobrunner_" connection. Leadership is
// advisory: the lease compare-and-set serializes concurrent runners.
package runner
