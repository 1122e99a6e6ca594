// Package cron creates jobs on a schedule.
//
// Entries live in the queue_job_cron table and are fired only by the
// runner holding the cluster lease, each under its own lock, so one job is
// created per due time even when several runners are up.
//
// # Entry
//
// An [Entry] names a model method to delay on a schedule:
//   - Schedule: a 5-field cron expression ("0 3 * * *") or a descriptor
//     ("@daily", "@every 10m")
//   - Model, Method, Args, Kwargs: the call the created job performs
//   - Channel, Priority: override the function defaults when set
//   - Enabled: whether the entry fires
//   - LockedBy / LockedUntil: lock fields, managed by the store
//
// # Scheduler
//
// [Scheduler.Register] stores entries from [Definition]s, keeping any entry
// already registered under the same name. On every tick the leader lists
// due entries, locks each, delays its job through the configured
// [Enqueuer] and stores LastRunAt and NextRunAt. The created job carries an
// identity key made of the entry name and due time. The CronFired hook
// fires after each job is created.
package cron
