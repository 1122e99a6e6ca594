// Package postgres implements the store on PostgreSQL using pgx/v5 with raw
// SQL.
//
// The queue_job table carries a row trigger that publishes the uuid of
// every inserted, updated or deleted job on the queue_job channel, except
// for deletions of done jobs. Leasing is a single compare-and-set UPDATE,
// so any number of runners may share a database. Identity keys are unique
// among outstanding jobs through a partial unique index.
//
// Schema changes are embedded SQL migrations applied in filename order and
// tracked in queue_job_migrations.
package postgres
