// Package queuejob provides a persistent, hierarchical job queue backed by
// PostgreSQL with a separate dispatcher process.
//
// Clients build jobs, chains and groups with the delay package and persist
// them atomically. A database trigger publishes every change on the
// queue_job channel. The runner listens for those notifications, keeps an
// in-memory view of the channel tree, leases runnable jobs with an atomic
// pending to enqueued transition and kicks an executor endpoint over HTTP.
//
// # Quick Start
//
//	eng, err := engine.New(queuejob.DefaultConfig())
//	eng.Register(job.Function{Model: "res.partner", Method: "sync"}, syncPartner)
//
//	db, err := eng.Database(ctx, "odoo")
//	uuids, err := db.Delay.Delayable(codec.RecordRef{Model: "res.partner", IDs: []int64{42}}).
//	    Call("sync", nil, nil).
//	    Delay(ctx)
//
// # Architecture
//
// Every subsystem (job, batch, message, cron, cluster) defines its own store
// interface. A single backend implements all of them: store/postgres for
// production, store/memory for tests and development.
//
// Secondary entities (batches, cron entries, runner instances, messages) use
// TypeID identifiers. Jobs keep plain UUIDs, which is what the runner passes
// to the executor endpoint.
package queuejob
