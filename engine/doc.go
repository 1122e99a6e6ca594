// Package engine wires the queue subsystems together from a
// [queuejob.Config] and is the entry point of applications and of the
// jobrunner binary.
//
// An Engine holds what is shared across databases (the function
// registry, the extension registry, the middleware chain and the worker
// pool behind the runjob endpoint) and opens each database on first use,
// building its delay client, admin service, batch and message services,
// executor and cron scheduler.
//
// # Building an Engine
//
//	eng, err := engine.New(cfg,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithMeterProvider(mp),
//	)
//
//	eng.Register(job.Function{Model: "res.partner", Method: "sync"}, syncPartner)
//
// # Delaying Jobs
//
//	db, err := eng.Database(ctx, "odoo")
//	uuid, err := db.Delay.Enqueue(ctx, job.Method{Model: "res.partner", Method: "sync"}, nil, nil)
//
// # Running
//
// [Engine.Start] starts the worker pool and the cron scheduler of every
// configured database. [Engine.Runner] builds the runner that dispatches
// jobs to the pool, either through the runjob endpoint or, with
// [WithInProcessDispatch], directly.
//
// # Options
//
//   - [WithBackend]: open databases from PostgreSQL (default) or memory
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
//   - [WithRedis]: owner notifications through Redis pub/sub
package engine
