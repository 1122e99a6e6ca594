// Package job defines the job entity, its state machine, job functions and
// the store contract.
//
// # Job Entity
//
// A [Job] is one persisted call of a registered function on a set of
// records. It progresses through:
//
//	(new) → wait_dependencies → pending → enqueued → started → done
//	                                                         ↘ failed → pending
//	started/enqueued → pending     (stuck lease reset, retryable error)
//	pending → cancelled            (operator)
//
// State setters are pure transitions: they validate the edge, update the
// in-memory fields and must be followed by a store write.
//
// # Functions
//
// A [Function] is the static configuration of a "<model>.<method>" pair:
// default channel, retry pattern, related action. [Registry] binds each
// function to a [Handler]:
//
//	job.Register(reg, job.Function{Model: "res.partner", Method: "sync"},
//	    func(ctx context.Context, call job.Call) (any, error) {
//	        return nil, syncPartners(ctx, call.Records.IDs)
//	    },
//	)
//
// [RegisterTyped] decodes keyword arguments into a struct before calling a
// typed handler.
package job
