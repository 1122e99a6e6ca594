// Package ext defines the extension system of queuejob.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, notifying job owners, writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobDone(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s done in %s", j.UUID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobDelayed] stored by a delay call
//   - [JobEnqueued] leased and dispatched by the runner
//   - [JobStarted] taken by the executor
//   - [JobDone] finished successfully
//   - [JobFailed] ended in failed
//   - [JobPostponed] back to pending after a retryable failure
//   - [LeaseReset] lease returned to pending by the runner
//
// # Other Hooks
//
//   - [BatchFinished] every job of a batch is done
//   - [CronFired] a cron entry delayed its job
//   - [Shutdown] the process is shutting down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
