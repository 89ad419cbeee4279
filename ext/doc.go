// Package ext defines the extension system for the async executor.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, writing audit logs, forwarding to an event bus.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. Events are fire-and-forget; a hook error
// is logged and never reaches the job pipeline.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobExecutionFailed(ctx context.Context, j *job.Job, err error) error {
//	    log.Printf("job %s failed: %v", j.ID, err)
//	    return nil
//	}
//
// # Hooks
//
//   - [JobScheduled]: an async job was persisted
//   - [TimerScheduled]: a timer job was persisted
//   - [JobExecuted]: a job ran and its transaction committed
//   - [JobExecutionFailed]: a run failed and the failure command was applied
//   - [TimerFired]: a timer's handler ran
//   - [JobRetryScheduled]: a failed job went back to the timer collection
//   - [JobDeadLettered]: a job exhausted its retries
//   - [JobUnacquired]: a job was handed back without running
//   - [JobSuspended] and [JobActivated]: suspension toggles
//   - [Shutdown]: the executor is shutting down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
