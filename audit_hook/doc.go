// Package audithook is an executor extension that bridges job lifecycle
// events to an immutable audit trail backend.
//
// Every scheduling, execution and transition hook emits a structured audit
// event through the [Recorder] interface. Severity follows the outcome:
// info for normal operations, warning for failed runs that will be retried
// and unacquired jobs, critical for dead-lettered jobs. Metadata carries
// the handler type, process instance, retry budget and errors.
//
// # Usage
//
//	rec := audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Append(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	})
//	eng, _ := engine.New(cfg, store, engine.WithExtension(audithook.New(rec)))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobDeadLettered,
//	    ),
//	)
package audithook
