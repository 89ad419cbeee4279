// Package ext defines the extension system for the async executor.
// Extensions are notified of job lifecycle events (timer scheduled,
// execution failed, dead-lettered, etc.) and can react to them: logging,
// metrics, auditing.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/asyncexec/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Scheduling hooks
// ──────────────────────────────────────────────────

// JobScheduled is called after an async job is persisted.
type JobScheduled interface {
	OnJobScheduled(ctx context.Context, j *job.Job) error
}

// TimerScheduled is called after a timer job is persisted.
type TimerScheduled interface {
	OnTimerScheduled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Execution hooks
// ──────────────────────────────────────────────────

// JobExecuted is called after a job's handler returned and its
// transaction committed.
type JobExecuted interface {
	OnJobExecuted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobExecutionFailed is called after a failed run, once the failure
// command has been applied.
type JobExecutionFailed interface {
	OnJobExecutionFailed(ctx context.Context, j *job.Job, err error) error
}

// TimerFired is called when a timer job's handler ran.
type TimerFired interface {
	OnTimerFired(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Transition hooks
// ──────────────────────────────────────────────────

// JobRetryScheduled is called when a failed job was moved back to the
// timer collection with a reduced retry count.
type JobRetryScheduled interface {
	OnJobRetryScheduled(ctx context.Context, timer *job.Job, dueAt time.Time) error
}

// JobDeadLettered is called when a job exhausted its retries.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job) error
}

// JobUnacquired is called when a job was handed back without a run,
// either because the dispatcher queue was full or the exclusive lock
// was taken.
type JobUnacquired interface {
	OnJobUnacquired(ctx context.Context, j *job.Job) error
}

// JobSuspended is called when a job was parked in the suspended collection.
type JobSuspended interface {
	OnJobSuspended(ctx context.Context, j *job.Job) error
}

// JobActivated is called when a suspended job was restored.
type JobActivated interface {
	OnJobActivated(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
