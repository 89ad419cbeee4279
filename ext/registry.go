package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/asyncexec/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type jobScheduledEntry struct {
	name string
	hook JobScheduled
}

type timerScheduledEntry struct {
	name string
	hook TimerScheduled
}

type jobExecutedEntry struct {
	name string
	hook JobExecuted
}

type jobExecutionFailedEntry struct {
	name string
	hook JobExecutionFailed
}

type timerFiredEntry struct {
	name string
	hook TimerFired
}

type jobRetryScheduledEntry struct {
	name string
	hook JobRetryScheduled
}

type jobDeadLetteredEntry struct {
	name string
	hook JobDeadLettered
}

type jobUnacquiredEntry struct {
	name string
	hook JobUnacquired
}

type jobSuspendedEntry struct {
	name string
	hook JobSuspended
}

type jobActivatedEntry struct {
	name string
	hook JobActivated
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the engine starts; emit methods are
// called concurrently from worker goroutines and do not lock.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobScheduled       []jobScheduledEntry
	timerScheduled     []timerScheduledEntry
	jobExecuted        []jobExecutedEntry
	jobExecutionFailed []jobExecutionFailedEntry
	timerFired         []timerFiredEntry
	jobRetryScheduled  []jobRetryScheduledEntry
	jobDeadLettered    []jobDeadLetteredEntry
	jobUnacquired      []jobUnacquiredEntry
	jobSuspended       []jobSuspendedEntry
	jobActivated       []jobActivatedEntry
	shutdown           []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobScheduled); ok {
		r.jobScheduled = append(r.jobScheduled, jobScheduledEntry{name, h})
	}
	if h, ok := e.(TimerScheduled); ok {
		r.timerScheduled = append(r.timerScheduled, timerScheduledEntry{name, h})
	}
	if h, ok := e.(JobExecuted); ok {
		r.jobExecuted = append(r.jobExecuted, jobExecutedEntry{name, h})
	}
	if h, ok := e.(JobExecutionFailed); ok {
		r.jobExecutionFailed = append(r.jobExecutionFailed, jobExecutionFailedEntry{name, h})
	}
	if h, ok := e.(TimerFired); ok {
		r.timerFired = append(r.timerFired, timerFiredEntry{name, h})
	}
	if h, ok := e.(JobRetryScheduled); ok {
		r.jobRetryScheduled = append(r.jobRetryScheduled, jobRetryScheduledEntry{name, h})
	}
	if h, ok := e.(JobDeadLettered); ok {
		r.jobDeadLettered = append(r.jobDeadLettered, jobDeadLetteredEntry{name, h})
	}
	if h, ok := e.(JobUnacquired); ok {
		r.jobUnacquired = append(r.jobUnacquired, jobUnacquiredEntry{name, h})
	}
	if h, ok := e.(JobSuspended); ok {
		r.jobSuspended = append(r.jobSuspended, jobSuspendedEntry{name, h})
	}
	if h, ok := e.(JobActivated); ok {
		r.jobActivated = append(r.jobActivated, jobActivatedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Scheduling emitters
// ──────────────────────────────────────────────────

// EmitJobScheduled notifies all extensions that implement JobScheduled.
func (r *Registry) EmitJobScheduled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobScheduled {
		if err := e.hook.OnJobScheduled(ctx, j); err != nil {
			r.logHookError("OnJobScheduled", e.name, err)
		}
	}
}

// EmitTimerScheduled notifies all extensions that implement TimerScheduled.
func (r *Registry) EmitTimerScheduled(ctx context.Context, j *job.Job) {
	for _, e := range r.timerScheduled {
		if err := e.hook.OnTimerScheduled(ctx, j); err != nil {
			r.logHookError("OnTimerScheduled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Execution emitters
// ──────────────────────────────────────────────────

// EmitJobExecuted notifies all extensions that implement JobExecuted.
func (r *Registry) EmitJobExecuted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobExecuted {
		if err := e.hook.OnJobExecuted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobExecuted", e.name, err)
		}
	}
}

// EmitJobExecutionFailed notifies all extensions that implement JobExecutionFailed.
func (r *Registry) EmitJobExecutionFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobExecutionFailed {
		if err := e.hook.OnJobExecutionFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobExecutionFailed", e.name, err)
		}
	}
}

// EmitTimerFired notifies all extensions that implement TimerFired.
func (r *Registry) EmitTimerFired(ctx context.Context, j *job.Job) {
	for _, e := range r.timerFired {
		if err := e.hook.OnTimerFired(ctx, j); err != nil {
			r.logHookError("OnTimerFired", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Transition emitters
// ──────────────────────────────────────────────────

// EmitJobRetryScheduled notifies all extensions that implement JobRetryScheduled.
func (r *Registry) EmitJobRetryScheduled(ctx context.Context, timer *job.Job, dueAt time.Time) {
	for _, e := range r.jobRetryScheduled {
		if err := e.hook.OnJobRetryScheduled(ctx, timer, dueAt); err != nil {
			r.logHookError("OnJobRetryScheduled", e.name, err)
		}
	}
}

// EmitJobDeadLettered notifies all extensions that implement JobDeadLettered.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, j *job.Job) {
	for _, e := range r.jobDeadLettered {
		if err := e.hook.OnJobDeadLettered(ctx, j); err != nil {
			r.logHookError("OnJobDeadLettered", e.name, err)
		}
	}
}

// EmitJobUnacquired notifies all extensions that implement JobUnacquired.
func (r *Registry) EmitJobUnacquired(ctx context.Context, j *job.Job) {
	for _, e := range r.jobUnacquired {
		if err := e.hook.OnJobUnacquired(ctx, j); err != nil {
			r.logHookError("OnJobUnacquired", e.name, err)
		}
	}
}

// EmitJobSuspended notifies all extensions that implement JobSuspended.
func (r *Registry) EmitJobSuspended(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSuspended {
		if err := e.hook.OnJobSuspended(ctx, j); err != nil {
			r.logHookError("OnJobSuspended", e.name, err)
		}
	}
}

// EmitJobActivated notifies all extensions that implement JobActivated.
func (r *Registry) EmitJobActivated(ctx context.Context, j *job.Job) {
	for _, e := range r.jobActivated {
		if err := e.hook.OnJobActivated(ctx, j); err != nil {
			r.logHookError("OnJobActivated", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
