package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/asyncexec/ext"
	"github.com/xraph/asyncexec/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.JobScheduled       = (*Extension)(nil)
	_ ext.TimerScheduled     = (*Extension)(nil)
	_ ext.JobExecuted        = (*Extension)(nil)
	_ ext.JobExecutionFailed = (*Extension)(nil)
	_ ext.TimerFired         = (*Extension)(nil)
	_ ext.JobRetryScheduled  = (*Extension)(nil)
	_ ext.JobDeadLettered    = (*Extension)(nil)
	_ ext.JobUnacquired      = (*Extension)(nil)
	_ ext.JobSuspended       = (*Extension)(nil)
	_ ext.JobActivated       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges executor lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Scheduling hooks ────────────────────────────────

// OnJobScheduled implements ext.JobScheduled.
func (e *Extension) OnJobScheduled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobScheduled, SeverityInfo, OutcomeSuccess, CategoryJob, j, nil,
		"exclusive", j.Exclusive,
	)
}

// OnTimerScheduled implements ext.TimerScheduled.
func (e *Extension) OnTimerScheduled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionTimerScheduled, SeverityInfo, OutcomeSuccess, CategoryTimer, j, nil,
		"due_date", formatTime(j.DueDate),
		"repeat", j.Repeat,
	)
}

// ── Execution hooks ─────────────────────────────────

// OnJobExecuted implements ext.JobExecuted.
func (e *Extension) OnJobExecuted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobExecuted, SeverityInfo, OutcomeSuccess, CategoryJob, j, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobExecutionFailed implements ext.JobExecutionFailed.
func (e *Extension) OnJobExecutionFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityWarning, OutcomeFailure, CategoryJob, j, jobErr,
		"retries", j.Retries,
	)
}

// OnTimerFired implements ext.TimerFired.
func (e *Extension) OnTimerFired(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionTimerFired, SeverityInfo, OutcomeSuccess, CategoryTimer, j, nil,
		"due_date", formatTime(j.DueDate),
	)
}

// ── Transition hooks ────────────────────────────────

// OnJobRetryScheduled implements ext.JobRetryScheduled.
func (e *Extension) OnJobRetryScheduled(ctx context.Context, timer *job.Job, dueAt time.Time) error {
	return e.record(ctx, ActionJobRetryScheduled, SeverityWarning, OutcomeFailure, CategoryJob, timer, nil,
		"retries", timer.Retries,
		"due_at", dueAt.UTC().Format(time.RFC3339),
		"exception", timer.ExceptionMessage,
	)
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (e *Extension) OnJobDeadLettered(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobDeadLettered, SeverityCritical, OutcomeFailure, CategoryJob, j, nil,
		"exception", j.ExceptionMessage,
	)
}

// OnJobUnacquired implements ext.JobUnacquired.
func (e *Extension) OnJobUnacquired(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobUnacquired, SeverityWarning, OutcomeSuccess, CategoryJob, j, nil)
}

// OnJobSuspended implements ext.JobSuspended.
func (e *Extension) OnJobSuspended(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobSuspended, SeverityInfo, OutcomeSuccess, CategoryJob, j, nil,
		"type", string(j.Type),
	)
}

// OnJobActivated implements ext.JobActivated.
func (e *Extension) OnJobActivated(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobActivated, SeverityInfo, OutcomeSuccess, CategoryJob, j, nil,
		"kind", string(j.Kind),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata
// next to the fields every job event carries.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome, category string,
	j *job.Job,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+4)
	meta["handler_type"] = j.HandlerType
	if j.ProcessInstanceID != "" {
		meta["process_instance_id"] = j.ProcessInstanceID
	}
	if j.ElementID != "" {
		meta["element_id"] = j.ElementID
	}
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   category,
		ResourceID: j.ID.String(),
		TenantID:   j.TenantID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", evt.ResourceID,
			"error", recErr,
		)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
