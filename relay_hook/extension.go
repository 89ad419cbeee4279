package relayhook

import (
	"context"
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
	_ ext.JobSuspended       = (*Extension)(nil)
	_ ext.JobActivated       = (*Extension)(nil)
)

// Event is one published lifecycle event.
type Event struct {
	Type       string    `json:"type"`
	TenantID   string    `json:"tenant_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, evt *Event) error
}

// Extension bridges executor lifecycle events to a Publisher.
type Extension struct {
	publisher Publisher
	enabled   map[string]bool        // nil = all enabled
	payloads  map[string]PayloadFunc // custom payload builders
	now       func() time.Time
}

// New creates an Extension that publishes executor lifecycle events
// through the provided Publisher.
func New(p Publisher, opts ...Option) *Extension {
	h := &Extension{publisher: p, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "relay-hook" }

// ── Scheduling hooks ────────────────────────────────

// OnJobScheduled implements ext.JobScheduled.
func (h *Extension) OnJobScheduled(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobScheduled, j.TenantID, newJobPayload(j))
}

// OnTimerScheduled implements ext.TimerScheduled.
func (h *Extension) OnTimerScheduled(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventTimerScheduled, j.TenantID, &timerPayload{
		jobPayload: *newJobPayload(j),
		DueDate:    formatTime(j.DueDate),
		Repeat:     j.Repeat,
	})
}

// ── Execution hooks ─────────────────────────────────

// OnJobExecuted implements ext.JobExecuted.
func (h *Extension) OnJobExecuted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return h.send(ctx, EventJobExecuted, j.TenantID, &jobExecutedPayload{
		jobPayload: *newJobPayload(j),
		ElapsedMs:  elapsed.Milliseconds(),
	})
}

// OnJobExecutionFailed implements ext.JobExecutionFailed.
func (h *Extension) OnJobExecutionFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return h.send(ctx, EventJobFailed, j.TenantID, &jobFailedPayload{
		jobPayload: *newJobPayload(j),
		Error:      jobErr.Error(),
	})
}

// OnTimerFired implements ext.TimerFired.
func (h *Extension) OnTimerFired(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventTimerFired, j.TenantID, &timerPayload{
		jobPayload: *newJobPayload(j),
		DueDate:    formatTime(j.DueDate),
		Repeat:     j.Repeat,
	})
}

// ── Transition hooks ────────────────────────────────

// OnJobRetryScheduled implements ext.JobRetryScheduled.
func (h *Extension) OnJobRetryScheduled(ctx context.Context, timer *job.Job, dueAt time.Time) error {
	return h.send(ctx, EventJobRetryScheduled, timer.TenantID, &jobRetryPayload{
		jobPayload: *newJobPayload(timer),
		DueAt:      dueAt.UTC().Format(time.RFC3339),
		Error:      timer.ExceptionMessage,
	})
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (h *Extension) OnJobDeadLettered(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobDeadLettered, j.TenantID, &jobFailedPayload{
		jobPayload: *newJobPayload(j),
		Error:      j.ExceptionMessage,
	})
}

// OnJobSuspended implements ext.JobSuspended.
func (h *Extension) OnJobSuspended(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobSuspended, j.TenantID, newJobPayload(j))
}

// OnJobActivated implements ext.JobActivated.
func (h *Extension) OnJobActivated(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobActivated, j.TenantID, newJobPayload(j))
}

// ── Internal helpers ────────────────────────────────

// send publishes an event if the event type is enabled.
func (h *Extension) send(ctx context.Context, eventType, tenantID string, defaultData any) error {
	if h.enabled != nil && !h.enabled[eventType] {
		return nil
	}

	data := defaultData
	if fn, ok := h.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	return h.publisher.Publish(ctx, &Event{
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: h.now().UTC(),
		Data:       data,
	})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ── Default payload types ───────────────────────────

type jobPayload struct {
	JobID               string `json:"job_id"`
	Kind                string `json:"kind"`
	HandlerType         string `json:"handler_type"`
	ProcessInstanceID   string `json:"process_instance_id,omitempty"`
	ProcessDefinitionID string `json:"process_definition_id,omitempty"`
	ElementID           string `json:"element_id,omitempty"`
	Retries             int    `json:"retries"`
}

func newJobPayload(j *job.Job) *jobPayload {
	return &jobPayload{
		JobID:               j.ID.String(),
		Kind:                string(j.Kind),
		HandlerType:         j.HandlerType,
		ProcessInstanceID:   j.ProcessInstanceID,
		ProcessDefinitionID: j.ProcessDefinitionID,
		ElementID:           j.ElementID,
		Retries:             j.Retries,
	}
}

type timerPayload struct {
	jobPayload
	DueDate string `json:"due_date,omitempty"`
	Repeat  string `json:"repeat,omitempty"`
}

type jobExecutedPayload struct {
	jobPayload
	ElapsedMs int64 `json:"elapsed_ms"`
}

type jobFailedPayload struct {
	jobPayload
	Error string `json:"error"`
}

type jobRetryPayload struct {
	jobPayload
	DueAt string `json:"due_at"`
	Error string `json:"error,omitempty"`
}
