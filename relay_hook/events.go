package relayhook

// Executor lifecycle event types. Each constant maps to one ext lifecycle
// hook and is used as Event.Type when publishing.
const (
	EventJobScheduled      = "asyncexec.job.scheduled"
	EventTimerScheduled    = "asyncexec.timer.scheduled"
	EventJobExecuted       = "asyncexec.job.executed"
	EventJobFailed         = "asyncexec.job.failed"
	EventTimerFired        = "asyncexec.timer.fired"
	EventJobRetryScheduled = "asyncexec.job.retry_scheduled"
	EventJobDeadLettered   = "asyncexec.job.dead_lettered"
	EventJobSuspended      = "asyncexec.job.suspended"
	EventJobActivated      = "asyncexec.job.activated"
)

// Definition documents one event type for subscribers.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Group       string `json:"group"`
}

// AllDefinitions returns the definitions of every event type this
// extension can publish.
func AllDefinitions() []Definition {
	return []Definition{
		// ── Scheduling events ───────────────────────────
		{
			Name:        EventJobScheduled,
			Description: "Fired when an async continuation is persisted.",
			Group:       "jobs",
		},
		{
			Name:        EventTimerScheduled,
			Description: "Fired when a timer job is persisted.",
			Group:       "timers",
		},
		// ── Execution events ────────────────────────────
		{
			Name:        EventJobExecuted,
			Description: "Fired when a job's handler returned and its transaction committed.",
			Group:       "jobs",
		},
		{
			Name:        EventJobFailed,
			Description: "Fired after a failed run once the failure was recorded.",
			Group:       "jobs",
		},
		{
			Name:        EventTimerFired,
			Description: "Fired when a timer's handler ran.",
			Group:       "timers",
		},
		// ── Transition events ───────────────────────────
		{
			Name:        EventJobRetryScheduled,
			Description: "Fired when a failed job was rescheduled with one retry less.",
			Group:       "jobs",
		},
		{
			Name:        EventJobDeadLettered,
			Description: "Fired when a job exhausted its retries.",
			Group:       "jobs",
		},
		{
			Name:        EventJobSuspended,
			Description: "Fired when a job was parked with its suspended process instance.",
			Group:       "jobs",
		},
		{
			Name:        EventJobActivated,
			Description: "Fired when a suspended job was restored.",
			Group:       "jobs",
		},
	}
}
