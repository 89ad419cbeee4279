package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobScheduled      = "job.scheduled"
	ActionTimerScheduled    = "timer.scheduled"
	ActionJobExecuted       = "job.executed"
	ActionJobFailed         = "job.failed"
	ActionTimerFired        = "timer.fired"
	ActionJobRetryScheduled = "job.retry_scheduled"
	ActionJobDeadLettered   = "job.dead_lettered"
	ActionJobUnacquired     = "job.unacquired"
	ActionJobSuspended      = "job.suspended"
	ActionJobActivated      = "job.activated"
)

// Audit event categories group related actions.
const (
	CategoryJob   = "asyncexec.job"
	CategoryTimer = "asyncexec.timer"
)

// ResourceJob is the Resource field of every audit event.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobScheduled,
		ActionTimerScheduled,
		ActionJobExecuted,
		ActionJobFailed,
		ActionTimerFired,
		ActionJobRetryScheduled,
		ActionJobDeadLettered,
		ActionJobUnacquired,
		ActionJobSuspended,
		ActionJobActivated,
	}
}
