package job

import (
	"time"
	"unicode/utf8"

	"github.com/xraph/asyncexec/id"
)

// Kind names the collection a job row currently lives in. A logical job
// is in exactly one collection at a time.
type Kind string

const (
	// KindExecutable rows are ready to run (due date null or passed).
	KindExecutable Kind = "executable"
	// KindTimer rows are waiting for their due date.
	KindTimer Kind = "timer"
	// KindSuspended rows belong to a suspended process instance or definition.
	KindSuspended Kind = "suspended"
	// KindDeadLetter rows exhausted their retries.
	KindDeadLetter Kind = "deadletter"
)

// Kinds lists every collection in lifecycle order.
var Kinds = []Kind{KindExecutable, KindTimer, KindSuspended, KindDeadLetter}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindExecutable, KindTimer, KindSuspended, KindDeadLetter:
		return true
	}
	return false
}

// Type distinguishes async continuations from fired timers.
type Type string

const (
	// TypeMessage is an async continuation; it deletes itself after a
	// successful run.
	TypeMessage Type = "message"
	// TypeTimer is a timer; its executable form runs the timer-fired path.
	TypeTimer Type = "timer"
)

// Job is a row in one of the four job collections. Kind-specific fields
// (Repeat, EndDate, MaxIterations) are only meaningful for timers and for
// suspended or dead-letter rows that came from a timer.
type Job struct {
	ID   id.JobID `json:"id"`
	Kind Kind     `json:"kind"`
	Type Type     `json:"type"`

	HandlerType   string `json:"handler_type"`
	HandlerConfig string `json:"handler_config,omitempty"`

	ExecutionID         string `json:"execution_id,omitempty"`
	ProcessInstanceID   string `json:"process_instance_id,omitempty"`
	ProcessDefinitionID string `json:"process_definition_id,omitempty"`
	ElementID           string `json:"element_id,omitempty"`
	TenantID            string `json:"tenant_id,omitempty"`

	// DueDate nil means ready immediately.
	DueDate   *time.Time `json:"due_date,omitempty"`
	Retries   int        `json:"retries"`
	Exclusive bool       `json:"exclusive"`

	// LockOwner and LockExpiration are both empty or both set.
	LockOwner      string     `json:"lock_owner,omitempty"`
	LockExpiration *time.Time `json:"lock_expiration,omitempty"`

	ExceptionMessage    string `json:"exception_message,omitempty"`
	ExceptionStacktrace string `json:"exception_stacktrace,omitempty"`

	Repeat        string     `json:"repeat,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	MaxIterations int        `json:"max_iterations,omitempty"`

	// Revision is the optimistic lock counter. Stores bump it on every
	// update and refuse updates or deletes carrying a stale value.
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.DueDate = cloneTime(j.DueDate)
	cp.LockExpiration = cloneTime(j.LockExpiration)
	cp.EndDate = cloneTime(j.EndDate)
	return &cp
}

// Lock sets both lock fields.
func (j *Job) Lock(owner string, until time.Time) {
	u := until.UTC()
	j.LockOwner = owner
	j.LockExpiration = &u
}

// Unlock clears both lock fields.
func (j *Job) Unlock() {
	j.LockOwner = ""
	j.LockExpiration = nil
}

// Locked reports whether j holds an unexpired lock at now.
func (j *Job) Locked(now time.Time) bool {
	return j.LockExpiration != nil && j.LockExpiration.After(now)
}

// Available reports whether j may be acquired at now: its lock is absent
// or expired.
func (j *Job) Available(now time.Time) bool {
	return !j.Locked(now)
}

// Due reports whether j's due date is unset or not after now.
func (j *Job) Due(now time.Time) bool {
	return j.DueDate == nil || !j.DueDate.After(now)
}

// MaxExceptionMessageLength bounds ExceptionMessage so it fits the
// exception column of the SQL stores.
const MaxExceptionMessageLength = 4000

// SetException records a failure on the row for later inspection. A long
// message is cut at a rune boundary so it stays valid UTF-8.
func (j *Job) SetException(message, stacktrace string) {
	if len(message) > MaxExceptionMessageLength {
		n := MaxExceptionMessageLength
		for n > 0 && !utf8.RuneStart(message[n]) {
			n--
		}
		message = message[:n]
	}
	j.ExceptionMessage = message
	j.ExceptionStacktrace = stacktrace
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to a UTC copy of t.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
