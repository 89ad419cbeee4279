package job

// convert copies the shared field set of src into a fresh row of the given
// kind. The copy keeps the logical ID and the timer fields; it starts at
// revision zero and without a lock because it has not been persisted yet.
func convert(src *Job, kind Kind) *Job {
	j := src.Clone()
	j.Kind = kind
	j.Revision = 0
	j.Unlock()
	return j
}

// ToExecutable returns the executable counterpart of src.
func ToExecutable(src *Job) *Job { return convert(src, KindExecutable) }

// ToTimer returns the timer counterpart of src.
func ToTimer(src *Job) *Job { return convert(src, KindTimer) }

// ToSuspended returns the suspended counterpart of src.
func ToSuspended(src *Job) *Job { return convert(src, KindSuspended) }

// ToDeadLetter returns the dead-letter counterpart of src with its retries
// frozen at zero.
func ToDeadLetter(src *Job) *Job {
	j := convert(src, KindDeadLetter)
	j.Retries = 0
	return j
}
