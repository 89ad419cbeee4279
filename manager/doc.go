// Package manager owns every job state transition: creating and
// scheduling async and timer jobs, moving rows between the executable,
// timer, suspended and dead-letter collections, executing executable
// jobs, and unacquiring jobs the dispatcher could not take.
//
// Each transition runs inside a job.Tx. Callers pass the transaction they
// already hold, or nil to have the manager open one. Moves insert the
// target row before deleting the source, so a failed delete rolls the
// insert back and a job is never lost or duplicated.
package manager
