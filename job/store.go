package job

import (
	"context"
	"time"

	"github.com/xraph/asyncexec/id"
)

// Query selects rows of one kind. Zero-valued fields do not filter.
// Results are ordered by due date (nulls first), then creation time,
// then ID.
type Query struct {
	ProcessInstanceID string
	ExecutionID       string
	HandlerType       string
	TenantID          string

	// DueBefore keeps rows whose due date is unset or not after the instant.
	DueBefore *time.Time

	// AvailableAt keeps rows whose lock is absent or expired at the instant.
	AvailableAt *time.Time

	// UnlockedOnly keeps rows without any lock. Rows whose lock expired
	// are excluded until the reset loop clears them.
	UnlockedOnly bool

	// LockExpiredBefore keeps rows that hold a lock which expired before
	// the instant.
	LockExpiredBefore *time.Time

	// ExclusiveOnly keeps exclusive rows.
	ExclusiveOnly bool

	// Limit is the maximum number of rows returned. Zero means no limit.
	Limit int
	// Offset is the number of rows skipped.
	Offset int
}

// Match reports whether j satisfies the filters of q. Stores without a
// query language (memory, redis) use it directly.
func (q Query) Match(j *Job) bool {
	if q.ProcessInstanceID != "" && j.ProcessInstanceID != q.ProcessInstanceID {
		return false
	}
	if q.ExecutionID != "" && j.ExecutionID != q.ExecutionID {
		return false
	}
	if q.HandlerType != "" && j.HandlerType != q.HandlerType {
		return false
	}
	if q.TenantID != "" && j.TenantID != q.TenantID {
		return false
	}
	if q.DueBefore != nil && !j.Due(*q.DueBefore) {
		return false
	}
	if q.AvailableAt != nil && !j.Available(*q.AvailableAt) {
		return false
	}
	if q.UnlockedOnly && j.LockExpiration != nil {
		return false
	}
	if q.LockExpiredBefore != nil {
		if j.LockExpiration == nil || !j.LockExpiration.Before(*q.LockExpiredBefore) {
			return false
		}
	}
	if q.ExclusiveOnly && !j.Exclusive {
		return false
	}
	return true
}

// Less orders rows the way Query results are ordered.
func Less(a, b *Job) bool {
	switch {
	case a.DueDate == nil && b.DueDate != nil:
		return true
	case a.DueDate != nil && b.DueDate == nil:
		return false
	case a.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
		return a.DueDate.Before(*b.DueDate)
	case !a.CreatedAt.Equal(b.CreatedAt):
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Page applies offset and limit to an already ordered slice.
func (q Query) Page(jobs []*Job) []*Job {
	if q.Offset > 0 {
		if q.Offset >= len(jobs) {
			return nil
		}
		jobs = jobs[q.Offset:]
	}
	if q.Limit > 0 && len(jobs) > q.Limit {
		jobs = jobs[:q.Limit]
	}
	return jobs
}

// Tx is a unit of work against the job collections. Every mutation is
// either committed together or not at all. Implementations are not safe
// for concurrent use; one goroutine owns a Tx for its lifetime.
type Tx interface {
	// InsertJob persists j into the collection named by j.Kind. It returns
	// asyncexec.ErrJobAlreadyExists if a row with the same ID is present in
	// that collection.
	InsertJob(ctx context.Context, j *Job) error

	// UpdateJob overwrites the row if its stored revision equals
	// j.Revision, then increments j.Revision. A mismatch or a missing row
	// returns asyncexec.ErrOptimisticLock.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes the row if its stored revision equals j.Revision.
	// A mismatch or a missing row returns asyncexec.ErrOptimisticLock.
	DeleteJob(ctx context.Context, j *Job) error

	// GetJob returns the row with the given ID from one collection, or
	// asyncexec.ErrJobNotFound.
	GetJob(ctx context.Context, kind Kind, jobID id.JobID) (*Job, error)

	// FindJobs returns the rows of one collection matching q.
	FindJobs(ctx context.Context, kind Kind, q Query) ([]*Job, error)

	// CountJobs returns the number of rows of one collection matching q,
	// ignoring its Limit and Offset.
	CountJobs(ctx context.Context, kind Kind, q Query) (int64, error)

	// LockInstance takes the exclusive-execution lock of a process
	// instance for owner until the given instant. It returns
	// asyncexec.ErrOptimisticLock while any unexpired lock is held, even
	// one of the same owner: two workers of one node must not run jobs of
	// the same instance together.
	LockInstance(ctx context.Context, processInstanceID, owner string, until, now time.Time) error

	// UnlockInstance releases the lock if owner still holds the exact lock
	// it took with the given until. A lock that expired and was taken over
	// by another worker of the same owner is left alone.
	UnlockInstance(ctx context.Context, processInstanceID, owner string, until time.Time) error

	// AfterCommit registers fn to run once the transaction has committed.
	// Callbacks never run for a rolled back transaction.
	AfterCommit(fn func(ctx context.Context))
}

// Store opens transactions over the job collections.
type Store interface {
	// Transact runs fn inside a new transaction. If fn returns an error
	// the transaction is rolled back and the error returned. A commit
	// conflict returns asyncexec.ErrOptimisticLock. AfterCommit callbacks
	// run before Transact returns.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// RunInTx runs fn inside tx when it is non-nil, otherwise inside a new
// transaction of s.
func RunInTx(ctx context.Context, s Store, tx Tx, fn func(ctx context.Context, tx Tx) error) error {
	if tx != nil {
		return fn(ctx, tx)
	}
	return s.Transact(ctx, fn)
}
