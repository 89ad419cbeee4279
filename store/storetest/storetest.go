// Package storetest is a behavioural suite every job.Store backend must
// pass. Backends run it from their own tests:
//
//	func TestSuite(t *testing.T) { storetest.Run(t, newStore(t)) }
//
// Every case works on its own process instance IDs, so one store can be
// shared by the whole suite.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
)

// Run executes the suite against s.
func Run(t *testing.T, s job.Store) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, s job.Store)
	}{
		{"RoundTrip", testRoundTrip},
		{"DuplicateInsert", testDuplicateInsert},
		{"InvalidKind", testInvalidKind},
		{"RevisionCheck", testRevisionCheck},
		{"Rollback", testRollback},
		{"AfterCommit", testAfterCommit},
		{"MoveBetweenKinds", testMoveBetweenKinds},
		{"FindOrderAndPage", testFindOrderAndPage},
		{"FindLockFilters", testFindLockFilters},
		{"InstanceLock", testInstanceLock},
		{"ConcurrentUpdateSingleWinner", testConcurrentUpdate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) { tc.fn(t, s) })
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// now is truncated to microseconds, the resolution of SQL timestamps.
func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func uniquePID(t *testing.T) string {
	t.Helper()
	return "pi-" + id.NewJobID().String()
}

func newJob(kind job.Kind, pid string, created time.Time) *job.Job {
	return &job.Job{
		ID:                id.NewJobID(),
		Kind:              kind,
		Type:              job.TypeMessage,
		HandlerType:       job.HandlerAsyncContinuation,
		ProcessInstanceID: pid,
		Retries:           3,
		CreatedAt:         created,
	}
}

func tx(t *testing.T, s job.Store, fn func(ctx context.Context, tx job.Tx) error) error {
	t.Helper()
	return s.Transact(context.Background(), fn)
}

func mustTx(t *testing.T, s job.Store, fn func(ctx context.Context, tx job.Tx) error) {
	t.Helper()
	if err := tx(t, s, fn); err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func insert(t *testing.T, s job.Store, jobs ...*job.Job) {
	t.Helper()
	mustTx(t, s, func(ctx context.Context, tx job.Tx) error {
		for _, j := range jobs {
			if err := tx.InsertJob(ctx, j); err != nil {
				return err
			}
		}
		return nil
	})
}

func get(t *testing.T, s job.Store, kind job.Kind, jobID id.JobID) (*job.Job, error) {
	t.Helper()
	var got *job.Job
	err := tx(t, s, func(ctx context.Context, tx job.Tx) error {
		var err error
		got, err = tx.GetJob(ctx, kind, jobID)
		return err
	})
	return got, err
}

func find(t *testing.T, s job.Store, kind job.Kind, q job.Query) []*job.Job {
	t.Helper()
	var got []*job.Job
	mustTx(t, s, func(ctx context.Context, tx job.Tx) error {
		var err error
		got, err = tx.FindJobs(ctx, kind, q)
		return err
	})
	return got
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// ──────────────────────────────────────────────────
// Rows
// ──────────────────────────────────────────────────

func testRoundTrip(t *testing.T, s job.Store) {
	ts := now()
	j := &job.Job{
		ID:                  id.NewJobID(),
		Kind:                job.KindTimer,
		Type:                job.TypeTimer,
		HandlerType:         job.HandlerTimerBoundaryEvent,
		HandlerConfig:       `{"end_date":"${deadline}"}`,
		ExecutionID:         "exec-1",
		ProcessInstanceID:   uniquePID(t),
		ProcessDefinitionID: "def-1",
		ElementID:           "timer-1",
		TenantID:            "acme",
		DueDate:             job.TimePtr(ts.Add(time.Minute)),
		Retries:             2,
		Exclusive:           true,
		LockOwner:           "node-a",
		LockExpiration:      job.TimePtr(ts.Add(time.Hour)),
		ExceptionMessage:    "boom",
		ExceptionStacktrace: "trace",
		Repeat:              "R2/2026-01-01T00:00:00Z/PT1H",
		EndDate:             job.TimePtr(ts.Add(24 * time.Hour)),
		MaxIterations:       3,
		CreatedAt:           ts,
	}
	insert(t, s, j)

	got, err := get(t, s, job.KindTimer, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	want := j.Clone()
	want.Revision = got.Revision
	switch {
	case got.ID != want.ID, got.Kind != want.Kind, got.Type != want.Type,
		got.HandlerType != want.HandlerType, got.HandlerConfig != want.HandlerConfig,
		got.ExecutionID != want.ExecutionID, got.ProcessInstanceID != want.ProcessInstanceID,
		got.ProcessDefinitionID != want.ProcessDefinitionID, got.ElementID != want.ElementID,
		got.TenantID != want.TenantID, got.Retries != want.Retries, got.Exclusive != want.Exclusive,
		got.LockOwner != want.LockOwner, got.ExceptionMessage != want.ExceptionMessage,
		got.ExceptionStacktrace != want.ExceptionStacktrace, got.Repeat != want.Repeat,
		got.MaxIterations != want.MaxIterations, !got.CreatedAt.Equal(want.CreatedAt),
		!sameTime(got.DueDate, want.DueDate), !sameTime(got.LockExpiration, want.LockExpiration),
		!sameTime(got.EndDate, want.EndDate):
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}

	// Nullable columns stay nil.
	bare := newJob(job.KindExecutable, uniquePID(t), now())
	insert(t, s, bare)
	got, err = get(t, s, job.KindExecutable, bare.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.DueDate != nil || got.LockExpiration != nil || got.EndDate != nil || got.LockOwner != "" {
		t.Fatalf("nullable fields not nil: %+v", got)
	}
}

func testDuplicateInsert(t *testing.T, s job.Store) {
	j := newJob(job.KindExecutable, uniquePID(t), now())
	insert(t, s, j)

	err := tx(t, s, func(ctx context.Context, tx job.Tx) error {
		return tx.InsertJob(ctx, j.Clone())
	})
	if !errors.Is(err, asyncexec.ErrJobAlreadyExists) {
		t.Fatalf("duplicate insert: got %v, want ErrJobAlreadyExists", err)
	}

	// The same ID may live in another collection; callers keep the
	// exactly-one invariant through moves.
	other := job.ToTimer(j)
	insert(t, s, other)

	if _, err := get(t, s, job.KindSuspended, j.ID); !errors.Is(err, asyncexec.ErrJobNotFound) {
		t.Fatalf("GetJob missing: got %v, want ErrJobNotFound", err)
	}

	// A duplicate does not poison the transaction for later statements.
	next := newJob(job.KindExecutable, j.ProcessInstanceID, now())
	mustTx(t, s, func(ctx context.Context, tx job.Tx) error {
		if err := tx.InsertJob(ctx, j.Clone()); !errors.Is(err, asyncexec.ErrJobAlreadyExists) {
			return errors.New("expected duplicate")
		}
		return tx.InsertJob(ctx, next)
	})
	if _, err := get(t, s, job.KindExecutable, next.ID); err != nil {
		t.Fatalf("insert after duplicate: %v", err)
	}
}

func testInvalidKind(t *testing.T, s job.Store) {
	j := newJob("bogus", uniquePID(t), now())
	err := tx(t, s, func(ctx context.Context, tx job.Tx) error {
		return tx.InsertJob(ctx, j)
	})
	if !errors.Is(err, asyncexec.ErrInvalidKind) {
		t.Fatalf("got %v, want ErrInvalidKind", err)
	}
}

func testRevisionCheck(t *testing.T, s job.Store) {
	j := newJob(job.KindExecutable, uniquePID(t), now())
	insert(t, s, j)
	stale := j.Clone()

	mustTx(t, s, func(ctx context.Context, tx job.Tx) error {
		j.Retries = 2
		return tx.UpdateJob(ctx, j)
	})
	if j.Revision != stale.Revision+1 {
		t.Fatalf("revision = %d, want %d", j.Revision, stale.Revision+1)
	}

	err := tx(t, s, func(ctx context.Context, tx job.Tx) error {
		stale.Retries = 0
		return tx.UpdateJob(ctx, stale)
	})
	if !errors.Is(err, asyncexec.ErrOptimisticLock) {
		t.Fatalf("stale update: got %v, want ErrOptimisticLock", err)
	}
	err = tx(t, s, func(ctx context.Context, tx job.Tx) error {
		return tx.DeleteJob(ctx, stale)
	})
	if !errors.Is(err, asyncexec.ErrOptimisticLock) {
		t.Fatalf("stale delete: got %v, want ErrOptimisticLock", err)
	}

	got, err := get(t, s, job.KindExecutable, j.ID)
	if err != nil || got.Retries != 2 {
		t.Fatalf("row after stale writes = %+v, %v", got, err)
	}

	mustTx(t, s, func(ctx context.Context, tx job.Tx) error { return tx.DeleteJob(ctx, j) })
	err = tx(t, s, func(ctx context.Context, tx job.Tx) error { return tx.DeleteJob(ctx, j) })
	if !errors.Is(err, asyncexec.ErrOptimisticLock) {
		t.Fatalf("delete of missing row: got %v, want ErrOptimisticLock", err)
	}
}

func testRollback(t *testing.T, s job.Store) {
	j := newJob(job.KindExecutable, uniquePID(t), now())
	ran := false
	boom := errors.New("boom")
	err := tx(t, s, func(ctx context.Context, tx job.Tx) error {
		if err := tx.InsertJob(ctx, j); err != nil {
			return err
		}
		tx.AfterCommit(func(context.Context) { ran = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if ran {
		t.Fatal("after-commit hook ran on rollback")
	}
	if _, err := get(t, s, job.KindExecutable, j.ID); !errors.Is(err, asyncexec.ErrJobNotFound) {
		t.Fatalf("rolled back row visible: %v", err)
	}
}

func testAfterCommit(t *testing.T, s job.Store) {
	j := newJob(job.KindExecutable, uniquePID(t), now())
	var visible bool
	mustTx(t, s, func(ctx context.Context, tx job.Tx) error {
		tx.AfterCommit(func(context.Context) {
			_, err := get(t, s, job.KindExecutable, j.ID)
			visible = err == nil
		})
		return tx.InsertJob(ctx, j)
	})
	if !visible {
		t.Fatal("after-commit hook ran before the row was visible")
	}
}

func testMoveBetweenKinds(t *testing.T, s job.Store) {
	j := newJob(job.KindExecutable, uniquePID(t), now())
	insert(t, s, j)

	timer := job.ToTimer(j)
	timer.DueDate = job.TimePtr(now().Add(time.Minute))
	mustTx(t, s, func(ctx context.Context, tx job.Tx) error {
		if err := tx.InsertJob(ctx, timer); err != nil {
			return err
		}
		return tx.DeleteJob(ctx, j)
	})

	if _, err := get(t, s, job.KindExecutable, j.ID); !errors.Is(err, asyncexec.ErrJobNotFound) {
		t.Fatalf("source still present: %v", err)
	}
	if _, err := get(t, s, job.KindTimer, j.ID); err != nil {
		t.Fatalf("target missing: %v", err)
	}

	// A failed delete rolls the insert back.
	stale := timer.Clone()
	stale.Revision += 5
	dead := job.ToDeadLetter(timer)
	err := tx(t, s, func(ctx context.Context, tx job.Tx) error {
		if err := tx.InsertJob(ctx, dead); err != nil {
			return err
		}
		return tx.DeleteJob(ctx, stale)
	})
	if !errors.Is(err, asyncexec.ErrOptimisticLock) {
		t.Fatalf("stale move: got %v, want ErrOptimisticLock", err)
	}
	if _, err := get(t, s, job.KindDeadLetter, j.ID); !errors.Is(err, asyncexec.ErrJobNotFound) {
		t.Fatalf("target of failed move visible: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

func testFindOrderAndPage(t *testing.T, s job.Store) {
	pid := uniquePID(t)
	base := now()

	immediate := newJob(job.KindExecutable, pid, base.Add(2*time.Second))
	early := newJob(job.KindExecutable, pid, base)
	early.DueDate = job.TimePtr(base.Add(time.Minute))
	late := newJob(job.KindExecutable, pid, base)
	late.DueDate = job.TimePtr(base.Add(time.Hour))
	other := newJob(job.KindExecutable, pid, base)
	other.HandlerType = job.HandlerTriggerTimer
	other.DueDate = job.TimePtr(base.Add(2 * time.Hour))
	insert(t, s, late, early, immediate, other)

	got := find(t, s, job.KindExecutable, job.Query{ProcessInstanceID: pid})
	wantOrder := []id.JobID{immediate.ID, early.ID, late.ID, other.ID}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d rows, want %d", len(got), len(wantOrder))
	}
	for i, w := range wantOrder {
		if got[i].ID != w {
			t.Fatalf("row %d = %s, want %s", i, got[i].ID, w)
		}
	}

	due := base.Add(30 * time.Minute)
	got = find(t, s, job.KindExecutable, job.Query{ProcessInstanceID: pid, DueBefore: &due})
	if len(got) != 2 {
		t.Fatalf("due rows = %d, want 2", len(got))
	}

	got = find(t, s, job.KindExecutable, job.Query{ProcessInstanceID: pid, Limit: 2, Offset: 1})
	if len(got) != 2 || got[0].ID != early.ID || got[1].ID != late.ID {
		t.Fatalf("page = %v", got)
	}

	got = find(t, s, job.KindExecutable, job.Query{ProcessInstanceID: pid, HandlerType: job.HandlerTriggerTimer})
	if len(got) != 1 || got[0].ID != other.ID {
		t.Fatalf("handler filter = %v", got)
	}

	var n int64
	mustTx(t, s, func(ctx context.Context, tx job.Tx) error {
		var err error
		n, err = tx.CountJobs(ctx, job.KindExecutable, job.Query{ProcessInstanceID: pid, Limit: 1})
		return err
	})
	if n != 4 {
		t.Fatalf("count = %d, want 4 (limit ignored)", n)
	}
}

func testFindLockFilters(t *testing.T, s job.Store) {
	pid := uniquePID(t)
	ts := now()

	free := newJob(job.KindExecutable, pid, ts)
	live := newJob(job.KindExecutable, pid, ts)
	live.Lock("node-a", ts.Add(time.Hour))
	expired := newJob(job.KindExecutable, pid, ts)
	expired.Lock("node-b", ts.Add(-time.Minute))
	expired.Exclusive = true
	insert(t, s, free, live, expired)

	ids := func(jobs []*job.Job) map[id.JobID]bool {
		m := make(map[id.JobID]bool, len(jobs))
		for _, j := range jobs {
			m[j.ID] = true
		}
		return m
	}

	got := ids(find(t, s, job.KindExecutable, job.Query{ProcessInstanceID: pid, AvailableAt: &ts}))
	if len(got) != 2 || !got[free.ID] || !got[expired.ID] {
		t.Errorf("AvailableAt = %v", got)
	}
	got = ids(find(t, s, job.KindExecutable, job.Query{ProcessInstanceID: pid, UnlockedOnly: true}))
	if len(got) != 1 || !got[free.ID] {
		t.Errorf("UnlockedOnly = %v", got)
	}
	got = ids(find(t, s, job.KindExecutable, job.Query{ProcessInstanceID: pid, LockExpiredBefore: &ts}))
	if len(got) != 1 || !got[expired.ID] {
		t.Errorf("LockExpiredBefore = %v", got)
	}
	got = ids(find(t, s, job.KindExecutable, job.Query{ProcessInstanceID: pid, ExclusiveOnly: true}))
	if len(got) != 1 || !got[expired.ID] {
		t.Errorf("ExclusiveOnly = %v", got)
	}
}

// ──────────────────────────────────────────────────
// Instance locks and concurrency
// ──────────────────────────────────────────────────

func testInstanceLock(t *testing.T, s job.Store) {
	pid := uniquePID(t)
	ts := now()
	lock := func(owner string, until, at time.Time) error {
		return tx(t, s, func(ctx context.Context, tx job.Tx) error {
			return tx.LockInstance(ctx, pid, owner, until, at)
		})
	}
	unlock := func(owner string, until time.Time) {
		mustTx(t, s, func(ctx context.Context, tx job.Tx) error {
			return tx.UnlockInstance(ctx, pid, owner, until)
		})
	}

	if err := lock("node-a", ts.Add(time.Minute), ts); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if err := lock("node-b", ts.Add(time.Minute), ts); !errors.Is(err, asyncexec.ErrOptimisticLock) {
		t.Fatalf("lock by other owner: got %v, want ErrOptimisticLock", err)
	}
	if err := lock("node-a", ts.Add(time.Minute), ts); !errors.Is(err, asyncexec.ErrOptimisticLock) {
		t.Fatalf("relock by same owner: got %v, want ErrOptimisticLock", err)
	}

	unlock("node-b", ts.Add(time.Minute))
	if err := lock("node-b", ts.Add(time.Minute), ts); !errors.Is(err, asyncexec.ErrOptimisticLock) {
		t.Fatalf("unlock by wrong owner released the lock: %v", err)
	}

	// An expired lock can be taken over, even by a worker of the same owner.
	later := ts.Add(2 * time.Minute)
	if err := lock("node-a", later.Add(time.Minute), later); err != nil {
		t.Fatalf("take over expired lock: %v", err)
	}
	// The first holder finishing late must not release the new lock.
	unlock("node-a", ts.Add(time.Minute))
	if err := lock("node-b", later.Add(time.Minute), later); !errors.Is(err, asyncexec.ErrOptimisticLock) {
		t.Fatalf("stale unlock released a taken-over lock: %v", err)
	}

	unlock("node-a", later.Add(time.Minute))
	if err := lock("node-b", later.Add(time.Minute), later); err != nil {
		t.Fatalf("lock after unlock: %v", err)
	}
	unlock("node-b", later.Add(time.Minute))
}

func testConcurrentUpdate(t *testing.T, s job.Store) {
	j := newJob(job.KindExecutable, uniquePID(t), now())
	insert(t, s, j)

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		losses  int
		unknown []error
	)
	start := make(chan struct{})
	for i := range racers {
		wg.Add(1)
		go func(owner int) {
			defer wg.Done()
			<-start
			mine := j.Clone()
			mine.Lock("node-"+string(rune('a'+owner)), now().Add(time.Minute))
			err := s.Transact(context.Background(), func(ctx context.Context, tx job.Tx) error {
				return tx.UpdateJob(ctx, mine)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, asyncexec.ErrOptimisticLock):
				losses++
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if wins != 1 || losses != racers-1 {
		t.Fatalf("wins=%d losses=%d, want 1/%d", wins, losses, racers-1)
	}
}
