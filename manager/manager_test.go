package manager_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/calendar"
	"github.com/xraph/asyncexec/ext"
	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/manager"
	"github.com/xraph/asyncexec/store/memory"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type hinter struct {
	mu        sync.Mutex
	active    bool
	submitted []*job.Job
}

func (h *hinter) IsActive() bool { return h.active }

func (h *hinter) Submit(_ context.Context, j *job.Job) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.submitted = append(h.submitted, j)
	return true
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnJobScheduled(context.Context, *job.Job) error {
	r.add("scheduled")
	return nil
}

func (r *recorder) OnTimerScheduled(context.Context, *job.Job) error {
	r.add("timer_scheduled")
	return nil
}

func (r *recorder) OnTimerFired(context.Context, *job.Job) error {
	r.add("timer_fired")
	return nil
}

func (r *recorder) OnJobUnacquired(context.Context, *job.Job) error {
	r.add("unacquired")
	return nil
}

func (r *recorder) OnJobSuspended(context.Context, *job.Job) error {
	r.add("suspended")
	return nil
}

func (r *recorder) OnJobActivated(context.Context, *job.Job) error {
	r.add("activated")
	return nil
}

func (r *recorder) OnJobDeadLettered(context.Context, *job.Job) error {
	r.add("dead_lettered")
	return nil
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

type fixture struct {
	m     *manager.Manager
	store *memory.Store
	reg   *job.Registry
	clock *clock
	rec   *recorder
}

func setup(t *testing.T, opts ...manager.Option) *fixture {
	t.Helper()
	cfg := asyncexec.DefaultConfig()
	cfg.LockOwner = "node-test"

	s := memory.New()
	reg := job.NewRegistry()
	rec := &recorder{}
	extensions := ext.NewRegistry(nil)
	extensions.Register(rec)
	c := newClock()

	opts = append([]manager.Option{manager.WithClock(c.Now)}, opts...)
	m := manager.New(cfg, s, reg, calendar.New(), extensions, nil, opts...)
	return &fixture{m: m, store: s, reg: reg, clock: c, rec: rec}
}

var execCtx = job.ExecutionContext{
	ExecutionID:         "exec-1",
	ProcessInstanceID:   "pi-1",
	ProcessDefinitionID: "pd-1",
	ElementID:           "task1",
	TenantID:            "acme",
}

func (f *fixture) get(t *testing.T, kind job.Kind, j *job.Job) *job.Job {
	t.Helper()
	var got *job.Job
	err := f.store.Transact(context.Background(), func(ctx context.Context, tx job.Tx) error {
		var err error
		got, err = tx.GetJob(ctx, kind, j.ID)
		return err
	})
	if err != nil {
		t.Fatalf("GetJob(%s, %s): %v", kind, j.ID, err)
	}
	return got
}

func (f *fixture) find(t *testing.T, kind job.Kind) []*job.Job {
	t.Helper()
	var got []*job.Job
	err := f.store.Transact(context.Background(), func(ctx context.Context, tx job.Tx) error {
		var err error
		got, err = tx.FindJobs(ctx, kind, job.Query{})
		return err
	})
	if err != nil {
		t.Fatalf("FindJobs(%s): %v", kind, err)
	}
	return got
}

func assertOnlyIn(t *testing.T, s *memory.Store, j *job.Job, kind job.Kind) {
	t.Helper()
	got := s.Locate(j.ID)
	if len(got) != 1 || got[0] != kind {
		t.Fatalf("job %s located in %v, want exactly [%s]", j.ID, got, kind)
	}
}

// ──────────────────────────────────────────────────
// Async jobs
// ──────────────────────────────────────────────────

func TestScheduleAsyncJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	j := f.m.CreateAsyncJob(execCtx, true, job.WithRetries(5))
	if j.Kind != job.KindExecutable || j.Type != job.TypeMessage {
		t.Fatalf("kind/type = %s/%s", j.Kind, j.Type)
	}
	if j.HandlerType != job.HandlerAsyncContinuation {
		t.Errorf("HandlerType = %q", j.HandlerType)
	}
	if j.Retries != 5 || !j.Exclusive {
		t.Errorf("Retries = %d, Exclusive = %v", j.Retries, j.Exclusive)
	}
	if j.LockOwner != "" {
		t.Errorf("job locked without an active dispatcher")
	}

	if err := f.m.ScheduleAsyncJob(ctx, nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	assertOnlyIn(t, f.store, j, job.KindExecutable)
	if ev := f.rec.Events(); !slices.Equal(ev, []string{"scheduled"}) {
		t.Errorf("events = %v", ev)
	}
}

func TestScheduleAsyncJob_DefaultRetries(t *testing.T) {
	f := setup(t)
	j := f.m.CreateAsyncJob(execCtx, false)
	if j.Retries != asyncexec.DefaultConfig().DefaultRetries {
		t.Errorf("Retries = %d", j.Retries)
	}
}

func TestScheduleAsyncJob_HintsActiveDispatcher(t *testing.T) {
	h := &hinter{active: true}
	f := setup(t, manager.WithDispatcher(h))
	ctx := context.Background()

	j := f.m.CreateAsyncJob(execCtx, false)
	if j.LockOwner != "node-test" || j.LockExpiration == nil {
		t.Fatalf("job not pre-locked: %+v", j)
	}
	want := f.clock.Now().Add(f.m.Config().AsyncLockDuration)
	if !j.LockExpiration.Equal(want) {
		t.Errorf("LockExpiration = %v, want %v", j.LockExpiration, want)
	}

	err := f.store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		if err := f.m.ScheduleAsyncJob(ctx, tx, j); err != nil {
			return err
		}
		if len(h.submitted) != 0 {
			t.Error("dispatcher hinted before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if len(h.submitted) != 1 || h.submitted[0].ID != j.ID {
		t.Fatalf("submitted = %v", h.submitted)
	}
}

func TestScheduleAsyncJob_NoHintOnRollback(t *testing.T) {
	h := &hinter{active: true}
	f := setup(t, manager.WithDispatcher(h))
	boom := errors.New("boom")

	err := f.store.Transact(context.Background(), func(ctx context.Context, tx job.Tx) error {
		if err := f.m.ScheduleAsyncJob(ctx, tx, f.m.CreateAsyncJob(execCtx, false)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(h.submitted) != 0 || f.store.Len(job.KindExecutable) != 0 {
		t.Fatalf("rolled back schedule leaked: submitted=%d rows=%d", len(h.submitted), f.store.Len(job.KindExecutable))
	}
	if len(f.rec.Events()) != 0 {
		t.Errorf("events emitted for rolled back schedule: %v", f.rec.Events())
	}
}

func TestScheduleAsyncJob_InvalidInput(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	if err := f.m.ScheduleAsyncJob(ctx, nil, nil); !errors.Is(err, asyncexec.ErrNilJob) {
		t.Errorf("nil job: %v", err)
	}
	j := f.m.CreateAsyncJob(execCtx, false)
	j.Kind = job.KindTimer
	if err := f.m.ScheduleAsyncJob(ctx, nil, j); !errors.Is(err, asyncexec.ErrInvalidKind) {
		t.Errorf("timer kind: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Execution
// ──────────────────────────────────────────────────

func TestExecute_MessageJob(t *testing.T) {
	resolver := manager.ExecutionResolverFunc(func(_ context.Context, _ job.Tx, executionID string) (job.VariableScope, bool, error) {
		return job.MapScope{"customer": "ada"}, executionID == "exec-1", nil
	})
	f := setup(t, manager.WithExecutionResolver(resolver))
	ctx := context.Background()

	var seen any
	f.reg.Register(job.HandlerAsyncContinuation, func(_ context.Context, _ job.Tx, _ *job.Job, scope job.VariableScope) error {
		seen, _ = scope.Variable("customer")
		return nil
	})

	j := f.m.CreateAsyncJob(execCtx, false)
	if err := f.m.ScheduleAsyncJob(ctx, nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	if err := f.m.Execute(ctx, nil, j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen != "ada" {
		t.Errorf("handler saw customer = %v", seen)
	}
	if n := len(f.store.Locate(j.ID)); n != 0 {
		t.Errorf("executed job still stored in %d collections", n)
	}
}

func TestExecute_MissingExecutionUsesEmptyScope(t *testing.T) {
	resolver := manager.ExecutionResolverFunc(func(context.Context, job.Tx, string) (job.VariableScope, bool, error) {
		return nil, false, nil
	})
	f := setup(t, manager.WithExecutionResolver(resolver))
	ctx := context.Background()

	var got job.VariableScope
	f.reg.Register(job.HandlerAsyncContinuation, func(_ context.Context, _ job.Tx, _ *job.Job, scope job.VariableScope) error {
		got = scope
		return nil
	})
	j := f.m.CreateAsyncJob(execCtx, false)
	if err := f.m.ScheduleAsyncJob(ctx, nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	if err := f.m.Execute(ctx, nil, j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != job.NoScope {
		t.Errorf("scope = %v, want NoScope", got)
	}
}

func TestExecute_FailureRollsBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	boom := errors.New("boom")
	f.reg.Register(job.HandlerAsyncContinuation, func(ctx context.Context, tx job.Tx, _ *job.Job, _ job.VariableScope) error {
		side := f.m.CreateAsyncJob(execCtx, false)
		if err := f.m.ScheduleAsyncJob(ctx, tx, side); err != nil {
			return err
		}
		return boom
	})

	j := f.m.CreateAsyncJob(execCtx, false)
	if err := f.m.ScheduleAsyncJob(ctx, nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	if err := f.m.Execute(ctx, nil, j); !errors.Is(err, boom) {
		t.Fatalf("Execute: %v, want boom", err)
	}
	if n := f.store.Len(job.KindExecutable); n != 1 {
		t.Errorf("executable rows = %d, want only the failed job", n)
	}
	assertOnlyIn(t, f.store, j, job.KindExecutable)
}

func TestExecute_NoHandler(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	j := f.m.CreateAsyncJob(execCtx, false, job.WithHandler("unknown", ""))
	if err := f.m.ScheduleAsyncJob(ctx, nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	if err := f.m.Execute(ctx, nil, j); !errors.Is(err, asyncexec.ErrNoHandler) {
		t.Fatalf("Execute: %v, want ErrNoHandler", err)
	}
}

func TestExecute_RejectsNonExecutable(t *testing.T) {
	f := setup(t)
	j := f.m.CreateAsyncJob(execCtx, false)
	j.Kind = job.KindDeadLetter
	if err := f.m.Execute(context.Background(), nil, j); !errors.Is(err, asyncexec.ErrInvalidKind) {
		t.Fatalf("Execute: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Timers
// ──────────────────────────────────────────────────

// fireDueTimers moves every due timer to executable and executes it, the
// way the acquisition loop and a worker would. It returns how many fired.
func (f *fixture) fireDueTimers(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	fired := 0
	for _, timer := range f.find(t, job.KindTimer) {
		if !timer.Due(now) {
			continue
		}
		exec, err := f.m.MoveTimerJobToExecutableJob(ctx, nil, timer)
		if err != nil {
			t.Fatalf("MoveTimerJobToExecutableJob: %v", err)
		}
		if exec == nil {
			continue
		}
		if err := f.m.Execute(ctx, nil, exec); err != nil {
			t.Fatalf("Execute timer: %v", err)
		}
		fired++
	}
	return fired
}

func TestTimer_RepeatFiresExactlyNTimes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	calls := 0
	f.reg.Register(job.HandlerTriggerTimer, func(context.Context, job.Tx, *job.Job, job.VariableScope) error {
		calls++
		return nil
	})

	timer, err := f.m.CreateAndScheduleTimer(ctx, nil, calendar.TimerDefinition{Cycle: "R3/PT1H"}, false, execCtx)
	if err != nil {
		t.Fatalf("CreateAndScheduleTimer: %v", err)
	}
	if timer.MaxIterations != 3 || timer.Repeat == "" {
		t.Fatalf("timer = %+v", timer)
	}
	if want := f.clock.Now().Add(time.Hour); !timer.DueDate.Equal(want) {
		t.Fatalf("DueDate = %v, want %v", timer.DueDate, want)
	}

	for range 6 {
		f.clock.Advance(time.Hour)
		f.fireDueTimers(t)
	}
	if calls != 3 {
		t.Fatalf("handler calls = %d, want 3", calls)
	}
	if n := f.store.Len(job.KindTimer) + f.store.Len(job.KindExecutable); n != 0 {
		t.Fatalf("%d rows left after chain ended", n)
	}
}

func TestTimer_InterruptingDropsRepeat(t *testing.T) {
	f := setup(t)
	timer, err := f.m.CreateTimerJob(context.Background(), nil, calendar.TimerDefinition{Cycle: "R5/PT10M"}, true, execCtx)
	if err != nil {
		t.Fatalf("CreateTimerJob: %v", err)
	}
	if timer.Repeat != "" || timer.MaxIterations != 0 {
		t.Fatalf("interrupting timer kept repeat %q/%d", timer.Repeat, timer.MaxIterations)
	}
}

func TestTimer_ExpressionFromVariables(t *testing.T) {
	resolver := manager.ExecutionResolverFunc(func(context.Context, job.Tx, string) (job.VariableScope, bool, error) {
		return job.MapScope{"wait": "PT30M"}, true, nil
	})
	f := setup(t, manager.WithExecutionResolver(resolver))
	timer, err := f.m.CreateTimerJob(context.Background(), nil, calendar.TimerDefinition{Duration: "${wait}"}, true, execCtx)
	if err != nil {
		t.Fatalf("CreateTimerJob: %v", err)
	}
	if want := f.clock.Now().Add(30 * time.Minute); !timer.DueDate.Equal(want) {
		t.Fatalf("DueDate = %v, want %v", timer.DueDate, want)
	}
}

func TestTimer_InvalidExpression(t *testing.T) {
	f := setup(t)
	_, err := f.m.CreateTimerJob(context.Background(), nil, calendar.TimerDefinition{Duration: "soon"}, true, execCtx)
	if !errors.Is(err, asyncexec.ErrInvalidTimerExpression) {
		t.Fatalf("err = %v, want ErrInvalidTimerExpression", err)
	}
}

func TestTimer_PastEndDateIsDroppedWithoutRunning(t *testing.T) {
	start := newClock().Now()
	deadline := start.Add(3 * time.Hour)
	resolver := manager.ExecutionResolverFunc(func(context.Context, job.Tx, string) (job.VariableScope, bool, error) {
		return job.MapScope{"deadline": deadline}, true, nil
	})
	f := setup(t, manager.WithExecutionResolver(resolver))
	ctx := context.Background()
	calls := 0
	f.reg.Register(job.HandlerTimerBoundaryEvent, func(context.Context, job.Tx, *job.Job, job.VariableScope) error {
		calls++
		return nil
	})

	def := calendar.TimerDefinition{Cycle: "R/PT1H", EndDate: "${deadline}"}
	timer, err := f.m.CreateAndScheduleTimer(ctx, nil, def, false, execCtx,
		job.WithHandler(job.HandlerTimerBoundaryEvent, `{"activity_id":"boundary1"}`))
	if err != nil {
		t.Fatalf("CreateAndScheduleTimer: %v", err)
	}
	if got := job.EndDateExpression(timer.HandlerConfig); got != "${deadline}" {
		t.Fatalf("end date expression = %q", got)
	}

	f.clock.Advance(time.Hour)
	if n := f.fireDueTimers(t); n != 1 {
		t.Fatalf("first round fired %d", n)
	}
	if f.store.Len(job.KindTimer) != 1 {
		t.Fatal("next occurrence not scheduled")
	}

	// The variable moves the deadline before the second occurrence.
	deadline = start.Add(90 * time.Minute)
	f.clock.Advance(time.Hour)
	f.fireDueTimers(t)
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if n := f.store.Len(job.KindTimer) + f.store.Len(job.KindExecutable); n != 0 {
		t.Fatalf("%d rows left", n)
	}
}

func TestMoveTimerJobToExecutableJob(t *testing.T) {
	h := &hinter{active: true}
	f := setup(t, manager.WithDispatcher(h))
	ctx := context.Background()

	timer, err := f.m.CreateAndScheduleTimer(ctx, nil, calendar.TimerDefinition{Duration: "PT1M"}, true, execCtx)
	if err != nil {
		t.Fatalf("CreateAndScheduleTimer: %v", err)
	}
	f.clock.Advance(time.Minute)

	exec, err := f.m.MoveTimerJobToExecutableJob(ctx, nil, timer)
	if err != nil {
		t.Fatalf("MoveTimerJobToExecutableJob: %v", err)
	}
	if exec.ID != timer.ID || exec.Type != job.TypeTimer {
		t.Errorf("exec = %+v", exec)
	}
	assertOnlyIn(t, f.store, timer, job.KindExecutable)
	if len(h.submitted) != 1 {
		t.Errorf("submitted = %d, want 1", len(h.submitted))
	}
}

func TestMoveTimerJobToExecutableJob_AlreadyMoved(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	timer, err := f.m.CreateAndScheduleTimer(ctx, nil, calendar.TimerDefinition{Duration: "PT1M"}, true, execCtx)
	if err != nil {
		t.Fatalf("CreateAndScheduleTimer: %v", err)
	}
	if _, err := f.m.MoveTimerJobToExecutableJob(ctx, nil, timer); err != nil {
		t.Fatalf("first move: %v", err)
	}

	// A second node working from the same stale timer row.
	exec, err := f.m.MoveTimerJobToExecutableJob(ctx, nil, timer)
	if err != nil || exec != nil {
		t.Fatalf("second move = (%v, %v), want (nil, nil)", exec, err)
	}
	assertOnlyIn(t, f.store, timer, job.KindExecutable)
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

func TestSuspendAndActivate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	j := f.m.CreateAsyncJob(execCtx, false)
	if err := f.m.ScheduleAsyncJob(ctx, nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	suspended, err := f.m.MoveJobToSuspendedJob(ctx, nil, j)
	if err != nil {
		t.Fatalf("MoveJobToSuspendedJob: %v", err)
	}
	assertOnlyIn(t, f.store, j, job.KindSuspended)

	active, err := f.m.ActivateSuspendedJob(ctx, nil, suspended)
	if err != nil {
		t.Fatalf("ActivateSuspendedJob: %v", err)
	}
	if active.Kind != job.KindExecutable {
		t.Errorf("activated kind = %s", active.Kind)
	}
	assertOnlyIn(t, f.store, j, job.KindExecutable)

	timer, err := f.m.CreateAndScheduleTimer(ctx, nil, calendar.TimerDefinition{Duration: "PT1H"}, true, execCtx)
	if err != nil {
		t.Fatalf("CreateAndScheduleTimer: %v", err)
	}
	st, err := f.m.MoveJobToSuspendedJob(ctx, nil, timer)
	if err != nil {
		t.Fatalf("suspend timer: %v", err)
	}
	back, err := f.m.ActivateSuspendedJob(ctx, nil, st)
	if err != nil {
		t.Fatalf("activate timer: %v", err)
	}
	if back.Kind != job.KindTimer {
		t.Errorf("activated timer kind = %s", back.Kind)
	}

	want := []string{"scheduled", "suspended", "activated", "timer_scheduled", "suspended", "activated"}
	if got := f.rec.Events(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestDeadLetterAndRequeue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	j := f.m.CreateAsyncJob(execCtx, false)
	if err := f.m.ScheduleAsyncJob(ctx, nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	j.SetException("boom", "stack")
	dead, err := f.m.MoveJobToDeadLetterJob(ctx, nil, j)
	if err != nil {
		t.Fatalf("MoveJobToDeadLetterJob: %v", err)
	}
	if dead.Retries != 0 || dead.ExceptionMessage != "boom" {
		t.Errorf("dead = %+v", dead)
	}
	assertOnlyIn(t, f.store, j, job.KindDeadLetter)

	exec, err := f.m.MoveDeadLetterJobToExecutableJob(ctx, nil, dead, 4)
	if err != nil {
		t.Fatalf("MoveDeadLetterJobToExecutableJob: %v", err)
	}
	if exec.Retries != 4 || exec.DueDate != nil || exec.Revision != 0 {
		t.Errorf("requeued = %+v", exec)
	}
	assertOnlyIn(t, f.store, j, job.KindExecutable)
}

func TestMove_StaleSourceRollsBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	j := f.m.CreateAsyncJob(execCtx, false)
	if err := f.m.ScheduleAsyncJob(ctx, nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	stale := j.Clone()
	stale.Revision = 7

	if _, err := f.m.MoveJobToDeadLetterJob(ctx, nil, stale); !errors.Is(err, asyncexec.ErrOptimisticLock) {
		t.Fatalf("err = %v, want ErrOptimisticLock", err)
	}
	assertOnlyIn(t, f.store, j, job.KindExecutable)
}

func TestMoveJobToTimerJob_RejectsTimer(t *testing.T) {
	f := setup(t)
	j := f.m.CreateAsyncJob(execCtx, false)
	j.Kind = job.KindTimer
	if _, err := f.m.MoveJobToTimerJob(context.Background(), nil, j); !errors.Is(err, asyncexec.ErrInvalidKind) {
		t.Fatalf("err = %v", err)
	}
}

// ──────────────────────────────────────────────────
// Unacquire
// ──────────────────────────────────────────────────

func TestUnacquire_FreshIDSortsBehind(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.m.CreateAsyncJob(execCtx, false)
	f.clock.Advance(time.Second)
	second := f.m.CreateAsyncJob(execCtx, false)
	for _, j := range []*job.Job{first, second} {
		if err := f.m.ScheduleAsyncJob(ctx, nil, j); err != nil {
			t.Fatalf("ScheduleAsyncJob: %v", err)
		}
	}
	locked := f.get(t, job.KindExecutable, first)
	locked.Lock("node-test", f.clock.Now().Add(time.Minute))
	if err := f.store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		return tx.UpdateJob(ctx, locked)
	}); err != nil {
		t.Fatalf("lock: %v", err)
	}

	f.clock.Advance(time.Second)
	if err := f.m.Unacquire(ctx, nil, locked); err != nil {
		t.Fatalf("Unacquire: %v", err)
	}

	if got := f.store.Locate(first.ID); len(got) != 0 {
		t.Fatalf("old row still in %v", got)
	}
	rows := f.find(t, job.KindExecutable)
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].ID != second.ID {
		t.Errorf("unacquired job sorts ahead of %s", second.ID)
	}
	fresh := rows[1]
	if fresh.ID == first.ID || fresh.LockOwner != "" || fresh.LockExpiration != nil {
		t.Errorf("fresh row = %+v", fresh)
	}
	if fresh.ProcessInstanceID != first.ProcessInstanceID || fresh.Retries != first.Retries {
		t.Errorf("fresh row lost fields: %+v", fresh)
	}
	if ev := f.rec.Events(); ev[len(ev)-1] != "unacquired" {
		t.Errorf("events = %v", ev)
	}
}

func TestUnacquire_TimerClearsLockInPlace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	timer, err := f.m.CreateAndScheduleTimer(ctx, nil, calendar.TimerDefinition{Duration: "PT1M"}, true, execCtx)
	if err != nil {
		t.Fatalf("CreateAndScheduleTimer: %v", err)
	}
	locked := f.get(t, job.KindTimer, timer)
	locked.Lock("node-test", f.clock.Now().Add(time.Hour))
	if err := f.store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		return tx.UpdateJob(ctx, locked)
	}); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if err := f.m.Unacquire(ctx, nil, locked); err != nil {
		t.Fatalf("Unacquire: %v", err)
	}
	got := f.get(t, job.KindTimer, timer)
	if got.LockOwner != "" || got.LockExpiration != nil {
		t.Errorf("timer still locked: %+v", got)
	}
}

func TestDeleteJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	j := f.m.CreateAsyncJob(execCtx, false)
	if err := f.m.ScheduleAsyncJob(ctx, nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	if err := f.m.DeleteJob(ctx, nil, j); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if f.store.Len(job.KindExecutable) != 0 {
		t.Fatal("row not deleted")
	}
}
