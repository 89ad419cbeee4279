package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/calendar"
	"github.com/xraph/asyncexec/engine"
	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/queue"
	"github.com/xraph/asyncexec/store/memory"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type recorder struct {
	mu       sync.Mutex
	failed   int
	executed int
	retried  int
	shutdown int
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnJobExecuted(context.Context, *job.Job, time.Duration) error {
	r.mu.Lock()
	r.executed++
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnJobExecutionFailed(context.Context, *job.Job, error) error {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnJobRetryScheduled(context.Context, *job.Job, time.Time) error {
	r.mu.Lock()
	r.retried++
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnShutdown(context.Context) error {
	r.mu.Lock()
	r.shutdown++
	r.mu.Unlock()
	return nil
}

func (r *recorder) counts() (executed, failed, retried, shutdown int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executed, r.failed, r.retried, r.shutdown
}

func fastConfig() asyncexec.Config {
	cfg := asyncexec.DefaultConfig()
	cfg.LockOwner = "node-test"
	cfg.CorePoolSize = 2
	cfg.MaxPoolSize = 2
	cfg.QueueSize = 10
	cfg.DefaultTimerWait = 10 * time.Millisecond
	cfg.DefaultAsyncWait = 10 * time.Millisecond
	cfg.DefaultQueueFullWait = 10 * time.Millisecond
	cfg.RetryWait = 20 * time.Millisecond
	cfg.ResetExpiredInterval = 50 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func totalRows(s *memory.Store) int {
	n := 0
	for _, k := range job.Kinds {
		n += s.Len(k)
	}
	return n
}

func shutdown(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := engine.New(fastConfig(), nil); !errors.Is(err, asyncexec.ErrNoStore) {
		t.Errorf("nil store: err = %v, want ErrNoStore", err)
	}

	cfg := fastConfig()
	cfg.MaxPoolSize = 1
	cfg.CorePoolSize = 4
	if _, err := engine.New(cfg, memory.New()); !errors.Is(err, asyncexec.ErrInvalidConfig) {
		t.Errorf("max < core: err = %v, want ErrInvalidConfig", err)
	}
}

func TestNew_GeneratesLockOwner(t *testing.T) {
	cfg := fastConfig()
	cfg.LockOwner = ""
	a, err := engine.New(cfg, memory.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := engine.New(cfg, memory.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Config().LockOwner == "" || a.Config().LockOwner == b.Config().LockOwner {
		t.Fatalf("lock owners = %q, %q", a.Config().LockOwner, b.Config().LockOwner)
	}
	if a.Manager().Config().LockOwner != a.Config().LockOwner {
		t.Error("manager does not share the generated lock owner")
	}
}

// ──────────────────────────────────────────────────
// End-to-end: fail twice, then succeed
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RetryThenSucceed(t *testing.T) {
	s := memory.New()
	rec := &recorder{}
	eng, err := engine.New(fastConfig(), s, engine.WithExtension(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var calls atomic.Int32
	eng.Register(job.HandlerAsyncContinuation, func(_ context.Context, _ job.Tx, j *job.Job, _ job.VariableScope) error {
		if n := calls.Add(1); n <= 2 {
			return errors.New("downstream unavailable")
		}
		return nil
	})

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer shutdown(t, eng)

	m := eng.Manager()
	j := m.CreateAsyncJob(job.ExecutionContext{ProcessInstanceID: "X", ExecutionID: "exec-1"}, false, job.WithRetries(3))
	if err := m.ScheduleAsyncJob(context.Background(), nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}

	waitFor(t, "third execution", func() bool {
		executed, _, _, _ := rec.counts()
		return executed == 1
	})
	waitFor(t, "row cleanup", func() bool { return totalRows(s) == 0 })

	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
	executed, failed, retried, _ := rec.counts()
	if failed != 2 || retried != 2 || executed != 1 {
		t.Errorf("events: executed=%d failed=%d retried=%d, want 1/2/2", executed, failed, retried)
	}
}

func TestEngine_EndToEnd_DeadLetter(t *testing.T) {
	s := memory.New()
	eng, err := engine.New(fastConfig(), s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Register(job.HandlerAsyncContinuation, func(context.Context, job.Tx, *job.Job, job.VariableScope) error {
		return errors.New("always broken")
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer shutdown(t, eng)

	m := eng.Manager()
	j := m.CreateAsyncJob(job.ExecutionContext{ProcessInstanceID: "X"}, false, job.WithRetries(2))
	if err := m.ScheduleAsyncJob(context.Background(), nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}

	waitFor(t, "dead letter", func() bool { return s.Len(job.KindDeadLetter) == 1 })
	if kinds := s.Locate(j.ID); len(kinds) != 1 || kinds[0] != job.KindDeadLetter {
		t.Fatalf("job located in %v, want only deadletter", kinds)
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestEngine_StartShutdownIdempotent(t *testing.T) {
	rec := &recorder{}
	eng, err := engine.New(fastConfig(), memory.New(), engine.WithExtension(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown before Start: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d := eng.Dispatcher()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if eng.Dispatcher() != d {
		t.Fatal("second Start rebuilt the dispatcher")
	}

	shutdown(t, eng)
	shutdown(t, eng)
	if eng.IsActive() || eng.Dispatcher() != nil {
		t.Fatal("engine still active after Shutdown")
	}
	if _, _, _, n := rec.counts(); n != 1 {
		t.Errorf("shutdown events = %d, want 1", n)
	}
}

func TestEngine_RestartBuildsFreshComponents(t *testing.T) {
	s := memory.New()
	eng, err := engine.New(fastConfig(), s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var calls atomic.Int32
	eng.Register(job.HandlerAsyncContinuation, func(context.Context, job.Tx, *job.Job, job.VariableScope) error {
		calls.Add(1)
		return nil
	})
	ctx := context.Background()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := eng.Dispatcher()
	shutdown(t, eng)

	// Scheduled while stopped: stays unlocked until the next run acquires it.
	m := eng.Manager()
	j := m.CreateAsyncJob(job.ExecutionContext{ProcessInstanceID: "X"}, false)
	if j.LockOwner != "" {
		t.Fatal("job pre-locked while the engine is stopped")
	}
	if err := m.ScheduleAsyncJob(ctx, nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer shutdown(t, eng)
	if eng.Dispatcher() == nil || eng.Dispatcher() == first {
		t.Fatal("restart reused the old dispatcher")
	}
	if first.Submit(ctx, j) {
		t.Error("stopped dispatcher accepted a job")
	}

	waitFor(t, "execution after restart", func() bool { return s.Len(job.KindExecutable) == 0 })
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestEngine_ShutdownTimeoutLeavesLock(t *testing.T) {
	cfg := fastConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	s := memory.New()
	eng, err := engine.New(cfg, s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	eng.Register(job.HandlerAsyncContinuation, func(context.Context, job.Tx, *job.Job, job.VariableScope) error {
		close(started)
		<-release
		return nil
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m := eng.Manager()
	j := m.CreateAsyncJob(job.ExecutionContext{ProcessInstanceID: "X"}, false)
	if err := m.ScheduleAsyncJob(context.Background(), nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	<-started

	err = eng.Shutdown(context.Background())
	if !errors.Is(err, asyncexec.ErrShutdownTimeout) {
		t.Fatalf("Shutdown err = %v, want ErrShutdownTimeout", err)
	}
	if eng.IsActive() {
		t.Fatal("engine still active")
	}

	var row *job.Job
	_ = s.Transact(context.Background(), func(ctx context.Context, tx job.Tx) error {
		row, err = tx.GetJob(ctx, job.KindExecutable, j.ID)
		return err
	})
	if row == nil || row.LockOwner != "node-test" || row.LockExpiration == nil {
		t.Fatalf("abandoned row = %+v, want lock intact", row)
	}
	close(release)
}

func TestEngine_MessageQueueModeOnlyMovesTimers(t *testing.T) {
	cfg := fastConfig()
	cfg.MessageQueueMode = true
	s := memory.New()
	eng, err := engine.New(cfg, s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var calls atomic.Int32
	handler := func(context.Context, job.Tx, *job.Job, job.VariableScope) error {
		calls.Add(1)
		return nil
	}
	eng.Register(job.HandlerAsyncContinuation, handler)
	eng.Register(job.HandlerTriggerTimer, handler)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer shutdown(t, eng)
	if eng.Dispatcher() != nil {
		t.Fatal("dispatcher started in message queue mode")
	}

	m := eng.Manager()
	_, err = m.CreateAndScheduleTimer(context.Background(), nil,
		calendar.TimerDefinition{Date: calendar.FormatDate(time.Now().Add(-time.Second))},
		true, job.ExecutionContext{ProcessInstanceID: "X"})
	if err != nil {
		t.Fatalf("CreateAndScheduleTimer: %v", err)
	}

	waitFor(t, "timer move", func() bool { return s.Len(job.KindTimer) == 0 })
	time.Sleep(50 * time.Millisecond)
	if s.Len(job.KindExecutable) != 1 || calls.Load() != 0 {
		t.Fatalf("executable=%d calls=%d, want 1/0", s.Len(job.KindExecutable), calls.Load())
	}
}

// ──────────────────────────────────────────────────
// Limits
// ──────────────────────────────────────────────────

func TestEngine_TenantLimit(t *testing.T) {
	s := memory.New()
	eng, err := engine.New(fastConfig(), s,
		engine.WithTenantConfig(queue.TenantConfig{TenantID: "acme", MaxConcurrency: 1}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if eng.Limiter() == nil {
		t.Fatal("limiter not built from tenant config")
	}

	var running, peak atomic.Int32
	eng.Register(job.HandlerAsyncContinuation, func(context.Context, job.Tx, *job.Job, job.VariableScope) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer shutdown(t, eng)

	m := eng.Manager()
	for i := range 4 {
		j := m.CreateAsyncJob(job.ExecutionContext{ProcessInstanceID: "pi-" + string(rune('a'+i)), TenantID: "acme"}, false)
		if err := m.ScheduleAsyncJob(context.Background(), nil, j); err != nil {
			t.Fatalf("ScheduleAsyncJob: %v", err)
		}
	}

	waitFor(t, "all jobs", func() bool { return s.Len(job.KindExecutable) == 0 })
	if peak.Load() != 1 {
		t.Errorf("peak concurrency for tenant = %d, want 1", peak.Load())
	}
}

// ──────────────────────────────────────────────────
// Jobs scheduled before Start
// ──────────────────────────────────────────────────

func TestEngine_JobsScheduledBeforeStartRunOnFirstPass(t *testing.T) {
	s := memory.New()
	eng, err := engine.New(fastConfig(), s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var calls atomic.Int32
	eng.Register(job.HandlerAsyncContinuation, func(context.Context, job.Tx, *job.Job, job.VariableScope) error {
		calls.Add(1)
		return nil
	})

	m := eng.Manager()
	j := m.CreateAsyncJob(job.ExecutionContext{ProcessInstanceID: "pi-early"}, false)
	if err := m.ScheduleAsyncJob(context.Background(), nil, j); err != nil {
		t.Fatalf("ScheduleAsyncJob: %v", err)
	}
	if j.LockOwner != "" || j.LockExpiration != nil {
		t.Fatalf("job scheduled before Start was pre-locked by %q", j.LockOwner)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer shutdown(t, eng)

	waitFor(t, "early job", func() bool { return calls.Load() == 1 && totalRows(s) == 0 })
}

// ──────────────────────────────────────────────────
// Competing nodes on one store
// ──────────────────────────────────────────────────

func TestEngine_CompetingNodesRunExclusiveJobsOnce(t *testing.T) {
	const (
		nodes = 3
		jobs  = 30
	)
	s := memory.New()

	var (
		mu      sync.Mutex
		seen    = map[string]int{}
		running atomic.Int32
		peak    atomic.Int32
	)
	handler := func(_ context.Context, _ job.Tx, j *job.Job, _ job.VariableScope) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		mu.Lock()
		seen[j.ID.String()]++
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	engines := make([]*engine.Engine, 0, nodes)
	for i := range nodes {
		cfg := fastConfig()
		cfg.LockOwner = "node-" + string(rune('a'+i))
		cfg.MaxAsyncJobsPerAcquisition = 5
		eng, err := engine.New(cfg, s)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		eng.Register(job.HandlerAsyncContinuation, handler)
		engines = append(engines, eng)
	}

	m := engines[0].Manager()
	scheduled := make([]*job.Job, 0, jobs)
	for range jobs {
		j := m.CreateAsyncJob(job.ExecutionContext{ProcessInstanceID: "pi-shared"}, true)
		if err := m.ScheduleAsyncJob(context.Background(), nil, j); err != nil {
			t.Fatalf("ScheduleAsyncJob: %v", err)
		}
		scheduled = append(scheduled, j)
	}

	for _, eng := range engines {
		if err := eng.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer shutdown(t, eng)
	}

	// Every job sits in at most one collection while nodes race on it.
	waitFor(t, "all jobs", func() bool {
		for _, j := range scheduled {
			if kinds := s.Locate(j.ID); len(kinds) > 1 {
				t.Fatalf("job %s present in %v", j.ID, kinds)
			}
		}
		return totalRows(s) == 0
	})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != jobs {
		t.Errorf("distinct jobs executed = %d, want %d", len(seen), jobs)
	}
	for jobID, n := range seen {
		if n != 1 {
			t.Errorf("job %s executed %d times", jobID, n)
		}
	}
	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency on one instance = %d, want 1", p)
	}
}
