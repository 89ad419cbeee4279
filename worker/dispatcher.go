package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/backoff"
	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/manager"
)

// Limiter gates execution per handler type and tenant. The dispatcher
// calls Acquire before running a job and Release after it finishes.
// *queue.Limiter implements it.
type Limiter interface {
	Acquire(handlerType, tenantID string) bool
	Release(handlerType, tenantID string)
}

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

// Dispatcher is a bounded worker pool. CorePoolSize workers are started
// with the dispatcher and live until shutdown. When the queue is full,
// extra workers up to MaxPoolSize are started; they exit after KeepAlive
// without work. When both are exhausted a submission is rejected and the
// job unacquired.
//
// Jobs submitted before Start are buffered and queued when it runs.
type Dispatcher struct {
	cfg      asyncexec.Config
	manager  *manager.Manager
	executor *Executor
	limiter  Limiter
	logger   *slog.Logger

	failures FailedJobCommandFactory
	strategy backoff.Strategy

	mu      sync.Mutex
	state   state
	queue   chan *job.Job
	pending []*job.Job
	workers int

	wg      sync.WaitGroup
	abandon atomic.Bool

	baseCtx    context.Context
	cancelBase context.CancelFunc
	activeJobs map[string]struct{}
	activeMu   sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFailedJobCommandFactory replaces the default retry policy.
func WithFailedJobCommandFactory(f FailedJobCommandFactory) Option {
	return func(d *Dispatcher) { d.failures = f }
}

// WithBackoff sets the retry delay strategy of the default retry policy.
func WithBackoff(s backoff.Strategy) Option {
	return func(d *Dispatcher) { d.strategy = s }
}

// WithLimiter sets a per-handler-type and per-tenant execution limiter.
func WithLimiter(l Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// New creates a Dispatcher that executes jobs through m.
func New(m *manager.Manager, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:        m.Config(),
		manager:    m,
		logger:     logger,
		baseCtx:    ctx,
		cancelBase: cancel,
		activeJobs: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.failures == nil {
		d.failures = NewRetryCommandFactory(m, d.strategy, logger)
	}
	d.executor = NewExecutor(m, d.failures, logger)
	return d
}

// Start launches the core workers and queues buffered submissions.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	if d.state != stateNew {
		d.mu.Unlock()
		return nil
	}
	d.state = stateRunning
	d.queue = make(chan *job.Job, d.cfg.QueueSize)

	d.logger.Info("dispatcher starting",
		slog.String("lock_owner", d.cfg.LockOwner),
		slog.Int("core_pool_size", d.cfg.CorePoolSize),
		slog.Int("max_pool_size", d.cfg.MaxPoolSize),
		slog.Int("queue_size", d.cfg.QueueSize),
	)

	for range d.cfg.CorePoolSize {
		d.spawnLocked(nil)
	}

	var rejected []*job.Job
	for _, j := range d.pending {
		if !d.offerLocked(j) {
			rejected = append(rejected, j)
		}
	}
	d.pending = nil
	d.mu.Unlock()

	for _, j := range rejected {
		d.executor.unacquire(context.Background(), j)
	}
	return nil
}

// IsActive reports whether the dispatcher accepts jobs for execution.
func (d *Dispatcher) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateRunning
}

// Submit hands an acquired job to the pool. It returns false if the job
// was rejected; a rejected job has already been unacquired.
func (d *Dispatcher) Submit(ctx context.Context, j *job.Job) bool {
	d.mu.Lock()
	switch d.state {
	case stateNew:
		d.pending = append(d.pending, j)
		d.mu.Unlock()
		return true
	case stateStopped:
		d.mu.Unlock()
		d.reject(ctx, j)
		return false
	}
	ok := d.offerLocked(j)
	d.mu.Unlock()

	if !ok {
		d.reject(ctx, j)
	}
	return ok
}

func (d *Dispatcher) reject(ctx context.Context, j *job.Job) {
	d.logger.Debug("dispatcher rejected job",
		slog.String("job_id", j.ID.String()),
		slog.String("handler_type", j.HandlerType),
	)
	d.executor.unacquire(ctx, j)
}

// offerLocked queues j, or starts an extra worker for it when the queue
// is full. The caller holds d.mu.
func (d *Dispatcher) offerLocked(j *job.Job) bool {
	select {
	case d.queue <- j:
		return true
	default:
	}
	if d.workers < d.cfg.MaxPoolSize {
		d.spawnLocked(j)
		return true
	}
	return false
}

func (d *Dispatcher) spawnLocked(first *job.Job) {
	d.workers++
	extra := d.workers > d.cfg.CorePoolSize
	d.wg.Add(1)
	go d.work(first, extra)
}

// work is run by each worker goroutine. Extra workers exit once they have
// been idle for KeepAlive.
func (d *Dispatcher) work(first *job.Job, extra bool) {
	defer d.wg.Done()

	if first != nil {
		d.run(first)
	}

	var idle <-chan time.Time
	var timer *time.Timer
	if extra {
		timer = time.NewTimer(d.cfg.KeepAlive)
		defer timer.Stop()
		idle = timer.C
	}
	for {
		select {
		case j, ok := <-d.queue:
			if !ok {
				return
			}
			d.run(j)
			if timer != nil {
				timer.Reset(d.cfg.KeepAlive)
			}
		case <-idle:
			d.mu.Lock()
			d.workers--
			d.mu.Unlock()
			return
		}
	}
}

func (d *Dispatcher) run(j *job.Job) {
	// Past the shutdown timeout queued jobs are left locked; the reset
	// loop returns them once the lock expires.
	if d.abandon.Load() {
		return
	}

	if d.limiter != nil {
		if !d.limiter.Acquire(j.HandlerType, j.TenantID) {
			d.logger.Debug("job rate limited, unacquiring",
				slog.String("job_id", j.ID.String()),
				slog.String("tenant_id", j.TenantID),
			)
			d.executor.unacquire(d.baseCtx, j)
			return
		}
		defer d.limiter.Release(j.HandlerType, j.TenantID)
	}

	key := j.ID.String()
	d.trackJob(key)
	defer d.untrackJob(key)

	_ = d.executor.Execute(d.baseCtx, j)
}

// Shutdown stops accepting jobs and waits up to ShutdownTimeout, or until
// ctx is done, for queued and running jobs to finish. On timeout running
// jobs are abandoned, not cancelled: they keep their locks, queued jobs
// are skipped, and the reset loop returns both once the locks expire.
// ErrShutdownTimeout is returned in that case.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case stateStopped:
		d.mu.Unlock()
		return nil
	case stateNew:
		d.state = stateStopped
		pending := d.pending
		d.pending = nil
		d.mu.Unlock()
		for _, j := range pending {
			d.executor.unacquire(ctx, j)
		}
		d.cancelBase()
		return nil
	}
	d.state = stateStopped
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info("dispatcher stopping", slog.String("lock_owner", d.cfg.LockOwner))

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timeout := time.NewTimer(d.cfg.ShutdownTimeout)
	defer timeout.Stop()

	select {
	case <-done:
		d.cancelBase()
		d.logger.Info("dispatcher stopped gracefully")
		return nil
	case <-timeout.C:
	case <-ctx.Done():
	}

	d.abandon.Store(true)
	d.logger.Warn("dispatcher shutdown timed out, abandoning running jobs",
		slog.Int("running", d.Stats().Running),
	)
	return asyncexec.ErrShutdownTimeout
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers int
	Queued  int
	Running int
}

// Stats returns the current pool size, queue length and running jobs.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	s := Stats{Workers: d.workers}
	if d.queue != nil {
		s.Queued = len(d.queue)
	}
	d.mu.Unlock()

	d.activeMu.Lock()
	s.Running = len(d.activeJobs)
	d.activeMu.Unlock()
	return s
}

func (d *Dispatcher) trackJob(jobID string) {
	d.activeMu.Lock()
	d.activeJobs[jobID] = struct{}{}
	d.activeMu.Unlock()
}

func (d *Dispatcher) untrackJob(jobID string) {
	d.activeMu.Lock()
	delete(d.activeJobs, jobID)
	d.activeMu.Unlock()
}

var _ manager.AsyncHinter = (*Dispatcher)(nil)
