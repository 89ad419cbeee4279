package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/calendar"
	"github.com/xraph/asyncexec/ext"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/middleware"
)

// Manager performs job state transitions against a job.Store.
type Manager struct {
	cfg        asyncexec.Config
	store      job.Store
	registry   *job.Registry
	calendar   calendar.Calendar
	extensions *ext.Registry
	logger     *slog.Logger

	now      func() time.Time
	mw       middleware.Middleware
	resolver ExecutionResolver

	mu         sync.RWMutex
	dispatcher AsyncHinter
}

// New creates a Manager. A nil calendar uses calendar.New, a nil
// extension registry emits nothing and a nil logger uses slog.Default.
func New(
	cfg asyncexec.Config,
	store job.Store,
	registry *job.Registry,
	cal calendar.Calendar,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cal == nil {
		cal = calendar.New()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	if registry == nil {
		registry = job.NewRegistry()
	}
	m := &Manager{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		calendar:   cal,
		extensions: extensions,
		logger:     logger,
		now:        time.Now,
		mw:         middleware.Chain(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() asyncexec.Config { return m.cfg }

// Store returns the underlying job store.
func (m *Manager) Store() job.Store { return m.store }

// Registry returns the handler registry.
func (m *Manager) Registry() *job.Registry { return m.registry }

// Extensions returns the lifecycle hook registry.
func (m *Manager) Extensions() *ext.Registry { return m.extensions }

// Calendar returns the calendar used to resolve timers.
func (m *Manager) Calendar() calendar.Calendar { return m.calendar }

// Now returns the current time of the manager's clock in UTC.
func (m *Manager) Now() time.Time { return m.now().UTC() }

// SetDispatcher replaces the dispatcher hinted after commits. The engine
// calls it once the worker pool exists.
func (m *Manager) SetDispatcher(d AsyncHinter) {
	m.mu.Lock()
	m.dispatcher = d
	m.mu.Unlock()
}

func (m *Manager) activeDispatcher() AsyncHinter {
	m.mu.RLock()
	d := m.dispatcher
	m.mu.RUnlock()
	if d == nil || !d.IsActive() {
		return nil
	}
	return d
}

// CreateAsyncJob builds an executable message job for the execution. It
// does not persist it; pass the result to ScheduleAsyncJob. When the
// dispatcher is active and the job is due, it is pre-locked by this node
// so acquisition skips it.
func (m *Manager) CreateAsyncJob(exec job.ExecutionContext, exclusive bool, opts ...job.Option) *job.Job {
	o := job.Options{HandlerType: job.HandlerAsyncContinuation}
	for _, opt := range opts {
		opt(&o)
	}

	now := m.Now()
	j := &job.Job{
		ID:                  id.NewJobID(),
		Kind:                job.KindExecutable,
		Type:                job.TypeMessage,
		HandlerType:         o.HandlerType,
		HandlerConfig:       o.HandlerConfig,
		ExecutionID:         exec.ExecutionID,
		ProcessInstanceID:   exec.ProcessInstanceID,
		ProcessDefinitionID: exec.ProcessDefinitionID,
		ElementID:           exec.ElementID,
		TenantID:            exec.TenantID,
		Retries:             m.retries(o.Retries),
		Exclusive:           exclusive,
		CreatedAt:           now,
	}
	if !o.DueDate.IsZero() {
		j.DueDate = job.TimePtr(o.DueDate)
	}
	m.preLock(j, now)
	return j
}

// ScheduleAsyncJob inserts an executable message job and, after commit,
// hands it to the dispatcher if it was pre-locked.
func (m *Manager) ScheduleAsyncJob(ctx context.Context, tx job.Tx, j *job.Job) error {
	if j == nil {
		return asyncexec.ErrNilJob
	}
	if j.Kind != job.KindExecutable {
		return fmt.Errorf("%w: schedule async job of kind %q", asyncexec.ErrInvalidKind, j.Kind)
	}
	return job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		if err := tx.InsertJob(ctx, j); err != nil {
			return fmt.Errorf("schedule async job: %w", err)
		}
		snapshot := j.Clone()
		tx.AfterCommit(func(ctx context.Context) {
			m.extensions.EmitJobScheduled(ctx, snapshot)
		})
		m.hintAfterCommit(tx, j)
		return nil
	})
}

// CreateTimerJob resolves def against the variables of the execution and
// builds a timer row. Interrupting timers fire once; their repeat is
// dropped. The row is not persisted.
//
// For timer start and boundary handlers an end-date expression is kept in
// the handler configuration and evaluated again every time the timer
// fires.
func (m *Manager) CreateTimerJob(
	ctx context.Context,
	tx job.Tx,
	def calendar.TimerDefinition,
	interrupting bool,
	exec job.ExecutionContext,
	opts ...job.Option,
) (*job.Job, error) {
	o := job.Options{HandlerType: job.HandlerTriggerTimer}
	for _, opt := range opts {
		opt(&o)
	}

	scope, err := m.resolveScope(ctx, tx, exec.ExecutionID)
	if err != nil {
		return nil, err
	}
	resolved, err := m.expandDefinition(def, scope)
	if err != nil {
		return nil, err
	}

	now := m.Now()
	t, err := m.calendar.ResolveTimer(resolved, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", asyncexec.ErrInvalidTimerExpression, err)
	}

	config := o.HandlerConfig
	if def.EndDate != "" && job.RecomputesEndDate(o.HandlerType) {
		config, err = job.WithEndDateExpression(config, def.EndDate)
		if err != nil {
			return nil, err
		}
	}

	timer := &job.Job{
		ID:                  id.NewJobID(),
		Kind:                job.KindTimer,
		Type:                job.TypeTimer,
		HandlerType:         o.HandlerType,
		HandlerConfig:       config,
		ExecutionID:         exec.ExecutionID,
		ProcessInstanceID:   exec.ProcessInstanceID,
		ProcessDefinitionID: exec.ProcessDefinitionID,
		ElementID:           exec.ElementID,
		TenantID:            exec.TenantID,
		DueDate:             job.TimePtr(t.DueDate),
		Retries:             m.retries(o.Retries),
		Exclusive:           true,
		EndDate:             t.EndDate,
		CreatedAt:           now,
	}
	if !interrupting {
		timer.Repeat = t.Repeat
		timer.MaxIterations = t.MaxIterations
	}
	return timer, nil
}

// ScheduleTimerJob inserts a timer row.
func (m *Manager) ScheduleTimerJob(ctx context.Context, tx job.Tx, timer *job.Job) error {
	if timer == nil {
		return asyncexec.ErrNilJob
	}
	if timer.Kind != job.KindTimer {
		return fmt.Errorf("%w: schedule timer job of kind %q", asyncexec.ErrInvalidKind, timer.Kind)
	}
	return job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		if err := tx.InsertJob(ctx, timer); err != nil {
			return fmt.Errorf("schedule timer job: %w", err)
		}
		snapshot := timer.Clone()
		tx.AfterCommit(func(ctx context.Context) {
			m.extensions.EmitTimerScheduled(ctx, snapshot)
		})
		return nil
	})
}

// CreateAndScheduleTimer creates a timer with CreateTimerJob and inserts it
// in the same transaction.
func (m *Manager) CreateAndScheduleTimer(
	ctx context.Context,
	tx job.Tx,
	def calendar.TimerDefinition,
	interrupting bool,
	exec job.ExecutionContext,
	opts ...job.Option,
) (*job.Job, error) {
	var timer *job.Job
	err := job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		var err error
		timer, err = m.CreateTimerJob(ctx, tx, def, interrupting, exec, opts...)
		if err != nil {
			return err
		}
		return m.ScheduleTimerJob(ctx, tx, timer)
	})
	if err != nil {
		return nil, err
	}
	return timer, nil
}

// DeleteJob removes a row from its current collection.
func (m *Manager) DeleteJob(ctx context.Context, tx job.Tx, j *job.Job) error {
	if j == nil {
		return asyncexec.ErrNilJob
	}
	return job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		if err := tx.DeleteJob(ctx, j); err != nil {
			return fmt.Errorf("delete %s job %s: %w", j.Kind, j.ID, err)
		}
		return nil
	})
}

func (m *Manager) retries(override int) int {
	if override > 0 {
		return override
	}
	return m.cfg.DefaultRetries
}

// preLock locks a due executable job for this node when the dispatcher
// will receive it directly after commit.
func (m *Manager) preLock(j *job.Job, now time.Time) bool {
	if m.cfg.MessageQueueMode || !j.Due(now) || m.activeDispatcher() == nil {
		return false
	}
	j.Lock(m.cfg.LockOwner, now.Add(m.cfg.AsyncLockDuration))
	return true
}

// hintAfterCommit hands a pre-locked job to the dispatcher once tx has
// committed. A rejected submission is unacquired by the dispatcher.
func (m *Manager) hintAfterCommit(tx job.Tx, j *job.Job) {
	if j.LockOwner == "" || j.LockOwner != m.cfg.LockOwner {
		return
	}
	snapshot := j.Clone()
	tx.AfterCommit(func(ctx context.Context) {
		d := m.activeDispatcher()
		if d == nil {
			return
		}
		d.Submit(ctx, snapshot)
	})
}

// resolveScope loads the variable scope of an execution. A missing
// resolver, an empty execution ID or a vanished execution all yield
// job.NoScope.
func (m *Manager) resolveScope(ctx context.Context, tx job.Tx, executionID string) (job.VariableScope, error) {
	if m.resolver == nil || executionID == "" {
		return job.NoScope, nil
	}
	scope, found, err := m.resolver.ResolveExecution(ctx, tx, executionID)
	if err != nil {
		return nil, fmt.Errorf("resolve execution %s: %w", executionID, err)
	}
	if !found || scope == nil {
		m.logger.Debug("execution not found, using empty scope",
			slog.String("execution_id", executionID),
		)
		return job.NoScope, nil
	}
	return scope, nil
}

func (m *Manager) expandDefinition(def calendar.TimerDefinition, scope job.VariableScope) (calendar.TimerDefinition, error) {
	fields := []*string{&def.Date, &def.Duration, &def.Cycle, &def.EndDate}
	for _, f := range fields {
		if *f == "" {
			continue
		}
		v, err := calendar.Expand(*f, scope.Variable)
		if err != nil {
			return def, fmt.Errorf("%w: %v", asyncexec.ErrInvalidTimerExpression, err)
		}
		*f = v
	}
	return def, nil
}

// isConflict reports errors that mean another node already did the work.
func isConflict(err error) bool {
	return errors.Is(err, asyncexec.ErrJobAlreadyExists) || errors.Is(err, asyncexec.ErrOptimisticLock)
}
