// Package worker runs acquired jobs. A Dispatcher owns a bounded queue
// and a pool of worker goroutines; an Executor runs one job, holding the
// process-instance lock for exclusive jobs, and applies the failure
// policy when the job's transaction fails.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/manager"
)

// Executor runs a single executable job end to end.
type Executor struct {
	manager  *manager.Manager
	failures FailedJobCommandFactory
	logger   *slog.Logger
}

// NewExecutor creates an Executor. A nil factory uses the default retry
// policy.
func NewExecutor(m *manager.Manager, failures FailedJobCommandFactory, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if failures == nil {
		failures = NewRetryCommandFactory(m, nil, logger)
	}
	return &Executor{manager: m, failures: failures, logger: logger}
}

// Execute runs j in its own transaction. Exclusive jobs first take the
// lock of their process instance; if another worker holds it, the job is
// unacquired and Execute returns nil. An optimistic-lock conflict is
// logged and dropped. Any other failure is handed to the failure policy
// and its error returned.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	store := e.manager.Store()
	cfg := e.manager.Config()

	var lockUntil time.Time
	if j.Exclusive && j.ProcessInstanceID != "" {
		now := e.manager.Now()
		lockUntil = now.Add(cfg.AsyncLockDuration).UTC()
		err := store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
			return tx.LockInstance(ctx, j.ProcessInstanceID, cfg.LockOwner, lockUntil, now)
		})
		if err != nil {
			if errors.Is(err, asyncexec.ErrOptimisticLock) {
				e.logger.Debug("process instance busy, unacquiring exclusive job",
					slog.String("job_id", j.ID.String()),
					slog.String("process_instance_id", j.ProcessInstanceID),
				)
			} else {
				e.logger.Error("failed to lock process instance",
					slog.String("job_id", j.ID.String()),
					slog.String("process_instance_id", j.ProcessInstanceID),
					slog.String("error", err.Error()),
				)
			}
			e.unacquire(ctx, j)
			return nil
		}
	}

	start := time.Now()
	err := store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		return e.manager.Execute(ctx, tx, j)
	})
	elapsed := time.Since(start)

	if j.Exclusive && j.ProcessInstanceID != "" {
		e.unlockInstance(ctx, j.ProcessInstanceID, lockUntil)
	}

	if err == nil {
		e.manager.Extensions().EmitJobExecuted(ctx, j, elapsed)
		return nil
	}
	if errors.Is(err, asyncexec.ErrOptimisticLock) {
		// Another node already handled or reassigned the row.
		e.logger.Debug("job changed concurrently, skipping",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	e.logger.Debug("job execution failed",
		slog.String("job_id", j.ID.String()),
		slog.String("handler_type", j.HandlerType),
		slog.String("error", err.Error()),
	)
	e.handleFailure(ctx, j, err)
	return err
}

// handleFailure runs the failure command in a new transaction.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, jobErr error) {
	ctx = context.WithoutCancel(ctx)
	cmd := e.failures.Command(j, jobErr)
	if err := e.manager.Store().Transact(ctx, cmd); err != nil {
		e.logger.Error("failed to record job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	e.manager.Extensions().EmitJobExecutionFailed(ctx, j, jobErr)
}

func (e *Executor) unacquire(ctx context.Context, j *job.Job) {
	ctx = context.WithoutCancel(ctx)
	if err := e.manager.Unacquire(ctx, nil, j); err != nil {
		e.logger.Warn("failed to unacquire job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) unlockInstance(ctx context.Context, processInstanceID string, until time.Time) {
	ctx = context.WithoutCancel(ctx)
	owner := e.manager.Config().LockOwner
	err := e.manager.Store().Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		return tx.UnlockInstance(ctx, processInstanceID, owner, until)
	})
	if err != nil {
		e.logger.Warn("failed to release process instance lock",
			slog.String("process_instance_id", processInstanceID),
			slog.String("error", err.Error()),
		)
	}
}
