package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/backoff"
	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/manager"
	"github.com/xraph/asyncexec/middleware"
)

// Command is a unit of work run in its own transaction.
type Command func(ctx context.Context, tx job.Tx) error

// FailedJobCommandFactory builds the command that records a failed
// execution. The command runs in a fresh transaction after the execution
// transaction was rolled back.
type FailedJobCommandFactory interface {
	Command(j *job.Job, jobErr error) Command
}

// RetryCommandFactory is the default failure policy. It charges one retry
// and moves the job to the timer collection, due after the backoff delay,
// or to the dead-letter collection once no retries remain.
type RetryCommandFactory struct {
	manager  *manager.Manager
	strategy backoff.Strategy
	logger   *slog.Logger
}

// NewRetryCommandFactory creates the default failure policy. A nil
// strategy waits the configured retry wait between attempts.
func NewRetryCommandFactory(m *manager.Manager, strategy backoff.Strategy, logger *slog.Logger) *RetryCommandFactory {
	if strategy == nil {
		strategy = backoff.DefaultStrategy(m.Config().RetryWait)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryCommandFactory{manager: m, strategy: strategy, logger: logger}
}

// Command implements FailedJobCommandFactory.
func (f *RetryCommandFactory) Command(j *job.Job, jobErr error) Command {
	return func(ctx context.Context, tx job.Tx) error {
		cur, err := tx.GetJob(ctx, job.KindExecutable, j.ID)
		if errors.Is(err, asyncexec.ErrJobNotFound) {
			f.logger.Debug("failed job already gone",
				slog.String("job_id", j.ID.String()),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reload failed job %s: %w", j.ID, err)
		}

		if cur.Retries > 0 {
			cur.Retries--
		}
		cur.SetException(jobErr.Error(), stacktrace(jobErr))

		if cur.Retries == 0 {
			_, err := f.manager.MoveJobToDeadLetterJob(ctx, tx, cur)
			return err
		}

		attempt := backoff.Attempt(f.manager.Config().DefaultRetries, cur.Retries)
		dueAt := f.manager.Now().Add(f.strategy.Delay(attempt))
		cur.DueDate = job.TimePtr(dueAt)
		timer, err := f.manager.MoveJobToTimerJob(ctx, tx, cur)
		if err != nil {
			return err
		}
		tx.AfterCommit(func(ctx context.Context) {
			f.manager.Extensions().EmitJobRetryScheduled(ctx, timer, dueAt)
		})
		return nil
	}
}

// stacktrace returns the captured stack of a recovered panic, or the
// verbose form of err.
func stacktrace(err error) string {
	var pe *middleware.PanicError
	if errors.As(err, &pe) {
		return pe.Stack
	}
	return fmt.Sprintf("%+v", err)
}
