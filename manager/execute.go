package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/calendar"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
)

// Execute runs an executable job inside tx. A message job runs its handler
// and is deleted. A fired timer runs the timer-fired path: its end date is
// recomputed, a timer past its end is deleted without running, and a
// repeating timer schedules its next occurrence.
//
// Any error leaves the transaction to be rolled back by the caller; the
// failure policy then runs in a transaction of its own.
func (m *Manager) Execute(ctx context.Context, tx job.Tx, j *job.Job) error {
	if err := requireKind(j, job.KindExecutable); err != nil {
		return err
	}
	return job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		if j.Type == job.TypeTimer {
			return m.executeTimer(ctx, tx, j)
		}
		return m.executeMessage(ctx, tx, j)
	})
}

func (m *Manager) executeMessage(ctx context.Context, tx job.Tx, j *job.Job) error {
	scope, err := m.resolveScope(ctx, tx, j.ExecutionID)
	if err != nil {
		return err
	}
	if err := m.invoke(ctx, tx, j, scope); err != nil {
		return err
	}
	if err := tx.DeleteJob(ctx, j); err != nil {
		return fmt.Errorf("delete executed job %s: %w", j.ID, err)
	}
	return nil
}

func (m *Manager) executeTimer(ctx context.Context, tx job.Tx, j *job.Job) error {
	now := m.Now()
	scope, err := m.resolveScope(ctx, tx, j.ExecutionID)
	if err != nil {
		return err
	}

	if job.RecomputesEndDate(j.HandlerType) {
		if expr := job.EndDateExpression(j.HandlerConfig); expr != "" {
			end, err := m.resolveEndDate(expr, scope, now)
			if err != nil {
				return err
			}
			j.EndDate = &end
		}
	}

	due := now
	if j.DueDate != nil {
		due = *j.DueDate
	}
	if !m.calendar.ValidateDueDate(j.Repeat, j.MaxIterations, j.EndDate, due) {
		m.logger.Info("timer no longer valid, dropping",
			slog.String("job_id", j.ID.String()),
			slog.String("repeat", j.Repeat),
		)
		if err := tx.DeleteJob(ctx, j); err != nil {
			return fmt.Errorf("delete expired timer %s: %w", j.ID, err)
		}
		return nil
	}

	if err := m.invoke(ctx, tx, j, scope); err != nil {
		return err
	}
	if err := tx.DeleteJob(ctx, j); err != nil {
		return fmt.Errorf("delete fired timer %s: %w", j.ID, err)
	}
	fired := j.Clone()
	tx.AfterCommit(func(ctx context.Context) {
		m.extensions.EmitTimerFired(ctx, fired)
	})

	if j.Repeat == "" {
		return nil
	}
	return m.scheduleNextOccurrence(ctx, tx, j, due)
}

func (m *Manager) resolveEndDate(expr string, scope job.VariableScope, now time.Time) (time.Time, error) {
	expanded, err := calendar.Expand(expr, scope.Variable)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: end date: %v", asyncexec.ErrInvalidTimerExpression, err)
	}
	end, err := m.calendar.ResolveEndDate(expanded, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: end date: %v", asyncexec.ErrInvalidTimerExpression, err)
	}
	return end, nil
}

// scheduleNextOccurrence inserts the timer row for the occurrence after
// due. An exhausted chain, or one that cannot be evaluated, ends quietly:
// the occurrence that just fired stays committed.
func (m *Manager) scheduleNextOccurrence(ctx context.Context, tx job.Tx, fired *job.Job, due time.Time) error {
	next, repeat, err := m.calendar.ResolveNextDueDate(fired.Repeat, fired.MaxIterations, fired.EndDate, due)
	if errors.Is(err, calendar.ErrRejected) {
		m.logger.Debug("timer repeat chain finished",
			slog.String("job_id", fired.ID.String()),
			slog.String("repeat", fired.Repeat),
		)
		return nil
	}
	if err != nil {
		m.logger.Error("cannot resolve next timer occurrence",
			slog.String("job_id", fired.ID.String()),
			slog.String("repeat", fired.Repeat),
			slog.String("error", err.Error()),
		)
		return nil
	}

	timer := job.ToTimer(fired)
	timer.ID = id.NewJobID()
	timer.DueDate = job.TimePtr(next)
	timer.Repeat = repeat
	timer.Retries = m.cfg.DefaultRetries
	timer.SetException("", "")
	timer.CreatedAt = m.Now()
	return m.ScheduleTimerJob(ctx, tx, timer)
}

func (m *Manager) invoke(ctx context.Context, tx job.Tx, j *job.Job, scope job.VariableScope) error {
	h, ok := m.registry.Get(j.HandlerType)
	if !ok {
		return fmt.Errorf("%w: %q", asyncexec.ErrNoHandler, j.HandlerType)
	}
	return m.mw(ctx, j, func(ctx context.Context) error {
		return h(ctx, tx, j, scope)
	})
}
