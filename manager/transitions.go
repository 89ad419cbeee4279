package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
)

// move inserts target and then deletes source inside one transaction. The
// source delete is revision-checked, so a concurrent change to the source
// rolls the insert back.
func (m *Manager) move(ctx context.Context, tx job.Tx, source, target *job.Job) error {
	if err := tx.InsertJob(ctx, target); err != nil {
		return fmt.Errorf("insert %s job %s: %w", target.Kind, target.ID, err)
	}
	if err := tx.DeleteJob(ctx, source); err != nil {
		return fmt.Errorf("delete %s job %s: %w", source.Kind, source.ID, err)
	}
	return nil
}

func requireKind(j *job.Job, kinds ...job.Kind) error {
	if j == nil {
		return asyncexec.ErrNilJob
	}
	for _, k := range kinds {
		if j.Kind == k {
			return nil
		}
	}
	return fmt.Errorf("%w: job %s is %q, want one of %v", asyncexec.ErrInvalidKind, j.ID, j.Kind, kinds)
}

// MoveTimerJobToExecutableJob turns a due timer into an executable job.
// If another node already converted the timer the move is skipped and
// (nil, nil) is returned. The executable job is pre-locked and handed to
// the dispatcher after commit when the dispatcher is active.
func (m *Manager) MoveTimerJobToExecutableJob(ctx context.Context, tx job.Tx, timer *job.Job) (*job.Job, error) {
	if err := requireKind(timer, job.KindTimer); err != nil {
		return nil, err
	}
	var exec *job.Job
	err := job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		candidate := job.ToExecutable(timer)
		m.preLock(candidate, m.Now())

		if err := tx.InsertJob(ctx, candidate); err != nil {
			if errors.Is(err, asyncexec.ErrJobAlreadyExists) {
				m.logger.Debug("timer already moved to executable",
					slog.String("job_id", timer.ID.String()),
				)
				return nil
			}
			return fmt.Errorf("insert executable job %s: %w", candidate.ID, err)
		}
		if err := tx.DeleteJob(ctx, timer); err != nil {
			return fmt.Errorf("delete timer job %s: %w", timer.ID, err)
		}
		m.hintAfterCommit(tx, candidate)
		exec = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// MoveJobToTimerJob moves an executable job into the timer collection. The
// caller sets DueDate (and usually Retries and the exception) on j before
// calling; the timer keeps them.
func (m *Manager) MoveJobToTimerJob(ctx context.Context, tx job.Tx, j *job.Job) (*job.Job, error) {
	if err := requireKind(j, job.KindExecutable); err != nil {
		return nil, err
	}
	timer := job.ToTimer(j)
	if err := job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		return m.move(ctx, tx, j, timer)
	}); err != nil {
		return nil, err
	}
	return timer, nil
}

// MoveJobToSuspendedJob parks an executable or timer job while its
// process instance or definition is suspended.
func (m *Manager) MoveJobToSuspendedJob(ctx context.Context, tx job.Tx, j *job.Job) (*job.Job, error) {
	if err := requireKind(j, job.KindExecutable, job.KindTimer); err != nil {
		return nil, err
	}
	suspended := job.ToSuspended(j)
	if err := job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		if err := m.move(ctx, tx, j, suspended); err != nil {
			return err
		}
		snapshot := suspended.Clone()
		tx.AfterCommit(func(ctx context.Context) {
			m.extensions.EmitJobSuspended(ctx, snapshot)
		})
		return nil
	}); err != nil {
		return nil, err
	}
	return suspended, nil
}

// ActivateSuspendedJob moves a suspended job back: timers return to the
// timer collection (the timer loop moves them on once due), everything
// else becomes executable and is hinted to the dispatcher.
func (m *Manager) ActivateSuspendedJob(ctx context.Context, tx job.Tx, suspended *job.Job) (*job.Job, error) {
	if err := requireKind(suspended, job.KindSuspended); err != nil {
		return nil, err
	}
	var activated *job.Job
	if suspended.Type == job.TypeTimer {
		activated = job.ToTimer(suspended)
	} else {
		activated = job.ToExecutable(suspended)
		m.preLock(activated, m.Now())
	}
	if err := job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		if err := m.move(ctx, tx, suspended, activated); err != nil {
			return err
		}
		if activated.Kind == job.KindExecutable {
			m.hintAfterCommit(tx, activated)
		}
		snapshot := activated.Clone()
		tx.AfterCommit(func(ctx context.Context) {
			m.extensions.EmitJobActivated(ctx, snapshot)
		})
		return nil
	}); err != nil {
		return nil, err
	}
	return activated, nil
}

// MoveJobToDeadLetterJob moves an executable or timer job whose retries
// are exhausted into the dead-letter collection.
func (m *Manager) MoveJobToDeadLetterJob(ctx context.Context, tx job.Tx, j *job.Job) (*job.Job, error) {
	if err := requireKind(j, job.KindExecutable, job.KindTimer); err != nil {
		return nil, err
	}
	dead := job.ToDeadLetter(j)
	if err := job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		if err := m.move(ctx, tx, j, dead); err != nil {
			return err
		}
		snapshot := dead.Clone()
		tx.AfterCommit(func(ctx context.Context) {
			m.extensions.EmitJobDeadLettered(ctx, snapshot)
		})
		return nil
	}); err != nil {
		return nil, err
	}
	return dead, nil
}

// MoveDeadLetterJobToExecutableJob requeues a dead-letter job with a fresh
// retry budget. It returns (nil, nil) if the job already has an executable
// row.
func (m *Manager) MoveDeadLetterJobToExecutableJob(ctx context.Context, tx job.Tx, dead *job.Job, retries int) (*job.Job, error) {
	if err := requireKind(dead, job.KindDeadLetter); err != nil {
		return nil, err
	}
	var exec *job.Job
	err := job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		candidate := job.ToExecutable(dead)
		candidate.Retries = retries
		candidate.DueDate = nil
		m.preLock(candidate, m.Now())

		if err := tx.InsertJob(ctx, candidate); err != nil {
			if errors.Is(err, asyncexec.ErrJobAlreadyExists) {
				return nil
			}
			return fmt.Errorf("insert executable job %s: %w", candidate.ID, err)
		}
		if err := tx.DeleteJob(ctx, dead); err != nil {
			return fmt.Errorf("delete dead-letter job %s: %w", dead.ID, err)
		}
		m.hintAfterCommit(tx, candidate)
		exec = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// Unacquire gives a job back to the acquisition loops. An executable job
// is reinserted under a fresh ID and creation time, so it sorts behind
// rows that have waited longer, and the old row is deleted. Jobs of other
// kinds only have their lock cleared in place.
func (m *Manager) Unacquire(ctx context.Context, tx job.Tx, j *job.Job) error {
	if j == nil {
		return asyncexec.ErrNilJob
	}
	return job.RunInTx(ctx, m.store, tx, func(ctx context.Context, tx job.Tx) error {
		if j.Kind != job.KindExecutable {
			cur, err := tx.GetJob(ctx, j.Kind, j.ID)
			if errors.Is(err, asyncexec.ErrJobNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			cur.Unlock()
			return tx.UpdateJob(ctx, cur)
		}

		fresh := job.ToExecutable(j)
		fresh.ID = id.NewJobID()
		fresh.CreatedAt = m.Now()
		if err := m.move(ctx, tx, j, fresh); err != nil {
			return err
		}
		snapshot := fresh.Clone()
		tx.AfterCommit(func(ctx context.Context) {
			m.extensions.EmitJobUnacquired(ctx, snapshot)
		})
		return nil
	})
}
