package acquire

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/manager"
)

// TimerAcquirer moves due timers to the executable collection.
type TimerAcquirer struct {
	manager *manager.Manager
	*loop
}

// NewTimerAcquirer creates the timer acquisition loop.
func NewTimerAcquirer(m *manager.Manager, logger *slog.Logger) *TimerAcquirer {
	a := &TimerAcquirer{manager: m}
	a.loop = newLoop("timer-acquisition", logger, m.Config().DefaultTimerWait, a.RunOnce)
	return a
}

// Run executes cycles until Stop is called or ctx ends.
func (a *TimerAcquirer) Run(ctx context.Context) error { return a.run(ctx) }

// Stop asks the loop to exit. It does not wait.
func (a *TimerAcquirer) Stop() { a.stop() }

// LastWait returns the wait chosen by the latest cycle.
func (a *TimerAcquirer) LastWait() time.Duration { return time.Duration(a.lastWait.Load()) }

// RunOnce runs a single cycle and returns how long to wait before the
// next. Due timers are locked in one transaction and moved to the
// executable collection in a second.
func (a *TimerAcquirer) RunOnce(ctx context.Context) time.Duration {
	cfg := a.manager.Config()
	store := a.manager.Store()
	now := a.manager.Now()

	var acquired []*job.Job
	err := store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		acquired = acquired[:0]
		timers, err := tx.FindJobs(ctx, job.KindTimer, job.Query{
			DueBefore:   &now,
			AvailableAt: &now,
			Limit:       cfg.MaxTimerJobsPerAcquisition,
		})
		if err != nil {
			return err
		}
		for _, t := range timers {
			t.Lock(cfg.LockOwner, now.Add(cfg.TimerLockDuration))
			if err := tx.UpdateJob(ctx, t); err != nil {
				return err
			}
			acquired = append(acquired, t)
		}
		return nil
	})
	if err != nil {
		a.logCycleError("timer acquisition failed", err)
		return cfg.DefaultTimerWait
	}

	if len(acquired) > 0 {
		err = store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
			for _, t := range acquired {
				if _, err := a.manager.MoveTimerJobToExecutableJob(ctx, tx, t); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			a.logCycleError("moving timers to executable failed", err)
			return cfg.DefaultTimerWait
		}
		a.logger.Debug("timers moved to executable", slog.Int("count", len(acquired)))
	}

	if len(acquired) >= cfg.MaxTimerJobsPerAcquisition {
		return 0
	}
	return cfg.DefaultTimerWait
}
