package acquire

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/manager"
)

// ExpiredResetter clears expired locks on executable jobs.
type ExpiredResetter struct {
	manager *manager.Manager
	*loop
}

// NewExpiredResetter creates the reset-expired-jobs loop.
func NewExpiredResetter(m *manager.Manager, logger *slog.Logger) *ExpiredResetter {
	r := &ExpiredResetter{manager: m}
	r.loop = newLoop("reset-expired", logger, m.Config().ResetExpiredInterval, r.RunOnce)
	return r
}

// Run executes cycles until Stop is called or ctx ends.
func (r *ExpiredResetter) Run(ctx context.Context) error { return r.run(ctx) }

// Stop asks the loop to exit. It does not wait.
func (r *ExpiredResetter) Stop() { r.stop() }

// LastWait returns the wait chosen by the latest cycle.
func (r *ExpiredResetter) LastWait() time.Duration { return time.Duration(r.lastWait.Load()) }

// RunOnce clears expired locks one page per transaction until a page
// comes back short, then returns the reset interval.
func (r *ExpiredResetter) RunOnce(ctx context.Context) time.Duration {
	cfg := r.manager.Config()
	now := r.manager.Now()
	total := 0

	for ctx.Err() == nil {
		n := 0
		err := r.manager.Store().Transact(ctx, func(ctx context.Context, tx job.Tx) error {
			n = 0
			expired, err := tx.FindJobs(ctx, job.KindExecutable, job.Query{
				LockExpiredBefore: &now,
				Limit:             cfg.ResetExpiredPageSize,
			})
			if err != nil {
				return err
			}
			for _, j := range expired {
				j.Unlock()
				if err := tx.UpdateJob(ctx, j); err != nil {
					return err
				}
			}
			n = len(expired)
			return nil
		})
		if err != nil {
			r.logCycleError("resetting expired jobs failed", err)
			break
		}
		total += n
		if n < cfg.ResetExpiredPageSize {
			break
		}
	}

	if total > 0 {
		r.logger.Info("reset expired job locks", slog.Int("count", total))
	}
	return cfg.ResetExpiredInterval
}
