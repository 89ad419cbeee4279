package acquire

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/manager"
)

// Submitter accepts acquired executable jobs. A false return means the
// job was rejected and has already been unacquired.
type Submitter interface {
	Submit(ctx context.Context, j *job.Job) bool
}

// AsyncAcquirer locks due executable jobs and submits them to the
// dispatcher.
type AsyncAcquirer struct {
	manager    *manager.Manager
	dispatcher Submitter
	*loop
}

// NewAsyncAcquirer creates the async-due acquisition loop.
func NewAsyncAcquirer(m *manager.Manager, dispatcher Submitter, logger *slog.Logger) *AsyncAcquirer {
	a := &AsyncAcquirer{manager: m, dispatcher: dispatcher}
	a.loop = newLoop("async-acquisition", logger, m.Config().DefaultAsyncWait, a.RunOnce)
	return a
}

// Run executes cycles until Stop is called or ctx ends.
func (a *AsyncAcquirer) Run(ctx context.Context) error { return a.run(ctx) }

// Stop asks the loop to exit. It does not wait.
func (a *AsyncAcquirer) Stop() { a.stop() }

// LastWait returns the wait chosen by the latest cycle.
func (a *AsyncAcquirer) LastWait() time.Duration { return time.Duration(a.lastWait.Load()) }

// RunOnce runs a single cycle and returns how long to wait before the
// next: the queue-full wait if the dispatcher rejected any job, zero
// after a full batch, the default wait otherwise.
func (a *AsyncAcquirer) RunOnce(ctx context.Context) time.Duration {
	cfg := a.manager.Config()
	now := a.manager.Now()

	var acquired []*job.Job
	err := a.manager.Store().Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		acquired = acquired[:0]
		jobs, err := tx.FindJobs(ctx, job.KindExecutable, job.Query{
			DueBefore:    &now,
			UnlockedOnly: true,
			Limit:        cfg.MaxAsyncJobsPerAcquisition,
		})
		if err != nil {
			return err
		}
		for _, j := range jobs {
			j.Lock(cfg.LockOwner, now.Add(cfg.AsyncLockDuration))
			if err := tx.UpdateJob(ctx, j); err != nil {
				return err
			}
			acquired = append(acquired, j)
		}
		return nil
	})
	if err != nil {
		a.logCycleError("async job acquisition failed", err)
		return cfg.DefaultAsyncWait
	}

	rejected := 0
	for _, j := range acquired {
		if !a.dispatcher.Submit(ctx, j) {
			rejected++
		}
	}

	switch {
	case rejected > 0:
		a.logger.Debug("dispatcher queue full",
			slog.Int("acquired", len(acquired)),
			slog.Int("rejected", rejected),
		)
		return cfg.DefaultQueueFullWait
	case len(acquired) >= cfg.MaxAsyncJobsPerAcquisition:
		return 0
	}
	return cfg.DefaultAsyncWait
}
