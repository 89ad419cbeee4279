package acquire

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/asyncexec"
)

// loop drives a cycle function with a cancellable sleep between cycles.
type loop struct {
	name        string
	logger      *slog.Logger
	defaultWait time.Duration
	cycle       func(ctx context.Context) time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	lastWait atomic.Int64
}

func newLoop(name string, logger *slog.Logger, defaultWait time.Duration, cycle func(context.Context) time.Duration) *loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &loop{
		name:        name,
		logger:      logger,
		defaultWait: defaultWait,
		cycle:       cycle,
		stopCh:      make(chan struct{}),
	}
}

// run blocks until Stop or until ctx is done.
func (l *loop) run(ctx context.Context) error {
	l.logger.Info("acquisition loop started",
		slog.String("loop", l.name),
		slog.Duration("default_wait", l.defaultWait),
	)
	defer l.logger.Info("acquisition loop stopped", slog.String("loop", l.name))

	for {
		select {
		case <-l.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		wait := l.safeCycle(ctx)
		l.lastWait.Store(int64(wait))
		if wait <= 0 {
			continue
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-l.stopCh:
			t.Stop()
			return nil
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

// safeCycle keeps a panicking cycle from killing the loop.
func (l *loop) safeCycle(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("acquisition cycle panicked",
				slog.String("loop", l.name),
				slog.Any("panic", r),
			)
			wait = l.defaultWait
		}
	}()
	return l.cycle(ctx)
}

func (l *loop) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// logCycleError logs a failed transaction of a cycle. Conflicts with other
// nodes are expected and stay at debug level.
func (l *loop) logCycleError(msg string, err error) {
	attrs := []any{slog.String("loop", l.name), slog.String("error", err.Error())}
	if errors.Is(err, asyncexec.ErrOptimisticLock) {
		l.logger.Debug(msg+": lost race to another node", attrs...)
		return
	}
	l.logger.Error(msg, attrs...)
}
