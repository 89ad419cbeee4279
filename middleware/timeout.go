package middleware

import (
	"context"
	"time"

	"github.com/xraph/asyncexec/job"
)

// Timeout returns middleware that bounds each handler call with d. Handlers
// observe the deadline through ctx; a handler that ignores it keeps running.
// A zero d disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
