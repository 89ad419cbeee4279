package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/asyncexec/job"
)

// PanicError is returned by Recover. Stack is recorded on the job row as
// its exception stacktrace.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover returns middleware that recovers from panics in the handler chain.
// A panic becomes a *PanicError, so the job is retried like any other
// failure instead of killing the worker goroutine.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("handler_type", j.HandlerType),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = &PanicError{Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
