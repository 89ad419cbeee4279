package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/asyncexec/job"
)

// Logging returns middleware that logs handler start and outcome. Handler
// failures are logged at Warn; the dispatcher decides whether they end in
// a retry or the dead-letter collection.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Debug("job started",
			slog.String("handler_type", j.HandlerType),
			slog.String("job_id", j.ID.String()),
			slog.String("process_instance_id", j.ProcessInstanceID),
			slog.Int("retries", j.Retries),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("job handler failed",
				slog.String("handler_type", j.HandlerType),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("job handler completed",
				slog.String("handler_type", j.HandlerType),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
