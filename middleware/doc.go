// Package middleware provides composable middleware around job handlers.
//
// A [Middleware] is a function that wraps a job handler. Middleware are
// composed into a chain using [Chain] and applied each time the job
// manager invokes a handler.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// recover → logging → handler
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs handler type, duration and outcome
//   - [Recover]: turns panics into a [*PanicError]
//   - [Timeout]: puts a deadline on the handler context
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-handler duration and outcome counters
//   - [Tenant]: attaches the job's tenant to the context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g. a circuit breaker).
package middleware
