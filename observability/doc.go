// Package observability provides an OpenTelemetry metrics extension for
// the async executor. The MetricsExtension implements lifecycle hooks to
// record system-wide counters for scheduling, execution, failure, retry,
// dead-letter, unacquire and suspension events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
