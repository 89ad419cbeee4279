package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/asyncexec/job"
)

// meterName is the instrumentation scope name for executor metrics.
const meterName = "github.com/xraph/asyncexec"

// Metrics returns middleware that records per-handler metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - asyncexec.job.duration (Float64Histogram): handler time in seconds
//   - asyncexec.job.executions (Int64Counter): handler invocations
//
// Both carry the attributes handler_type, job_type and status ("ok" or
// "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"asyncexec.job.duration",
		metric.WithDescription("Duration of job handler execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"asyncexec.job.executions",
		metric.WithDescription("Total number of job handler executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("handler_type", j.HandlerType),
			attribute.String("job_type", string(j.Type)),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
