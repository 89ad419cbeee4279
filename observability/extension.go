package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/asyncexec/ext"
	"github.com/xraph/asyncexec/job"
)

// meterName is the instrumentation scope of the lifecycle counters.
const meterName = "github.com/xraph/asyncexec/observability"

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.JobScheduled       = (*MetricsExtension)(nil)
	_ ext.TimerScheduled     = (*MetricsExtension)(nil)
	_ ext.JobExecuted        = (*MetricsExtension)(nil)
	_ ext.JobExecutionFailed = (*MetricsExtension)(nil)
	_ ext.TimerFired         = (*MetricsExtension)(nil)
	_ ext.JobRetryScheduled  = (*MetricsExtension)(nil)
	_ ext.JobDeadLettered    = (*MetricsExtension)(nil)
	_ ext.JobUnacquired      = (*MetricsExtension)(nil)
	_ ext.JobSuspended       = (*MetricsExtension)(nil)
	_ ext.JobActivated       = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters with
// OpenTelemetry. Register it as an extension to track scheduling rates,
// executions, failures, retries, dead letters and backpressure
// (unacquired jobs). Every data point carries the handler_type attribute.
type MetricsExtension struct {
	JobScheduled       metric.Int64Counter
	TimerScheduled     metric.Int64Counter
	JobExecuted        metric.Int64Counter
	JobExecutionFailed metric.Int64Counter
	TimerFired         metric.Int64Counter
	JobRetried         metric.Int64Counter
	JobDeadLettered    metric.Int64Counter
	JobUnacquired      metric.Int64Counter
	JobSuspended       metric.Int64Counter
	JobActivated       metric.Int64Counter
	ExecutionTime      metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on the given
// meter. On instrument errors the OTel API hands back noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	hist, _ := meter.Float64Histogram("asyncexec.job.execution_time",
		metric.WithDescription("Time from handler start to commit in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobScheduled:       counter("asyncexec.job.scheduled", "Async jobs persisted"),
		TimerScheduled:     counter("asyncexec.timer.scheduled", "Timer jobs persisted"),
		JobExecuted:        counter("asyncexec.job.executed", "Jobs executed successfully"),
		JobExecutionFailed: counter("asyncexec.job.execution_failed", "Failed job runs"),
		TimerFired:         counter("asyncexec.timer.fired", "Timer handlers run"),
		JobRetried:         counter("asyncexec.job.retried", "Failed jobs moved back to the timer collection"),
		JobDeadLettered:    counter("asyncexec.job.dead_lettered", "Jobs that exhausted their retries"),
		JobUnacquired:      counter("asyncexec.job.unacquired", "Jobs handed back without running"),
		JobSuspended:       counter("asyncexec.job.suspended", "Jobs parked by suspension"),
		JobActivated:       counter("asyncexec.job.activated", "Suspended jobs restored"),
		ExecutionTime:      hist,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func handlerAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("handler_type", j.HandlerType))
}

// OnJobScheduled implements ext.JobScheduled.
func (m *MetricsExtension) OnJobScheduled(ctx context.Context, j *job.Job) error {
	m.JobScheduled.Add(ctx, 1, handlerAttr(j))
	return nil
}

// OnTimerScheduled implements ext.TimerScheduled.
func (m *MetricsExtension) OnTimerScheduled(ctx context.Context, j *job.Job) error {
	m.TimerScheduled.Add(ctx, 1, handlerAttr(j))
	return nil
}

// OnJobExecuted implements ext.JobExecuted.
func (m *MetricsExtension) OnJobExecuted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobExecuted.Add(ctx, 1, handlerAttr(j))
	m.ExecutionTime.Record(ctx, elapsed.Seconds(), handlerAttr(j))
	return nil
}

// OnJobExecutionFailed implements ext.JobExecutionFailed.
func (m *MetricsExtension) OnJobExecutionFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobExecutionFailed.Add(ctx, 1, handlerAttr(j))
	return nil
}

// OnTimerFired implements ext.TimerFired.
func (m *MetricsExtension) OnTimerFired(ctx context.Context, j *job.Job) error {
	m.TimerFired.Add(ctx, 1, handlerAttr(j))
	return nil
}

// OnJobRetryScheduled implements ext.JobRetryScheduled.
func (m *MetricsExtension) OnJobRetryScheduled(ctx context.Context, j *job.Job, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, handlerAttr(j))
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, j *job.Job) error {
	m.JobDeadLettered.Add(ctx, 1, handlerAttr(j))
	return nil
}

// OnJobUnacquired implements ext.JobUnacquired.
func (m *MetricsExtension) OnJobUnacquired(ctx context.Context, j *job.Job) error {
	m.JobUnacquired.Add(ctx, 1, handlerAttr(j))
	return nil
}

// OnJobSuspended implements ext.JobSuspended.
func (m *MetricsExtension) OnJobSuspended(ctx context.Context, j *job.Job) error {
	m.JobSuspended.Add(ctx, 1, handlerAttr(j))
	return nil
}

// OnJobActivated implements ext.JobActivated.
func (m *MetricsExtension) OnJobActivated(ctx context.Context, j *job.Job) error {
	m.JobActivated.Add(ctx, 1, handlerAttr(j))
	return nil
}
