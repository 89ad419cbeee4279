package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/asyncexec/job"
)

// tracerName is the instrumentation scope name for executor tracing.
const tracerName = "github.com/xraph/asyncexec"

// Tracing returns middleware that wraps handler execution in an
// OpenTelemetry span using the global TracerProvider.
//
// Span attributes: asyncexec.job.id, asyncexec.job.type,
// asyncexec.handler_type, asyncexec.process_instance_id,
// asyncexec.retries, asyncexec.tenant_id.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "asyncexec.job.execute",
			trace.WithAttributes(
				attribute.String("asyncexec.job.id", j.ID.String()),
				attribute.String("asyncexec.job.type", string(j.Type)),
				attribute.String("asyncexec.handler_type", j.HandlerType),
				attribute.String("asyncexec.process_instance_id", j.ProcessInstanceID),
				attribute.Int("asyncexec.retries", j.Retries),
				attribute.String("asyncexec.tenant_id", j.TenantID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
