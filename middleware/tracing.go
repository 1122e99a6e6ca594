package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/queuejob/job"
)

// tracerName is the instrumentation scope name for queuejob tracing.
const tracerName = "github.com/xraph/queuejob"

// Tracing returns middleware that wraps job execution in an OpenTelemetry
// span. Without a configured TracerProvider the span is a noop.
//
// Span attributes: queue_job.uuid, queue_job.method, queue_job.channel,
// queue_job.retry, queue_job.graph_uuid. A failed outcome sets the span
// status to codes.Error; a retry only records the error.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		ctx, span := tracer.Start(ctx, "queue_job.perform",
			trace.WithAttributes(
				attribute.String("queue_job.uuid", j.UUID),
				attribute.String("queue_job.method", j.MethodName()),
				attribute.String("queue_job.channel", j.Channel),
				attribute.Int("queue_job.retry", j.Retry),
				attribute.String("queue_job.graph_uuid", j.GraphUUID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		switch Outcome(err) {
		case "failed":
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case "retry":
			span.RecordError(err)
			span.SetStatus(codes.Ok, "")
		default:
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
