package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the poise tracer.
const tracerName = "github.com/MrWong99/poise"

// AttrRecordingID is the span and log attribute naming the recording a piece
// of work belongs to.
const AttrRecordingID = "poise.recording_id"

type recordingKey struct{}

// WithRecordingID returns a copy of ctx that carries the recording ID. Spans
// started with [StartSpan] and loggers from [Logger] pick it up.
func WithRecordingID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, recordingKey{}, id)
}

// RecordingID returns the recording ID carried by ctx, or "".
func RecordingID(ctx context.Context) string {
	id, _ := ctx.Value(recordingKey{}).(string)
	return id
}

// Tracer returns the package-level [trace.Tracer] for poise. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span tagged with attrs and with the recording ID from
// ctx, if any. The caller must end the span, usually through [EndSpan].
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if id := RecordingID(ctx); id != "" {
		attrs = append(attrs, attribute.String(AttrRecordingID, id))
	}
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan marks span as failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// Ingest responses echo it so a client can find the matching server logs.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the recording ID and the
// trace and span IDs found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := RecordingID(ctx); id != "" {
		l = l.With(slog.String("recording_id", id))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
