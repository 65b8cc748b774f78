package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for courier spans.
const tracerName = "github.com/gezibash/courier"

// StartSpan creates a new internal span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan ends a span, recording any error.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Operation tracks a long-running unit of work (a request from enqueue to its
// terminal outcome) with a span, metrics, and logging.
type Operation struct {
	ctx     context.Context
	span    trace.Span
	metrics *Metrics
	name    string
	start   time.Time
	logger  *slog.Logger
}

// StartOperation begins tracking an operation. m may be nil.
func StartOperation(ctx context.Context, m *Metrics, name string, attrs ...attribute.KeyValue) (*Operation, context.Context) {
	ctx, span := StartSpan(ctx, name, attrs...)
	logger := slog.Default().With("operation", name)
	logger.DebugContext(ctx, "operation started")

	return &Operation{
		ctx:     ctx,
		span:    span,
		metrics: m,
		name:    name,
		start:   time.Now(),
		logger:  logger,
	}, ctx
}

// Event records a named point in the operation's lifetime (queued, sent, requeued).
func (o *Operation) Event(name string, attrs ...attribute.KeyValue) {
	o.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End finishes the operation, recording duration and status.
func (o *Operation) End(err error) {
	duration := time.Since(o.start).Seconds()
	status := "ok"
	if err != nil {
		status = "error"
		o.logger.DebugContext(o.ctx, "operation failed", "error", err, "duration", duration)
	} else {
		o.logger.DebugContext(o.ctx, "operation completed", "duration", duration)
	}

	EndSpan(o.span, err)
	if o.metrics != nil {
		o.metrics.OperationDuration.WithLabelValues(o.name, status).Observe(duration)
		o.metrics.OperationTotal.WithLabelValues(o.name, status).Inc()
	}
}
