package observability

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// StreamClientInterceptor returns a gRPC client stream interceptor that opens
// a client span for the lifetime of the stream, propagates the trace context
// to the server, and counts frames. m may be nil.
func StreamClientInterceptor(m *Metrics) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx, span := otel.Tracer("grpc").Start(ctx, method, trace.WithSpanKind(trace.SpanKindClient))
		ctx = injectTraceContext(ctx)

		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			finishStreamSpan(span, m, method, time.Now(), 0, 0, err)
			return nil, err
		}
		return &wrappedClientStream{ClientStream: cs, span: span, metrics: m, method: method, start: time.Now()}, nil
	}
}

func injectTraceContext(ctx context.Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.MD{}
	} else {
		md = md.Copy()
	}
	otel.GetTextMapPropagator().Inject(ctx, mdCarrier(md))
	return metadata.NewOutgoingContext(ctx, md)
}

// mdCarrier adapts gRPC metadata to a propagation.TextMapCarrier. Keys are
// lowercased as HTTP/2 requires.
type mdCarrier metadata.MD

var _ propagation.TextMapCarrier = mdCarrier(nil)

func (c mdCarrier) Get(key string) string {
	v := metadata.MD(c).Get(key)
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func (c mdCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c mdCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func finishStreamSpan(span trace.Span, m *Metrics, method string, start time.Time, sent, recv int64, err error) {
	code := status.Code(err).String()
	span.SetAttributes(
		attribute.String("rpc.grpc.status_code", code),
		attribute.Int64("rpc.messages_sent", sent),
		attribute.Int64("rpc.messages_received", recv),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if m != nil {
		m.OperationDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		m.OperationTotal.WithLabelValues(method, code).Inc()
	}
}

type wrappedClientStream struct {
	grpc.ClientStream
	span    trace.Span
	metrics *Metrics
	method  string
	start   time.Time
	sent    atomic.Int64
	recv    atomic.Int64
	ended   atomic.Bool
}

func (w *wrappedClientStream) SendMsg(m any) error {
	err := w.ClientStream.SendMsg(m)
	if err == nil {
		w.sent.Add(1)
	}
	return err
}

// RecvMsg ends the span on the first receive error, which is how a client
// stream reports its final status.
func (w *wrappedClientStream) RecvMsg(m any) error {
	err := w.ClientStream.RecvMsg(m)
	if err == nil {
		w.recv.Add(1)
		return nil
	}
	if w.ended.CompareAndSwap(false, true) {
		final := err
		if errors.Is(err, io.EOF) {
			final = nil
		}
		finishStreamSpan(w.span, w.metrics, w.method, w.start, w.sent.Load(), w.recv.Load(), final)
	}
	return err
}
