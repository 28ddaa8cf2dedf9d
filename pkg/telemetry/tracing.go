package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/uiwire/pkg/protocol"
)

// Default tracer name.
const defaultTracerName = "uiwire"

// TracingConfig configures span creation.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "uiwire").
	TracerName string

	// TraceHeartbeats also creates dispatch spans for heartbeat frames.
	// Disabled by default.
	TraceHeartbeats bool

	// AttributeExtractor extracts custom attributes from a frame.
	// Called for each traced frame.
	AttributeExtractor func(f *protocol.Frame) []attribute.KeyValue

	// Provider overrides the global tracer provider.
	Provider trace.TracerProvider
}

// TracingOption configures span creation.
type TracingOption func(*TracingConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) {
		c.TracerName = name
	}
}

// WithTraceHeartbeats enables spans for heartbeat frames.
func WithTraceHeartbeats(enabled bool) TracingOption {
	return func(c *TracingConfig) {
		c.TraceHeartbeats = enabled
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(f *protocol.Frame) []attribute.KeyValue) TracingOption {
	return func(c *TracingConfig) {
		c.AttributeExtractor = extractor
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *TracingConfig) {
		c.Provider = tp
	}
}

// Tracer creates the spans of a connection. A nil *Tracer is valid and
// returns the context unchanged with a non-recording span.
type Tracer struct {
	config TracingConfig
	tracer trace.Tracer
}

// NewTracer resolves a tracer. The global OpenTelemetry tracer provider is
// used unless WithTracerProvider is given. Configure it in main() before
// starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func NewTracer(opts ...TracingOption) *Tracer {
	config := TracingConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	var tracer trace.Tracer
	if config.Provider != nil {
		tracer = config.Provider.Tracer(config.TracerName)
	} else {
		tracer = otel.Tracer(config.TracerName)
	}
	return &Tracer{config: config, tracer: tracer}
}

// StartConnection opens the span covering one connection's lifetime.
func (t *Tracer) StartConnection(ctx context.Context, connID, remote string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "uiwire.connection",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("uiwire.conn_id", connID),
			attribute.String("uiwire.remote_addr", remote),
			attribute.Int("uiwire.protocol_version", protocol.ProtocolVersion),
		),
	)
}

// StartDispatch opens a span around the handling of one inbound frame. The
// returned span is nil when the frame is not traced.
func (t *Tracer) StartDispatch(ctx context.Context, f *protocol.Frame) (context.Context, trace.Span) {
	if t == nil || (f.IsHeartbeat() && !t.config.TraceHeartbeats) {
		return ctx, nil
	}
	spanName := "uiwire.frame"
	attrs := []attribute.KeyValue{
		attribute.Int("uiwire.frame_size", f.Size),
		attribute.Int("uiwire.unit_count", len(f.Units)),
	}
	if id, ok := f.ObjectID(); ok {
		attrs = append(attrs, attribute.Int("uiwire.object_id", int(id)))
		spanName = fmt.Sprintf("uiwire.frame %d", id)
	}
	if t.config.AttributeExtractor != nil {
		attrs = append(attrs, t.config.AttributeExtractor(f)...)
	}
	return t.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// RecordChunk adds a write event to the connection span in ctx.
func (t *Tracer) RecordChunk(ctx context.Context, n int, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{attribute.Int("uiwire.chunk_bytes", n)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	span.AddEvent("chunk", trace.WithAttributes(attrs...))
}

// EndSpan records err on span and ends it. A nil span is ignored.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
