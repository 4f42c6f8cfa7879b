package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartActionSpan starts the span covering one measurement action. The
// action attribute is set at start so the sampler can see it.
func StartActionSpan(ctx context.Context, tracer trace.Tracer, action, target string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{ActionKey.String(action)}
	if target != "" {
		attrs = append(attrs, TargetKey.String(target))
	}
	return tracer.Start(ctx, "measure "+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// StartTierSpan starts a child span for one latency transport tier.
func StartTierSpan(ctx context.Context, tracer trace.Tracer, tier string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "latency "+tier,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(TierKey.String(tier)),
	)
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// HandshakeHeaders returns base plus the W3C trace context of ctx, for a
// WebSocket handshake. base is not modified.
func HandshakeHeaders(ctx context.Context, base http.Header) http.Header {
	h := base.Clone()
	if h == nil {
		h = http.Header{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
	return h
}
