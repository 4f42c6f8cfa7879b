// Package tracing exports measurement spans over OTLP and carries the W3C
// trace context to the measurement server.
//
// Every exported span belongs to a resource describing the run (service name
// and version, measurement server). Root action spans go through a sampler
// that can restrict tracing to some action types; tier spans follow their
// action span's decision.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
)

const (
	instrumentationName = "github.com/abduliffort/web-tester-iffort-sub000"
	defaultServiceName  = "webtester"
)

// Span and resource attribute keys.
const (
	ActionKey = attribute.Key("webtester.action")
	TargetKey = attribute.Key("webtester.target")
	TierKey   = attribute.Key("webtester.latency.tier")
	ServerKey = attribute.Key("webtester.server")
)

// Run identifies the measurement run on exported spans.
type Run struct {
	Server  string // measurement server URL
	Version string // webtester build version
}

// Provider owns the tracer used for action and tier spans.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	propagate bool
}

// Init builds the provider for cfg. Without an endpoint the provider hands
// out a no-op tracer and never propagates.
func Init(ctx context.Context, cfg config.TracingConfig, run Run) (*Provider, error) {
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", cfg.SampleRate)
	}
	if !cfg.Enabled() {
		return &Provider{}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}
	res, err := newResource(ctx, cfg.ServiceName, run)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:        tp,
		tracer:    tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(run.Version)),
		propagate: cfg.ShouldPropagate(),
	}, nil
}

// Tracer returns the run's tracer, or a no-op tracer when tracing is off.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

// ShouldPropagate reports whether measurement requests and WebSocket
// handshakes carry W3C trace headers.
func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.propagate
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// newResource describes the run. OTEL_SERVICE_NAME and
// OTEL_RESOURCE_ATTRIBUTES apply unless the config names the service.
func newResource(ctx context.Context, serviceName string, run Run) (*resource.Resource, error) {
	var attrs []attribute.KeyValue
	switch {
	case serviceName != "":
		attrs = append(attrs, semconv.ServiceName(serviceName))
	case os.Getenv("OTEL_SERVICE_NAME") == "":
		attrs = append(attrs, semconv.ServiceName(defaultServiceName))
	}
	if run.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(run.Version))
	}
	if run.Server != "" {
		attrs = append(attrs, ServerKey.String(run.Server))
	}
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(attrs...),
	)
}

// newSampler samples root spans by ratio, dropping actions outside
// cfg.Actions when that list is set. Child spans follow their parent.
func newSampler(cfg config.TracingConfig) sdktrace.Sampler {
	var ratio sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1:
		ratio = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		ratio = sdktrace.NeverSample()
	default:
		ratio = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}
	if len(cfg.Actions) == 0 {
		return sdktrace.ParentBased(ratio)
	}
	traced := make(map[string]bool, len(cfg.Actions))
	for _, a := range cfg.Actions {
		traced[string(a)] = true
	}
	return sdktrace.ParentBased(actionSampler{traced: traced, ratio: ratio})
}

type actionSampler struct {
	traced map[string]bool
	ratio  sdktrace.Sampler
}

func (s actionSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, kv := range p.Attributes {
		if kv.Key == ActionKey && !s.traced[kv.Value.AsString()] {
			return sdktrace.SamplingResult{
				Decision:   sdktrace.Drop,
				Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
			}
		}
	}
	return s.ratio.ShouldSample(p)
}

func (s actionSampler) Description() string {
	actions := make([]string, 0, len(s.traced))
	for a := range s.traced {
		actions = append(actions, a)
	}
	return fmt.Sprintf("ActionSampler{actions=%s,%s}", strings.Join(actions, "|"), s.ratio.Description())
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch protocol := strings.ToLower(cfg.Protocol); protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", protocol)
	}
}
