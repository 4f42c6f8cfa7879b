// Package latency measures round-trip time, jitter and packet loss.
//
// A probe session sends fixed-size packets carrying a sequence number and a
// send timestamp and matches replies by sequence number. The Prober tries
// three transports in order: UDP datagrams negotiated over a WebSocket
// signaling channel, a WebSocket stream, and plain HEAD requests. A tier
// that fails to set up, or that completes without a single reply, hands
// over to the next one.
package latency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/httpclient"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/live"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/tracing"
)

// Result is the outcome of a probe run.
type Result struct {
	Tier        string    `json:"tier" yaml:"tier"`
	AverageMs   float64   `json:"average_ms" yaml:"average_ms"`
	MinMs       float64   `json:"min_ms" yaml:"min_ms"`
	MaxMs       float64   `json:"max_ms" yaml:"max_ms"`
	JitterMs    float64   `json:"jitter_ms" yaml:"jitter_ms"`
	PacketLoss  float64   `json:"packet_loss" yaml:"packet_loss"`
	P50Ms       float64   `json:"p50_ms" yaml:"p50_ms"`
	P90Ms       float64   `json:"p90_ms" yaml:"p90_ms"`
	P99Ms       float64   `json:"p99_ms" yaml:"p99_ms"`
	Sent        int       `json:"sent" yaml:"sent"`
	Received    int       `json:"received" yaml:"received"`
	Lost        int       `json:"lost" yaml:"lost"`
	SamplesMs   []float64 `json:"samples_ms" yaml:"samples_ms"`
	FailedTiers []string  `json:"failed_tiers,omitempty" yaml:"failed_tiers,omitempty"`
	Cancelled   bool      `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// Options configures a Prober.
type Options struct {
	Measurement config.MeasurementConfig
	// Transports are tried in order.
	Transports []Transport
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// Prober runs the tiered latency measurement. A Prober is single use.
type Prober struct {
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	current *live.Value[Snapshot]
}

// New returns a prober for opts.
func New(opts Options) *Prober {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Prober{
		opts:    opts,
		logger:  logging.OrDiscard(opts.Logger).With("action", string(config.ActionLatency)),
		tracer:  tracer,
		current: live.NewValue(Snapshot{}),
	}
}

// Current publishes the moving latency, jitter and loss of the active tier.
func (p *Prober) Current() *live.Value[Snapshot] {
	return p.current
}

// Run probes each tier in turn. It returns an *ExhaustedError when no tier
// produced a result. Cancellation or an expired ctx deadline returns the partial result of the active
// tier with Cancelled set and a nil error. progress may be nil; it restarts
// from 0 on every tier.
func (p *Prober) Run(ctx context.Context, progress func(percent float64)) (Result, error) {
	if len(p.opts.Transports) == 0 {
		return Result{}, errors.New("latency: no transports configured")
	}
	if p.opts.Measurement.Datagrams < 1 {
		return Result{}, fmt.Errorf("latency: datagrams must be at least 1, got %d", p.opts.Measurement.Datagrams)
	}

	var failed []*TierError
	for i, transport := range p.opts.Transports {
		final := i == len(p.opts.Transports)-1
		if progress != nil {
			progress(0)
		}
		p.current.Set(Snapshot{})
		p.logger.Info("latency tier started", "tier", transport.Name())

		tierCtx, span := tracing.StartTierSpan(ctx, p.tracer, transport.Name())
		res, err := newSession(transport, p.opts.Measurement, p.logger, p.current, progress).run(tierCtx)

		if ctx.Err() != nil {
			tracing.EndSpan(span, nil, attribute.Bool("webtester.cancelled", true))
			res.Tier = transport.Name()
			res.FailedTiers = tierMessages(failed)
			res.Cancelled = true
			return res, nil
		}
		if err == nil && res.Received == 0 && !final {
			err = ErrNoReplies
		}
		if err != nil {
			tracing.EndSpan(span, err)
			tierErr := &TierError{Tier: transport.Name(), Err: err}
			failed = append(failed, tierErr)
			p.logger.Warn("latency tier failed", "tier", transport.Name(), "error", err)
			continue
		}

		tracing.EndSpan(span, nil,
			attribute.Int("webtester.latency.sent", res.Sent),
			attribute.Int("webtester.latency.received", res.Received),
		)
		res.Tier = transport.Name()
		res.FailedTiers = tierMessages(failed)
		if progress != nil {
			progress(100)
		}
		p.logger.Info("latency finished",
			"tier", res.Tier,
			"average_ms", res.AverageMs,
			"jitter_ms", res.JitterMs,
			"packet_loss", res.PacketLoss)
		return res, nil
	}

	return Result{FailedTiers: tierMessages(failed)}, &ExhaustedError{Tiers: failed}
}

func tierMessages(errs []*TierError) []string {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return msgs
}

// NewTransports returns the standard tier chain for server: datagram,
// stream, request.
func NewTransports(server config.Server, m config.MeasurementConfig, client *http.Client, builder *httpclient.RequestBuilder, handshake Handshake, logger *slog.Logger) ([]Transport, error) {
	signalURL, err := server.WebSocketURL("signal")
	if err != nil {
		return nil, err
	}
	streamURL, err := server.WebSocketURL("latency")
	if err != nil {
		return nil, err
	}
	pingPath := m.Resource
	if pingPath == "" {
		pingPath = "ping"
	}
	return []Transport{
		NewDatagramTransport(signalURL, server.Host(), handshake, logger),
		NewStreamTransport(streamURL, handshake, logger),
		NewRequestTransport(client, builder, server.Resolve(pingPath), m.DelayTimeout, logger),
	}, nil
}
