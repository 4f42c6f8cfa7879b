package runner

import (
	"context"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/bandwidth"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/latency"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/streaming"
)

// Progress is one progress notification of a running measurement.
type Progress struct {
	Percent float64
	// Value is the live reading of the engine, in Unit. Unit is empty when
	// the engine has no live reading.
	Value float64
	Unit  string
}

// Measurement runs one scenario action. Run may be called again after a
// failed attempt.
type Measurement interface {
	Kind() config.ActionType
	Target() string
	Run(ctx context.Context, progress func(Progress)) (Outcome, error)
}

// Outcome is the result of one action. Exactly one of Bandwidth, Latency and
// Streaming is set when the action produced a result.
type Outcome struct {
	Action    config.ActionType `json:"action" yaml:"action"`
	Target    string            `json:"target,omitempty" yaml:"target,omitempty"`
	Attempts  int               `json:"attempts" yaml:"attempts"`
	StartedAt time.Time         `json:"started_at" yaml:"started_at"`
	Duration  time.Duration     `json:"duration" yaml:"duration"`
	Success   bool              `json:"success" yaml:"success"`
	Cancelled bool              `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Error     string            `json:"error,omitempty" yaml:"error,omitempty"`

	Bandwidth *bandwidth.Result `json:"bandwidth,omitempty" yaml:"bandwidth,omitempty"`
	Latency   *latency.Result   `json:"latency,omitempty" yaml:"latency,omitempty"`
	Streaming *streaming.Result `json:"streaming,omitempty" yaml:"streaming,omitempty"`
}

type bandwidthMeasurement struct {
	kind   config.ActionType
	target string
	build  func() (*bandwidth.Tester, error)
}

// Bandwidth adapts a download or upload tester. build is called once per
// attempt.
func Bandwidth(kind config.ActionType, target string, build func() (*bandwidth.Tester, error)) Measurement {
	return &bandwidthMeasurement{kind: kind, target: target, build: build}
}

func (b *bandwidthMeasurement) Kind() config.ActionType { return b.kind }
func (b *bandwidthMeasurement) Target() string          { return b.target }

func (b *bandwidthMeasurement) Run(ctx context.Context, progress func(Progress)) (Outcome, error) {
	tester, err := b.build()
	if err != nil {
		return Outcome{}, err
	}
	res, err := tester.Run(ctx, func(pct float64) {
		progress(Progress{Percent: pct, Value: tester.CurrentSpeed().Load(), Unit: "Mbps"})
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Bandwidth: &res,
		Cancelled: res.Cancelled,
		Success:   !res.Cancelled && res.MeasurementBytes > 0 && res.SpeedMbps > 0,
	}, nil
}

type latencyMeasurement struct {
	target string
	build  func() (*latency.Prober, error)
}

// Latency adapts a latency prober. build is called once per attempt.
func Latency(target string, build func() (*latency.Prober, error)) Measurement {
	return &latencyMeasurement{target: target, build: build}
}

func (l *latencyMeasurement) Kind() config.ActionType { return config.ActionLatency }
func (l *latencyMeasurement) Target() string          { return l.target }

func (l *latencyMeasurement) Run(ctx context.Context, progress func(Progress)) (Outcome, error) {
	prober, err := l.build()
	if err != nil {
		return Outcome{}, err
	}
	res, err := prober.Run(ctx, func(pct float64) {
		progress(Progress{Percent: pct, Value: prober.Current().Load().LatencyMs, Unit: "ms"})
	})
	if err != nil {
		return Outcome{Latency: &res}, err
	}
	return Outcome{
		Latency:   &res,
		Cancelled: res.Cancelled,
		Success:   !res.Cancelled && res.Received > 0,
	}, nil
}

type streamingMeasurement struct {
	target string
	build  func() (*streaming.Monitor, error)
}

// Streaming adapts a streaming monitor. build is called once per attempt.
func Streaming(target string, build func() (*streaming.Monitor, error)) Measurement {
	return &streamingMeasurement{target: target, build: build}
}

func (s *streamingMeasurement) Kind() config.ActionType { return config.ActionStreaming }
func (s *streamingMeasurement) Target() string          { return s.target }

func (s *streamingMeasurement) Run(ctx context.Context, progress func(Progress)) (Outcome, error) {
	monitor, err := s.build()
	if err != nil {
		return Outcome{}, err
	}
	res, err := monitor.Run(ctx, func(pct float64) {
		progress(Progress{Percent: pct})
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Streaming: &res,
		Cancelled: res.Cancelled,
		Success:   res.Success,
		Error:     res.Error,
	}, nil
}
