// Package bandwidth measures download and upload throughput with several
// concurrent transfer threads.
//
// Every thread splits its own timeline into a warmup phase, whose bytes are
// discarded, and a measurement phase. The boundary is a wall-clock threshold
// checked each time a unit of data arrives. The reported speed is the sum of
// the per-thread speeds.
package bandwidth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/live"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/metrics"
)

const (
	defaultRetryDelay       = 200 * time.Millisecond
	defaultProgressInterval = 250 * time.Millisecond
)

// Transferer performs one transfer request. onData is called from the
// calling goroutine for every unit of data moved: a read chunk for downloads,
// a completed request for uploads.
type Transferer interface {
	Transfer(ctx context.Context, onData func(n int)) error
}

// Options configures a Tester.
type Options struct {
	Kind        config.ActionType
	Measurement config.MeasurementConfig
	Transferer  Transferer
	Logger      *slog.Logger
	// RetryDelay is the pause after a failed request. Zero uses 200ms.
	RetryDelay time.Duration
	// ProgressInterval is how often progress is reported. Zero uses 250ms.
	ProgressInterval time.Duration
}

// ThreadResult is the outcome of one transfer thread.
type ThreadResult struct {
	ThreadID            int           `json:"thread_id" yaml:"thread_id"`
	TotalBytes          int64         `json:"total_bytes" yaml:"total_bytes"`
	WarmupBytes         int64         `json:"warmup_bytes" yaml:"warmup_bytes"`
	MeasurementBytes    int64         `json:"measurement_bytes" yaml:"measurement_bytes"`
	Requests            int64         `json:"requests" yaml:"requests"`
	Errors              int64         `json:"errors" yaml:"errors"`
	SpeedMbps           float64       `json:"speed_mbps" yaml:"speed_mbps"`
	WarmupDuration      time.Duration `json:"warmup_duration" yaml:"warmup_duration"`
	MeasurementDuration time.Duration `json:"measurement_duration" yaml:"measurement_duration"`
}

// Result aggregates every thread of a run.
type Result struct {
	Kind                config.ActionType `json:"kind" yaml:"kind"`
	SpeedMbps           float64           `json:"speed_mbps" yaml:"speed_mbps"`
	TotalBytes          int64             `json:"total_bytes" yaml:"total_bytes"`
	WarmupBytes         int64             `json:"warmup_bytes" yaml:"warmup_bytes"`
	MeasurementBytes    int64             `json:"measurement_bytes" yaml:"measurement_bytes"`
	Requests            int64             `json:"requests" yaml:"requests"`
	Errors              int64             `json:"errors" yaml:"errors"`
	WarmupDuration      time.Duration     `json:"warmup_duration" yaml:"warmup_duration"`
	MeasurementDuration time.Duration     `json:"measurement_duration" yaml:"measurement_duration"`
	Elapsed             time.Duration     `json:"elapsed" yaml:"elapsed"`
	Cancelled           bool              `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Threads             []ThreadResult    `json:"threads" yaml:"threads"`
	RequestDurations    metrics.Stats     `json:"request_durations" yaml:"request_durations"`
}

// Tester runs one bandwidth measurement. A Tester is single use.
type Tester struct {
	opts      Options
	logger    *slog.Logger
	collector *metrics.Collector
	now       func() time.Time

	measuredBytes atomic.Int64
	firstMeasured atomic.Int64 // unix nanos of the first measured chunk across threads
	speed         *live.Value[float64]
}

// New returns a tester for opts.
func New(opts Options) *Tester {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	return &Tester{
		opts:      opts,
		logger:    logging.OrDiscard(opts.Logger).With("action", string(opts.Kind)),
		collector: metrics.NewCollector(),
		now:       time.Now,
		speed:     live.NewValue(0.0),
	}
}

// CurrentSpeed publishes the combined measurement-phase speed in Mbps.
func (t *Tester) CurrentSpeed() *live.Value[float64] {
	return t.speed
}

// Run starts the configured number of threads and blocks until every one has
// exhausted its time budget or ctx is cancelled. Cancellation is not an
// error: the partial result is returned with Cancelled set. progress may be
// nil.
func (t *Tester) Run(ctx context.Context, progress func(percent float64)) (Result, error) {
	m := t.opts.Measurement
	if t.opts.Transferer == nil {
		return Result{}, errors.New("bandwidth: transferer is required")
	}
	if m.Threads < 1 {
		return Result{}, fmt.Errorf("bandwidth: threads must be at least 1, got %d", m.Threads)
	}

	budget := m.WarmupMaxTime + m.TransferMaxTime
	if m.Timeout > 0 && m.Timeout < budget {
		budget = m.Timeout
	}
	start := t.now()

	stopProgress := t.reportProgress(ctx, start, m.WarmupMaxTime+m.TransferMaxTime, progress)

	results := make([]ThreadResult, m.Threads)
	var wg sync.WaitGroup
	for i := 0; i < m.Threads; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			threadStart := t.now()
			threadCtx, cancel := context.WithDeadline(ctx, threadStart.Add(budget))
			defer cancel()
			results[id] = t.runThread(threadCtx, id, threadStart)
		}(i)
	}
	wg.Wait()
	stopProgress()

	res := Aggregate(t.opts.Kind, results)
	res.Elapsed = t.now().Sub(start)
	res.Cancelled = errors.Is(ctx.Err(), context.Canceled)
	res.RequestDurations = t.collector.Stats()
	if progress != nil && !res.Cancelled {
		progress(100)
	}
	t.logger.Info("transfer finished",
		"speed_mbps", res.SpeedMbps,
		"measurement_bytes", res.MeasurementBytes,
		"errors", res.Errors,
		"cancelled", res.Cancelled)
	return res, nil
}

func (t *Tester) runThread(ctx context.Context, id int, start time.Time) ThreadResult {
	st := newThreadState(id, start, t.opts.Measurement.WarmupMaxTime)
	t.logger.Debug("thread started", "thread", id)

	onData := func(n int) {
		at := t.now()
		if st.record(int64(n), at) {
			t.publish(int64(n), at)
		}
	}

	for ctx.Err() == nil {
		st.result.Requests++
		reqStart := t.now()
		err := t.opts.Transferer.Transfer(ctx, onData)
		if err == nil {
			t.collector.Record(t.now().Sub(reqStart))
			continue
		}
		if ctx.Err() != nil {
			break
		}
		st.result.Errors++
		t.collector.RecordFailure(err)
		t.logger.Debug("transfer request failed", "thread", id, "error", err)

		timer := time.NewTimer(t.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	res := st.finish(t.now())
	t.logger.Debug("thread stopped", "thread", id, "speed_mbps", res.SpeedMbps, "errors", res.Errors)
	return res
}

// publish updates the combined live speed.
func (t *Tester) publish(n int64, at time.Time) {
	total := t.measuredBytes.Add(n)
	t.firstMeasured.CompareAndSwap(0, at.UnixNano())
	first := time.Unix(0, t.firstMeasured.Load())
	if elapsed := at.Sub(first); elapsed > 0 {
		t.speed.Set(Mbps(total, elapsed))
	}
}

func (t *Tester) reportProgress(ctx context.Context, start time.Time, nominal time.Duration, progress func(float64)) func() {
	if progress == nil || nominal <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(t.opts.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				pct := float64(t.now().Sub(start)) / float64(nominal) * 100
				progress(min(pct, 99))
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// Aggregate combines thread results: speeds and byte counters are summed,
// phase durations averaged.
func Aggregate(kind config.ActionType, threads []ThreadResult) Result {
	res := Result{Kind: kind, Threads: threads}
	if len(threads) == 0 {
		return res
	}
	var warmup, measurement time.Duration
	for _, th := range threads {
		res.SpeedMbps += th.SpeedMbps
		res.TotalBytes += th.TotalBytes
		res.WarmupBytes += th.WarmupBytes
		res.MeasurementBytes += th.MeasurementBytes
		res.Requests += th.Requests
		res.Errors += th.Errors
		warmup += th.WarmupDuration
		measurement += th.MeasurementDuration
	}
	res.WarmupDuration = warmup / time.Duration(len(threads))
	res.MeasurementDuration = measurement / time.Duration(len(threads))
	return res
}

// Mbps converts bytes moved over d to megabits per second.
func Mbps(bytes int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) * 8 / d.Seconds() / 1e6
}
