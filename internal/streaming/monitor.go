// Package streaming measures video streaming quality: time to first frame,
// rebuffering (lag) events and delivered throughput.
package streaming

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/httpclient"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/live"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultLagTolerance = 100 * time.Millisecond

	// maxLagRatio is the share of the run that may be spent rebuffering.
	maxLagRatio = 0.5
)

// Result is the outcome of a streaming run.
type Result struct {
	VideoStartTime time.Duration `json:"video_start_time" yaml:"video_start_time"`
	LagCount       int           `json:"lag_count" yaml:"lag_count"`
	LagDuration    time.Duration `json:"lag_duration" yaml:"lag_duration"`
	TotalDelay     time.Duration `json:"total_delay" yaml:"total_delay"`
	BufferedTime   time.Duration `json:"buffered_time" yaml:"buffered_time"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	TotalBytes     int64         `json:"total_bytes" yaml:"total_bytes"`
	BytesPerSecond float64       `json:"bytes_per_second" yaml:"bytes_per_second"`
	Success        bool          `json:"success" yaml:"success"`
	Error          string        `json:"error,omitempty" yaml:"error,omitempty"`
	Cancelled      bool          `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// LagRatio is the share of the run spent rebuffering.
func (r Result) LagRatio() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.LagDuration) / float64(r.Duration)
}

// Options configures a Monitor.
type Options struct {
	Measurement config.MeasurementConfig
	Player      Player
	Logger      *slog.Logger
	// PollInterval is the lag sampling period. Zero uses 500ms.
	PollInterval time.Duration
	// LagTolerance is the playback shortfall per interval tolerated before a
	// lag event opens. Zero uses 100ms.
	LagTolerance time.Duration
}

// Monitor drives a Player through one streaming run. A Monitor is single use.
type Monitor struct {
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	progress *live.Value[float64]
}

// New returns a monitor for opts.
func New(opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.LagTolerance <= 0 {
		opts.LagTolerance = defaultLagTolerance
	}
	return &Monitor{
		opts:     opts,
		logger:   logging.OrDiscard(opts.Logger).With("action", string(config.ActionStreaming)),
		now:      time.Now,
		progress: live.NewValue(0.0),
	}
}

// CurrentProgress publishes the run progress in percent.
func (m *Monitor) CurrentProgress() *live.Value[float64] {
	return m.progress
}

// Run plays the media until it ends, the configured timeout passes or ctx is
// cancelled. Playback failures are reported in Result.Error; the returned
// error is only set for an unusable configuration. progress may be nil.
func (m *Monitor) Run(ctx context.Context, progress func(percent float64)) (Result, error) {
	if m.opts.Player == nil {
		return Result{}, errors.New("streaming: player is required")
	}
	timeout := m.opts.Measurement.Timeout
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	player := m.opts.Player
	start := m.now()
	report := func(pct float64) {
		m.progress.Set(pct)
		if progress != nil {
			progress(pct)
		}
	}
	report(0)

	if err := player.Load(runCtx); err != nil {
		_ = player.Close()
		return m.finish(start, 0, newLagDetector(m.opts.LagTolerance), 0, err.Error(), false), nil
	}

	detector := newLagDetector(m.opts.LagTolerance)
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	var startTime time.Duration
	var failure string
	started := false

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case ev := <-player.Events():
			switch ev.Kind {
			case EventFirstFrame:
				if started {
					continue
				}
				started = true
				startTime = m.now().Sub(start)
				player.Play()
				st := player.State()
				detector.observe(m.now(), st.Position, st.Playing && !st.Ended)
				m.logger.Debug("first frame", "start_ms", startTime.Milliseconds())
			case EventEnded:
				break loop
			case EventError:
				failure = "playback error"
				if ev.Err != nil {
					failure = ev.Err.Error()
				}
				m.logger.Warn("playback failed", "error", failure)
				break loop
			}
		case <-ticker.C:
			if started {
				st := player.State()
				detector.observe(m.now(), st.Position, st.Playing && !st.Ended)
			}
			if timeout > 0 {
				report(min(float64(m.now().Sub(start))/float64(timeout)*100, 99))
			}
		}
	}

	if started && failure == "" {
		st := player.State()
		detector.observe(m.now(), st.Position, st.Playing && !st.Ended)
	}
	detector.finish()
	bytes := player.BytesTransferred()
	if err := player.Close(); err != nil {
		m.logger.Debug("closing player", "error", err)
	}

	cancelled := errors.Is(ctx.Err(), context.Canceled)
	res := m.finish(start, startTime, detector, bytes, failure, cancelled)
	if !cancelled {
		report(100)
	}
	m.logger.Info("streaming finished",
		"start_ms", res.VideoStartTime.Milliseconds(),
		"lag_count", res.LagCount,
		"lag_ms", res.LagDuration.Milliseconds(),
		"success", res.Success)
	return res, nil
}

func (m *Monitor) finish(start time.Time, startTime time.Duration, d *lagDetector, bytes int64, failure string, cancelled bool) Result {
	res := buildResult(startTime, d.count, d.total, bytes, m.now().Sub(start), failure)
	if cancelled {
		res.Cancelled = true
		res.Success = false
	}
	return res
}

// buildResult derives the streaming KPIs.
func buildResult(startTime time.Duration, lagCount int, lag time.Duration, bytes int64, duration time.Duration, failure string) Result {
	res := Result{
		VideoStartTime: startTime,
		LagCount:       lagCount,
		LagDuration:    lag,
		TotalDelay:     startTime + lag,
		BufferedTime:   lag + startTime,
		Duration:       duration,
		TotalBytes:     bytes,
		Error:          failure,
	}
	if duration > 0 {
		res.BytesPerSecond = float64(bytes) / duration.Seconds()
	}
	res.Success = failure == "" &&
		startTime > 0 &&
		bytes > 0 &&
		res.BytesPerSecond > 0 &&
		res.LagRatio() <= maxLagRatio
	return res
}

// MediaURL returns the streaming resource for an action. Without a resource
// a progressive file of file_size bytes is requested from /stream/video.mp4.
func MediaURL(server config.Server, m config.MeasurementConfig) string {
	if m.Resource != "" {
		return server.Resolve(m.Resource)
	}
	return server.Resolve("stream/video.mp4?size=" + strconv.FormatInt(m.FileSize, 10))
}

// NewMonitor wires an HTTPPlayer for the action into a Monitor.
func NewMonitor(server config.Server, m config.MeasurementConfig, client *http.Client, builder *httpclient.RequestBuilder, logger *slog.Logger) *Monitor {
	player := NewHTTPPlayer(client, builder, MediaURL(server, m), m.BitrateKbps, m.StartupBuffer, logger)
	return New(Options{Measurement: m, Player: player, Logger: logger})
}
