package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector records durations (round-trip times, request durations) and
// failures in a thread-safe manner.
type Collector struct {
	mu           sync.Mutex
	hist         *hdrhistogram.Histogram
	count        int64
	failures     int64
	min          time.Duration
	max          time.Duration
	sum          time.Duration
	errorsByType map[string]int64
}

// Stats represents aggregated durations.
type Stats struct {
	Count    int64         `json:"count" yaml:"count"`
	Failures int64         `json:"failures" yaml:"failures"`
	Min      time.Duration `json:"-" yaml:"-"`
	Max      time.Duration `json:"-" yaml:"-"`
	Mean     time.Duration `json:"-" yaml:"-"`
	P50      time.Duration `json:"-" yaml:"-"`
	P90      time.Duration `json:"-" yaml:"-"`
	P99      time.Duration `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	MinMs  float64        `json:"min_ms" yaml:"min_ms"`
	MaxMs  float64        `json:"max_ms" yaml:"max_ms"`
	MeanMs float64        `json:"mean_ms" yaml:"mean_ms"`
	P50Ms  float64        `json:"p50_ms" yaml:"p50_ms"`
	P90Ms  float64        `json:"p90_ms" yaml:"p90_ms"`
	P99Ms  float64        `json:"p99_ms" yaml:"p99_ms"`
	Errors map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func NewCollector() *Collector {
	// Track durations from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{
		hist:         h,
		errorsByType: make(map[string]int64),
	}
}

// Record adds one successful observation.
func (c *Collector) Record(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d < 0 {
		d = 0
	}
	us := d.Microseconds()
	if us < c.hist.LowestTrackableValue() {
		us = c.hist.LowestTrackableValue()
	}
	if us > c.hist.HighestTrackableValue() {
		us = c.hist.HighestTrackableValue()
	}
	_ = c.hist.RecordValue(us)

	c.count++
	c.sum += d
	if c.count == 1 || d < c.min {
		c.min = d
	}
	if d > c.max {
		c.max = d
	}
}

// RecordFailure counts a failed operation under its ErrorLabel.
func (c *Collector) RecordFailure(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.errorsByType[ErrorLabel(err)]++
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Count:    c.count,
		Failures: c.failures,
		Min:      c.min,
		Max:      c.max,
	}
	if c.count > 0 {
		stats.Mean = time.Duration(int64(c.sum) / c.count)
	}
	if c.hist.TotalCount() > 0 {
		stats.P50 = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90 = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99 = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinMs = Millis(stats.Min)
	stats.MaxMs = Millis(stats.Max)
	stats.MeanMs = Millis(stats.Mean)
	stats.P50Ms = Millis(stats.P50)
	stats.P90Ms = Millis(stats.P90)
	stats.P99Ms = Millis(stats.P99)

	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = int(v)
		}
	}
	return stats
}

// Millis converts a duration to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
