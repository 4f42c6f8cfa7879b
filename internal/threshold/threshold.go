package threshold

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/runner"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // action type: "download", "upload", "latency", "streaming"
	Aggregate string  // e.g., "speed_mbps", "p99", "jitter", "lag_ratio"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against a run report.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the report. A threshold is checked
// against every outcome of its action type; a threshold whose action did not
// run fails.
func (e *Evaluator) Evaluate(report runner.Report) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		matched := false
		for _, outcome := range report.Outcomes {
			if string(outcome.Action) != t.Metric {
				continue
			}
			matched = true
			results = append(results, e.evaluateOne(t, outcome))
		}
		if !matched {
			results = append(results, failed(t, fmt.Errorf("no %s action in report", t.Metric)))
		}
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, outcome runner.Outcome) Result {
	actual, err := extractMetricValue(t, outcome)
	if err != nil {
		return failed(t, err)
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

func failed(t Threshold, err error) Result {
	return Result{
		Threshold: t,
		Actual:    0,
		Pass:      false,
		Message:   fmt.Sprintf("✗ %s: error: %v", t.Raw, err),
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9_]+)\s*([<>=!]+)\s*([0-9.]+)$`)

var aggregates = map[string][]string{
	string(config.ActionDownload):  {"speed_mbps", "bytes", "errors"},
	string(config.ActionUpload):    {"speed_mbps", "bytes", "errors"},
	string(config.ActionLatency):   {"avg", "min", "max", "p50", "p90", "p99", "jitter", "loss"},
	string(config.ActionStreaming): {"start_ms", "lag_count", "lag_ms", "lag_ratio", "total_delay_ms", "bps"},
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "download:speed_mbps > 50"     (combined speed in Mbps)
// - "upload:errors < 3"            (failed transfer requests)
// - "latency:p99 < 80"             (round-trip percentile in ms)
// - "latency:loss <= 1"            (packet loss in percent)
// - "streaming:start_ms < 2000"    (time to first frame)
// - "streaming:lag_ratio < 0.1"    (share of the run spent rebuffering)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: action:aggregate operator value, e.g., 'download:speed_mbps > 50')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	valid, ok := aggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: download, upload, latency, streaming)", metric)
	}
	if !slices.Contains(valid, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(valid, ", "))
	}
	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

func isValidOperator(operator string) bool {
	return slices.Contains([]string{"<", "<=", ">", ">=", "=="}, operator)
}

func extractMetricValue(t Threshold, outcome runner.Outcome) (float64, error) {
	switch config.ActionType(t.Metric) {
	case config.ActionDownload, config.ActionUpload:
		if outcome.Bandwidth == nil {
			return 0, fmt.Errorf("%s produced no result", t.Metric)
		}
		return extractBandwidthMetric(t.Aggregate, outcome)
	case config.ActionLatency:
		if outcome.Latency == nil {
			return 0, fmt.Errorf("latency produced no result")
		}
		return extractLatencyMetric(t.Aggregate, outcome)
	case config.ActionStreaming:
		if outcome.Streaming == nil {
			return 0, fmt.Errorf("streaming produced no result")
		}
		return extractStreamingMetric(t.Aggregate, outcome)
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractBandwidthMetric(aggregate string, outcome runner.Outcome) (float64, error) {
	res := outcome.Bandwidth
	switch aggregate {
	case "speed_mbps":
		return res.SpeedMbps, nil
	case "bytes":
		return float64(res.TotalBytes), nil
	case "errors":
		return float64(res.Errors), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s", aggregate, outcome.Action)
	}
}

func extractLatencyMetric(aggregate string, outcome runner.Outcome) (float64, error) {
	res := outcome.Latency
	switch aggregate {
	case "avg":
		return res.AverageMs, nil
	case "min":
		return res.MinMs, nil
	case "max":
		return res.MaxMs, nil
	case "p50":
		return res.P50Ms, nil
	case "p90":
		return res.P90Ms, nil
	case "p99":
		return res.P99Ms, nil
	case "jitter":
		return res.JitterMs, nil
	case "loss":
		return res.PacketLoss, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for latency", aggregate)
	}
}

func extractStreamingMetric(aggregate string, outcome runner.Outcome) (float64, error) {
	res := outcome.Streaming
	switch aggregate {
	case "start_ms":
		return float64(res.VideoStartTime.Milliseconds()), nil
	case "lag_count":
		return float64(res.LagCount), nil
	case "lag_ms":
		return float64(res.LagDuration.Milliseconds()), nil
	case "lag_ratio":
		return res.LagRatio(), nil
	case "total_delay_ms":
		return float64(res.TotalDelay.Milliseconds()), nil
	case "bps":
		return res.BytesPerSecond, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for streaming", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
