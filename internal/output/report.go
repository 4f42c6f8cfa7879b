package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/runner"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/threshold"
)

// ThresholdSummary is the serialized form of the threshold results.
type ThresholdSummary struct {
	Total   int                   `json:"total" yaml:"total"`
	Passed  int                   `json:"passed" yaml:"passed"`
	Failed  int                   `json:"failed" yaml:"failed"`
	Results []ThresholdResultJSON `json:"results" yaml:"results"`
}

// ThresholdResultJSON is one serialized threshold result.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold" yaml:"threshold"`
	Metric    string  `json:"metric" yaml:"metric"`
	Aggregate string  `json:"aggregate" yaml:"aggregate"`
	Operator  string  `json:"operator" yaml:"operator"`
	Expected  float64 `json:"expected" yaml:"expected"`
	Actual    float64 `json:"actual" yaml:"actual"`
	Pass      bool    `json:"pass" yaml:"pass"`
}

// Document is the machine-readable report.
type Document struct {
	runner.Report `yaml:",inline"`
	Success       bool              `json:"success" yaml:"success"`
	Thresholds    *ThresholdSummary `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// NewDocument combines the run report with its threshold results.
func NewDocument(report runner.Report, results []threshold.Result) Document {
	return Document{
		Report:     report,
		Success:    report.Success() && threshold.Passed(results),
		Thresholds: summarize(results),
	}
}

func summarize(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	summary := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		summary.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, report runner.Report, results []threshold.Result) {
	fmt.Fprintln(w, "\n--- Measurement Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", report.ID)
	if report.Server != "" {
		fmt.Fprintf(w, "Server:            %s\n", report.Server)
	}
	fmt.Fprintf(w, "Started:           %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Duration:          %s\n", report.Duration.Round(time.Millisecond))
	if report.Cancelled {
		fmt.Fprintln(w, "Status:            cancelled")
	}

	for i, o := range report.Outcomes {
		fmt.Fprintf(w, "\n[%d] %s (%s, attempts %d)\n", i+1, strings.ToUpper(string(o.Action)), outcomeStatus(o), o.Attempts)
		if o.Error != "" {
			fmt.Fprintf(w, "  Error:           %s\n", o.Error)
		}
		switch {
		case o.Bandwidth != nil:
			b := o.Bandwidth
			fmt.Fprintf(w, "  Speed:           %.2f Mbps\n", b.SpeedMbps)
			fmt.Fprintf(w, "  Bytes:           %d total, %d warmup, %d measured\n", b.TotalBytes, b.WarmupBytes, b.MeasurementBytes)
			fmt.Fprintf(w, "  Threads:         %d\n", len(b.Threads))
			fmt.Fprintf(w, "  Requests:        %d (%d failed)\n", b.Requests, b.Errors)
			fmt.Fprintf(w, "  Warmup:          %s\n", b.WarmupDuration.Round(time.Millisecond))
			fmt.Fprintf(w, "  Measurement:     %s\n", b.MeasurementDuration.Round(time.Millisecond))
		case o.Latency != nil:
			l := o.Latency
			if l.Tier != "" {
				fmt.Fprintf(w, "  Transport:       %s\n", l.Tier)
			}
			fmt.Fprintf(w, "  Latency:         %.2f ms avg (min %.2f, max %.2f)\n", l.AverageMs, l.MinMs, l.MaxMs)
			fmt.Fprintf(w, "  Percentiles:     P50 %.2f, P90 %.2f, P99 %.2f ms\n", l.P50Ms, l.P90Ms, l.P99Ms)
			fmt.Fprintf(w, "  Jitter:          %.2f ms\n", l.JitterMs)
			fmt.Fprintf(w, "  Packet Loss:     %.2f%% (%d/%d received)\n", l.PacketLoss, l.Received, l.Sent)
			for _, msg := range l.FailedTiers {
				fmt.Fprintf(w, "  Fallback:        %s\n", msg)
			}
		case o.Streaming != nil:
			s := o.Streaming
			fmt.Fprintf(w, "  Video Start:     %s\n", s.VideoStartTime.Round(time.Millisecond))
			fmt.Fprintf(w, "  Lag:             %d events, %s (%.1f%%)\n", s.LagCount, s.LagDuration.Round(time.Millisecond), s.LagRatio()*100)
			fmt.Fprintf(w, "  Total Delay:     %s\n", s.TotalDelay.Round(time.Millisecond))
			fmt.Fprintf(w, "  Throughput:      %.0f B/s (%d bytes)\n", s.BytesPerSecond, s.TotalBytes)
		}
	}

	if len(results) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, r := range results {
			fmt.Fprintf(w, "  %s\n", r.Message)
		}
	}
}

func outcomeStatus(o runner.Outcome) string {
	switch {
	case o.Cancelled:
		return "cancelled"
	case o.Success:
		return "ok"
	default:
		return "failed"
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, report runner.Report, results []threshold.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(report, results))
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, report runner.Report, results []threshold.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewDocument(report, results)); err != nil {
		return err
	}
	return enc.Close()
}
