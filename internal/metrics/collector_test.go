package metrics_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/httpclient"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/metrics"
)

func TestCollectorDurationStats(t *testing.T) {
	c := metrics.NewCollector()

	c.Record(10 * time.Millisecond)
	c.Record(20 * time.Millisecond)
	c.Record(30 * time.Millisecond)
	c.Record(40 * time.Millisecond)
	c.Record(50 * time.Millisecond)

	stats := c.Stats()

	if stats.Count != 5 {
		t.Errorf("expected count 5, got %d", stats.Count)
	}
	if stats.Min != 10*time.Millisecond {
		t.Errorf("expected min 10ms, got %s", stats.Min)
	}
	if stats.Max != 50*time.Millisecond {
		t.Errorf("expected max 50ms, got %s", stats.Max)
	}
	if stats.Mean != 30*time.Millisecond {
		t.Errorf("expected mean 30ms, got %s", stats.Mean)
	}
	if stats.MeanMs != 30 {
		t.Errorf("expected mean 30ms in JSON field, got %v", stats.MeanMs)
	}
}

func TestPercentilesCalculations(t *testing.T) {
	c := metrics.NewCollector()

	// 100 samples: 1ms, 2ms, ..., 100ms.
	for i := 1; i <= 100; i++ {
		c.Record(time.Duration(i) * time.Millisecond)
	}

	stats := c.Stats()

	if stats.P50 < 49*time.Millisecond || stats.P50 > 51*time.Millisecond {
		t.Errorf("expected P50 ~50ms, got %s", stats.P50)
	}
	if stats.P90 < 89*time.Millisecond || stats.P90 > 91*time.Millisecond {
		t.Errorf("expected P90 ~90ms, got %s", stats.P90)
	}
	if stats.P99 < 98*time.Millisecond || stats.P99 > 100*time.Millisecond {
		t.Errorf("expected P99 ~99ms, got %s", stats.P99)
	}
}

func TestFailuresGroupedByLabel(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordFailure(&httpclient.StatusError{StatusCode: 503})
	c.RecordFailure(&httpclient.StatusError{StatusCode: 500})
	c.RecordFailure(errors.New("boom"))
	c.RecordFailure(nil)

	stats := c.Stats()
	if stats.Failures != 3 {
		t.Fatalf("expected 3 failures, got %d", stats.Failures)
	}
	if stats.Errors[metrics.LabelHTTPStatus] != 2 || stats.Errors[metrics.LabelOther] != 1 {
		t.Errorf("expected 2 HTTP errors, got %v", stats.Errors)
	}
	if stats.Count != 0 {
		t.Errorf("failures must not count as samples, got %d", stats.Count)
	}
}

func TestJSONSchema(t *testing.T) {
	c := metrics.NewCollector()
	c.Record(15 * time.Millisecond)

	data, err := json.Marshal(c.Stats())
	if err != nil {
		t.Fatalf("failed to marshal stats: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	for _, field := range []string{"count", "failures", "min_ms", "max_ms", "mean_ms", "p50_ms", "p90_ms", "p99_ms"} {
		if _, ok := parsed[field]; !ok {
			t.Errorf("missing field %q in JSON output", field)
		}
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := metrics.NewCollector()

	var wg sync.WaitGroup
	workers := 10
	recordsPerWorker := 100

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerWorker; j++ {
				c.Record(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if got := c.Stats().Count; got != int64(workers*recordsPerWorker) {
		t.Errorf("expected count %d, got %d", workers*recordsPerWorker, got)
	}
}
