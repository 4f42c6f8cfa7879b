package bandwidth

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/httpclient"
)

func TestThreadStateConstantStream(t *testing.T) {
	// 10 MB/s delivered as 100 kB every 10ms, 2s warmup then 5s measured.
	start := time.Unix(1_700_000_000, 0)
	st := newThreadState(0, start, 2*time.Second)

	const chunk = 100_000
	budget := 7 * time.Second
	var at time.Time
	for i := 1; ; i++ {
		at = start.Add(time.Duration(i) * 10 * time.Millisecond)
		if at.Sub(start) > budget {
			break
		}
		st.record(chunk, at)
	}
	res := st.finish(start.Add(budget))

	if res.WarmupBytes != 199*chunk {
		t.Errorf("WarmupBytes = %d, want %d", res.WarmupBytes, 199*chunk)
	}
	if got := float64(res.MeasurementBytes); math.Abs(got-50e6)/50e6 > 0.01 {
		t.Errorf("MeasurementBytes = %d, want about 50MB", res.MeasurementBytes)
	}
	if math.Abs(res.SpeedMbps-80)/80 > 0.01 {
		t.Errorf("SpeedMbps = %.2f, want about 80", res.SpeedMbps)
	}
	if res.WarmupDuration != 2*time.Second {
		t.Errorf("WarmupDuration = %v, want 2s", res.WarmupDuration)
	}
	if res.MeasurementDuration != 5*time.Second {
		t.Errorf("MeasurementDuration = %v, want 5s", res.MeasurementDuration)
	}
	if res.TotalBytes != res.WarmupBytes+res.MeasurementBytes {
		t.Errorf("TotalBytes = %d, want warmup+measurement", res.TotalBytes)
	}
}

func TestThreadStateBoundaryByWallClock(t *testing.T) {
	tests := []struct {
		name     string
		chunk    int64
		interval time.Duration
		warmup   time.Duration
		total    time.Duration
	}{
		{"small fast chunks", 1024, 3 * time.Millisecond, 100 * time.Millisecond, 400 * time.Millisecond},
		{"large slow chunks", 1 << 20, 70 * time.Millisecond, 200 * time.Millisecond, time.Second},
		{"chunk straddles boundary", 5000, 33 * time.Millisecond, 100 * time.Millisecond, 250 * time.Millisecond},
		{"no warmup", 10, time.Millisecond, 0, 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Unix(0, 0)
			st := newThreadState(1, start, tt.warmup)

			var wantWarmup, wantMeasured int64
			for at := tt.interval; at <= tt.total; at += tt.interval {
				measured := st.record(tt.chunk, start.Add(at))
				if at < tt.warmup {
					wantWarmup += tt.chunk
					if measured {
						t.Fatalf("chunk at %v counted as measured before warmup %v", at, tt.warmup)
					}
				} else {
					wantMeasured += tt.chunk
					if !measured {
						t.Fatalf("chunk at %v counted as warmup after boundary %v", at, tt.warmup)
					}
				}
			}
			res := st.finish(start.Add(tt.total))
			if res.WarmupBytes != wantWarmup || res.MeasurementBytes != wantMeasured {
				t.Errorf("got warmup=%d measured=%d, want %d/%d", res.WarmupBytes, res.MeasurementBytes, wantWarmup, wantMeasured)
			}
			if res.WarmupDuration < tt.warmup {
				t.Errorf("actual warmup %v shorter than nominal %v", res.WarmupDuration, tt.warmup)
			}
		})
	}
}

func TestThreadStateNeverLeavesWarmup(t *testing.T) {
	start := time.Unix(0, 0)
	st := newThreadState(0, start, 10*time.Second)
	st.record(1_000_000, start.Add(500*time.Millisecond))
	st.record(1_000_000, start.Add(time.Second))

	res := st.finish(start.Add(2 * time.Second))
	if res.MeasurementBytes != 0 {
		t.Errorf("MeasurementBytes = %d, want 0", res.MeasurementBytes)
	}
	if res.MeasurementDuration != 0 {
		t.Errorf("MeasurementDuration = %v, want 0", res.MeasurementDuration)
	}
	// 2MB over 2s.
	if math.Abs(res.SpeedMbps-8) > 1e-9 {
		t.Errorf("fallback SpeedMbps = %v, want 8", res.SpeedMbps)
	}
}

func TestAggregateSumsSpeeds(t *testing.T) {
	for n := 1; n <= 8; n++ {
		threads := make([]ThreadResult, n)
		var want float64
		for i := range threads {
			threads[i] = ThreadResult{
				ThreadID:            i,
				SpeedMbps:           float64(10 + i),
				MeasurementBytes:    int64(100 * (i + 1)),
				WarmupDuration:      2 * time.Second,
				MeasurementDuration: time.Duration(4+i%2) * time.Second,
			}
			want += float64(10 + i)
		}
		res := Aggregate(config.ActionDownload, threads)
		if math.Abs(res.SpeedMbps-want) > 1e-9 {
			t.Errorf("n=%d: SpeedMbps = %v, want sum %v", n, res.SpeedMbps, want)
		}
		if res.WarmupDuration != 2*time.Second {
			t.Errorf("n=%d: WarmupDuration = %v, want average 2s", n, res.WarmupDuration)
		}
	}
}

func TestMbps(t *testing.T) {
	if got := Mbps(10_000_000, time.Second); got != 80 {
		t.Errorf("Mbps(10MB, 1s) = %v, want 80", got)
	}
	if got := Mbps(100, 0); got != 0 {
		t.Errorf("Mbps over zero duration = %v, want 0", got)
	}
}

func streamingServer(chunk int, pause time.Duration) *httptest.Server {
	payload := make([]byte, chunk)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
			return
		}
		flusher, _ := w.(http.Flusher)
		for {
			if _, err := w.Write(payload); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(pause):
			}
		}
	}))
}

func testMeasurement(threads int) config.MeasurementConfig {
	m := config.DefaultMeasurementConfig(config.ActionDownload)
	m.Threads = threads
	m.WarmupMaxTime = 100 * time.Millisecond
	m.TransferMaxTime = 300 * time.Millisecond
	m.Timeout = 5 * time.Second
	return m
}

func TestTesterDownload(t *testing.T) {
	server := streamingServer(4096, 2*time.Millisecond)
	defer server.Close()

	tester := New(Options{
		Kind:        config.ActionDownload,
		Measurement: testMeasurement(3),
		Transferer:  NewDownloader(httpclient.NewClient(0), nil, server.URL+"/download"),
	})

	var calls atomic.Int64
	res, err := tester.Run(context.Background(), func(float64) { calls.Add(1) })
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Threads) != 3 {
		t.Fatalf("got %d thread results, want 3", len(res.Threads))
	}
	var sum float64
	for _, th := range res.Threads {
		sum += th.SpeedMbps
		if th.WarmupBytes == 0 || th.MeasurementBytes == 0 {
			t.Errorf("thread %d: warmup=%d measured=%d, want both > 0", th.ThreadID, th.WarmupBytes, th.MeasurementBytes)
		}
	}
	if math.Abs(res.SpeedMbps-sum) > 1e-9 {
		t.Errorf("SpeedMbps = %v, want thread sum %v", res.SpeedMbps, sum)
	}
	if res.SpeedMbps <= 0 {
		t.Errorf("SpeedMbps = %v, want > 0", res.SpeedMbps)
	}
	if tester.CurrentSpeed().Load() <= 0 {
		t.Error("live speed was never published")
	}
	if calls.Load() == 0 {
		t.Error("progress callback never invoked")
	}
	if res.Cancelled {
		t.Error("completed run reported as cancelled")
	}
	if res.Elapsed > 2*time.Second {
		t.Errorf("run took %v, want near the 400ms budget", res.Elapsed)
	}
}

func TestTesterUpload(t *testing.T) {
	server := streamingServer(1, time.Millisecond)
	defer server.Close()

	m := testMeasurement(2)
	m.FileSize = 32 << 10
	transferer, err := NewTransferer(config.ActionUpload, config.Server{URL: server.URL}, m, httpclient.NewClient(0), nil)
	if err != nil {
		t.Fatalf("NewTransferer() error = %v", err)
	}

	res, err := New(Options{Kind: config.ActionUpload, Measurement: m, Transferer: transferer}).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Requests == 0 || res.TotalBytes == 0 {
		t.Fatalf("expected completed uploads, got requests=%d bytes=%d", res.Requests, res.TotalBytes)
	}
	if res.TotalBytes%m.FileSize != 0 {
		t.Errorf("TotalBytes = %d, want a multiple of the %d byte chunk", res.TotalBytes, m.FileSize)
	}
	if res.RequestDurations.Count == 0 {
		t.Error("request durations not recorded")
	}
}

func TestTesterErrorsDegradeToZeroSpeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tester := New(Options{
		Kind:        config.ActionDownload,
		Measurement: testMeasurement(2),
		Transferer:  NewDownloader(httpclient.NewClient(0), nil, server.URL),
		RetryDelay:  20 * time.Millisecond,
	})
	res, err := tester.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v, want a low-quality result instead", err)
	}
	if res.Errors < 2 {
		t.Errorf("Errors = %d, want retries on every thread", res.Errors)
	}
	if res.SpeedMbps != 0 {
		t.Errorf("SpeedMbps = %v, want 0", res.SpeedMbps)
	}
	if res.RequestDurations.Failures != res.Errors {
		t.Errorf("collector failures = %d, want %d", res.RequestDurations.Failures, res.Errors)
	}
}

func TestTesterCancellationReturnsPartialResult(t *testing.T) {
	m := testMeasurement(2)
	m.WarmupMaxTime = 50 * time.Millisecond
	m.TransferMaxTime = 10 * time.Second

	transferer := TransferFunc(func(ctx context.Context, onData func(int)) error {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				onData(1000)
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res, err := New(Options{Kind: config.ActionDownload, Measurement: m, Transferer: transferer}).Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Cancelled {
		t.Error("Cancelled = false, want true")
	}
	if res.MeasurementBytes == 0 {
		t.Error("partial measurement bytes were discarded")
	}
	for _, th := range res.Threads {
		if th.MeasurementDuration > res.Elapsed {
			t.Errorf("thread %d measurement %v exceeds elapsed %v", th.ThreadID, th.MeasurementDuration, res.Elapsed)
		}
	}
	if res.Elapsed > 2*time.Second {
		t.Errorf("cancelled run took %v", res.Elapsed)
	}
}

func TestTesterTimeoutBoundsThreads(t *testing.T) {
	m := testMeasurement(1)
	m.WarmupMaxTime = time.Second
	m.TransferMaxTime = 10 * time.Second
	m.Timeout = 150 * time.Millisecond

	transferer := TransferFunc(func(ctx context.Context, onData func(int)) error {
		<-ctx.Done()
		return ctx.Err()
	})
	start := time.Now()
	res, err := New(Options{Kind: config.ActionDownload, Measurement: m, Transferer: transferer}).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("thread outlived its 150ms timeout: %v", elapsed)
	}
	if res.Cancelled {
		t.Error("timeout reported as cancellation")
	}
}

func TestTesterRejectsMissingTransferer(t *testing.T) {
	_, err := New(Options{Measurement: testMeasurement(1)}).Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error without a transferer")
	}
	_, err = New(Options{Measurement: testMeasurement(0), Transferer: TransferFunc(func(context.Context, func(int)) error {
		return errors.New("unused")
	})}).Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for zero threads")
	}
}
