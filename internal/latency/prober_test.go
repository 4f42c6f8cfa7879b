package latency

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
)

func probeConfig(datagrams int) config.MeasurementConfig {
	m := config.DefaultMeasurementConfig(config.ActionLatency)
	m.Datagrams = datagrams
	m.InterPacketTime = time.Millisecond
	m.DelayTimeout = 100 * time.Millisecond
	m.HandshakeTimeout = 50 * time.Millisecond
	m.Timeout = 5 * time.Second
	return m
}

func TestSessionCountsTimedOutPacketsAsLost(t *testing.T) {
	tr := &fakeTransport{
		name:  "fake",
		delay: constantDelay(2 * time.Millisecond),
		drop:  func(seq uint64) bool { return seq == 2 || seq == 5 || seq == 8 },
	}
	res, err := New(Options{Measurement: probeConfig(10), Transports: []Transport{tr}}).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Sent != 10 || res.Received != 7 || res.Lost != 3 {
		t.Fatalf("sent/received/lost = %d/%d/%d, want 10/7/3", res.Sent, res.Received, res.Lost)
	}
	if math.Abs(res.PacketLoss-30) > 1e-9 {
		t.Errorf("PacketLoss = %v, want 30", res.PacketLoss)
	}
	if len(res.SamplesMs) != 7 {
		t.Errorf("got %d samples, want 7", len(res.SamplesMs))
	}
	if math.Abs(res.JitterMs-Jitter(res.SamplesMs)) > 1e-9 {
		t.Errorf("JitterMs = %v, want successive-delta mean of samples %v", res.JitterMs, Jitter(res.SamplesMs))
	}
	if res.MinMs > res.AverageMs || res.AverageMs > res.MaxMs {
		t.Errorf("min/avg/max out of order: %v/%v/%v", res.MinMs, res.AverageMs, res.MaxMs)
	}
}

func TestSessionLateReplyIsLost(t *testing.T) {
	tr := &fakeTransport{
		name: "fake",
		delay: func(seq uint64) time.Duration {
			if seq == 0 {
				return 300 * time.Millisecond
			}
			return time.Millisecond
		},
	}
	m := probeConfig(4)
	m.DelayTimeout = 80 * time.Millisecond

	res, err := New(Options{Measurement: m, Transports: []Transport{tr}}).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Received != 3 || res.Lost != 1 {
		t.Errorf("received/lost = %d/%d, want 3/1", res.Received, res.Lost)
	}
	if math.Abs(res.PacketLoss-25) > 1e-9 {
		t.Errorf("PacketLoss = %v, want 25", res.PacketLoss)
	}
}

func TestSessionMatchesOutOfOrderReplies(t *testing.T) {
	tr := &fakeTransport{
		name: "fake",
		// Earlier packets come back later.
		delay: func(seq uint64) time.Duration { return time.Duration(20-2*seq) * time.Millisecond },
	}
	res, err := New(Options{Measurement: probeConfig(5), Transports: []Transport{tr}}).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Received != 5 || res.PacketLoss != 0 {
		t.Errorf("received=%d loss=%v, want 5 and 0", res.Received, res.PacketLoss)
	}
	// RTT comes from the embedded timestamp: the first packet waited longest.
	if res.MaxMs < 15 {
		t.Errorf("MaxMs = %v, want at least the 20ms delay of the first packet", res.MaxMs)
	}
}

func TestProberFallsBackAfterHandshakeTimeout(t *testing.T) {
	datagram := &fakeTransport{name: TierDatagram, openBlock: true}
	stream := &fakeTransport{name: TierStream, marker: true, delay: constantDelay(time.Millisecond)}
	request := &fakeTransport{name: TierRequest, marker: true, delay: constantDelay(time.Millisecond)}

	var progress progressRecorder
	prober := New(Options{Measurement: probeConfig(5), Transports: []Transport{datagram, stream, request}})
	res, err := prober.Run(context.Background(), progress.record)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Tier != TierStream {
		t.Errorf("Tier = %q, want %q", res.Tier, TierStream)
	}
	if request.opened.Load() {
		t.Error("request tier attempted although the stream tier succeeded")
	}
	if len(res.FailedTiers) != 1 || !strings.HasPrefix(res.FailedTiers[0], TierDatagram+":") {
		t.Errorf("FailedTiers = %v, want the datagram failure", res.FailedTiers)
	}

	values := progress.snapshot()
	if len(values) < 3 || values[0] != 0 || values[1] != 0 {
		t.Fatalf("progress = %v, want a reset to 0 for each tier before stream progress", values)
	}
	if values[len(values)-1] != 100 {
		t.Errorf("final progress = %v, want 100", values[len(values)-1])
	}
}

func TestProberResetsProgressBetweenTiers(t *testing.T) {
	// The datagram tier opens but every packet is lost, so its progress
	// reaches 100 before the stream tier starts over from 0.
	datagram := &fakeTransport{name: TierDatagram, drop: func(uint64) bool { return true }}
	stream := &fakeTransport{name: TierStream, marker: true, delay: constantDelay(time.Millisecond)}

	m := probeConfig(4)
	m.DelayTimeout = 40 * time.Millisecond

	var progress progressRecorder
	prober := New(Options{Measurement: m, Transports: []Transport{datagram, stream}})
	res, err := prober.Run(context.Background(), progress.record)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Tier != TierStream {
		t.Fatalf("Tier = %q, want stream", res.Tier)
	}
	if len(res.FailedTiers) != 1 || !strings.Contains(res.FailedTiers[0], ErrNoReplies.Error()) {
		t.Errorf("FailedTiers = %v, want a no-replies failure", res.FailedTiers)
	}

	values := progress.snapshot()
	reachedFull, resetAfter := false, false
	for _, v := range values {
		if v == 100 && !reachedFull {
			reachedFull = true
			continue
		}
		if reachedFull && v == 0 {
			resetAfter = true
			break
		}
	}
	if !reachedFull || !resetAfter {
		t.Errorf("progress = %v, want 100 from the first tier followed by a reset to 0", values)
	}
}

func TestProberEscalatesToRequestTierOnZeroReplies(t *testing.T) {
	datagram := &fakeTransport{name: TierDatagram, openErr: errRefused}
	stream := &fakeTransport{name: TierStream, marker: true, drop: func(uint64) bool { return true }}
	request := &fakeTransport{name: TierRequest, marker: true, delay: constantDelay(time.Millisecond)}

	m := probeConfig(3)
	m.DelayTimeout = 30 * time.Millisecond
	res, err := New(Options{Measurement: m, Transports: []Transport{datagram, stream, request}}).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Tier != TierRequest {
		t.Errorf("Tier = %q, want request", res.Tier)
	}
	if len(res.FailedTiers) != 2 {
		t.Errorf("FailedTiers = %v, want datagram and stream", res.FailedTiers)
	}
	if res.Received != 3 {
		t.Errorf("Received = %d, want 3", res.Received)
	}
}

func TestProberFinalTierWithoutRepliesReportsFullLoss(t *testing.T) {
	only := &fakeTransport{name: TierRequest, marker: true, drop: func(uint64) bool { return true }}
	m := probeConfig(3)
	m.DelayTimeout = 30 * time.Millisecond

	res, err := New(Options{Measurement: m, Transports: []Transport{only}}).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.PacketLoss != 100 || res.Received != 0 || res.Sent != 3 {
		t.Errorf("got loss=%v received=%d sent=%d, want 100/0/3", res.PacketLoss, res.Received, res.Sent)
	}
}

func TestProberFinalSnapshotMatchesResult(t *testing.T) {
	only := &fakeTransport{name: TierStream, marker: true, drop: func(uint64) bool { return true }}
	m := probeConfig(4)
	m.DelayTimeout = 40 * time.Millisecond

	var progress progressRecorder
	prober := New(Options{Measurement: m, Transports: []Transport{only}})
	res, err := prober.Run(context.Background(), progress.record)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Lost != 4 || res.PacketLoss != 100 {
		t.Fatalf("lost=%d loss=%v, want 4/100", res.Lost, res.PacketLoss)
	}
	if snap := prober.Current().Load(); snap.PacketLoss != res.PacketLoss {
		t.Errorf("live PacketLoss = %v, want %v", snap.PacketLoss, res.PacketLoss)
	}
	values := progress.snapshot()
	if len(values) == 0 || values[len(values)-1] != 100 {
		t.Errorf("progress = %v, want to end at 100", values)
	}
}

func TestProberExhausted(t *testing.T) {
	transports := []Transport{
		&fakeTransport{name: TierDatagram, openErr: errors.New("ice negotiation failed")},
		&fakeTransport{name: TierStream, openErr: errRefused},
		&fakeTransport{name: TierRequest, marker: true, sendErr: errors.New("no route to host")},
	}
	res, err := New(Options{Measurement: probeConfig(3), Transports: transports}).Run(context.Background(), nil)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Run() error = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Tiers) != 3 {
		t.Fatalf("got %d tier errors, want 3", len(exhausted.Tiers))
	}
	for _, want := range []string{"ice negotiation failed", "connection refused", "no route to host"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err.Error(), want)
		}
	}
	if !errors.Is(err, errRefused) {
		t.Error("errors.Is cannot reach the stream tier cause")
	}
	var tierErr *TierError
	if !errors.As(err, &tierErr) || tierErr.Tier != TierDatagram {
		t.Errorf("errors.As(*TierError) = %v, want the datagram tier first", tierErr)
	}
	if len(res.FailedTiers) != 3 {
		t.Errorf("FailedTiers = %v, want three entries", res.FailedTiers)
	}
}

func TestProberCancellationReturnsPartialResult(t *testing.T) {
	tr := &fakeTransport{name: TierStream, marker: true, delay: constantDelay(time.Millisecond)}
	m := probeConfig(1000)
	m.InterPacketTime = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	start := time.Now()
	res, err := New(Options{Measurement: m, Transports: []Transport{tr}}).Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on cancellation", err)
	}
	if !res.Cancelled {
		t.Error("Cancelled = false, want true")
	}
	if res.Sent == 0 || res.Sent >= 1000 {
		t.Errorf("Sent = %d, want a partial count", res.Sent)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("cancelled run took %v", time.Since(start))
	}
}

func TestProberDeadlineReturnsPartialResult(t *testing.T) {
	stream := &fakeTransport{name: TierStream, marker: true, delay: constantDelay(time.Millisecond)}
	request := &fakeTransport{name: TierRequest, marker: true, delay: constantDelay(time.Millisecond)}
	m := probeConfig(1000)
	m.InterPacketTime = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	res, err := New(Options{Measurement: m, Transports: []Transport{stream, request}}).Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil when the deadline expires", err)
	}
	if !res.Cancelled || res.Tier != TierStream {
		t.Errorf("Cancelled=%v Tier=%q, want a cancelled stream result", res.Cancelled, res.Tier)
	}
	if res.Sent == 0 || res.Sent >= 1000 {
		t.Errorf("Sent = %d, want a partial count", res.Sent)
	}
	if request.opened.Load() {
		t.Error("request tier opened after the deadline expired")
	}
}

func TestProberPublishesLiveSnapshot(t *testing.T) {
	tr := &fakeTransport{name: TierStream, marker: true, delay: constantDelay(3 * time.Millisecond)}
	prober := New(Options{Measurement: probeConfig(5), Transports: []Transport{tr}})

	res, err := prober.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	snap := prober.Current().Load()
	if snap.LatencyMs <= 0 {
		t.Errorf("live latency = %v, want > 0", snap.LatencyMs)
	}
	if math.Abs(snap.LatencyMs-res.AverageMs) > 1e-9 {
		t.Errorf("live latency %v differs from final average %v", snap.LatencyMs, res.AverageMs)
	}
	select {
	case <-prober.Current().Updates():
	default:
		t.Error("no pending update on the live channel")
	}
}

func TestProberRejectsEmptyConfig(t *testing.T) {
	if _, err := New(Options{Measurement: probeConfig(5)}).Run(context.Background(), nil); err == nil {
		t.Error("expected error without transports")
	}
	tr := &fakeTransport{name: "fake"}
	if _, err := New(Options{Measurement: probeConfig(0), Transports: []Transport{tr}}).Run(context.Background(), nil); err == nil {
		t.Error("expected error for zero datagrams")
	}
}
