package latency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/live"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/metrics"
)

const (
	minSweepInterval = 5 * time.Millisecond
	maxSweepInterval = 100 * time.Millisecond
)

// Snapshot is the live view of a running probe session.
type Snapshot struct {
	LatencyMs  float64 `json:"latency_ms"`
	JitterMs   float64 `json:"jitter_ms"`
	PacketLoss float64 `json:"packet_loss"`
}

// session runs the probe protocol over one transport: a sending window paced
// at the inter-packet interval, then a draining window of at most the packet
// timeout for outstanding replies.
type session struct {
	transport Transport
	m         config.MeasurementConfig
	logger    *slog.Logger
	current   *live.Value[Snapshot]
	progress  func(float64)
	now       func() time.Time

	mu          sync.Mutex
	pending     map[uint64]time.Time // seq -> deadline
	samples     []float64
	rtts        *metrics.Collector
	sent        int
	received    int
	lost        int
	sendingDone bool
	drained     chan struct{}
	drainOnce   sync.Once
}

func newSession(t Transport, m config.MeasurementConfig, logger *slog.Logger, current *live.Value[Snapshot], progress func(float64)) *session {
	return &session{
		transport: t,
		m:         m,
		logger:    logger,
		current:   current,
		progress:  progress,
		now:       time.Now,
		pending:   make(map[uint64]time.Time, m.Datagrams),
		rtts:      metrics.NewCollector(),
		drained:   make(chan struct{}),
	}
}

// run opens the transport and probes it. Setup and send failures are
// returned as errors; lost packets are not.
func (s *session) run(ctx context.Context) (Result, error) {
	openCtx, cancelOpen := context.WithTimeout(ctx, s.m.HandshakeTimeout)
	err := s.transport.Open(openCtx)
	cancelOpen()
	if err != nil {
		return Result{}, fmt.Errorf("open: %w", err)
	}

	var (
		sessCtx context.Context
		stop    context.CancelFunc
	)
	if s.m.Timeout > 0 {
		sessCtx, stop = context.WithTimeout(ctx, s.m.Timeout)
	} else {
		sessCtx, stop = context.WithCancel(ctx)
	}
	defer stop()

	var wg sync.WaitGroup
	var recvErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		recvErr = s.receive(sessCtx)
	}()
	go func() {
		defer wg.Done()
		s.sweep(sessCtx)
	}()

	sendErr := s.send(sessCtx)
	if sendErr == nil {
		s.drain(sessCtx)
	}
	stop()
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("closing transport", "tier", s.transport.Name(), "error", err)
	}
	wg.Wait()
	s.finish()

	res := s.result()
	if ctx.Err() != nil {
		return res, nil
	}
	if sendErr != nil {
		return res, sendErr
	}
	if res.Received == 0 && recvErr != nil {
		return res, fmt.Errorf("receive: %w", recvErr)
	}
	return res, nil
}

func (s *session) send(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(s.m.InterPacketTime), 1)
	marker := s.transport.Marker()
	for i := 0; i < s.m.Datagrams; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		seq := uint64(i)
		sentAt := s.now()
		packet := EncodePacket(Packet{Seq: seq, SentAt: sentAt}, int(s.m.FileSize), marker)

		s.mu.Lock()
		s.pending[seq] = sentAt.Add(s.m.DelayTimeout)
		s.sent++
		s.mu.Unlock()

		if err := s.transport.Send(ctx, packet); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send packet %d: %w", seq, err)
		}
	}

	s.mu.Lock()
	s.sendingDone = true
	s.checkDrainedLocked()
	s.mu.Unlock()
	return nil
}

func (s *session) drain(ctx context.Context) {
	timer := time.NewTimer(s.m.DelayTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-s.drained:
	}
}

func (s *session) receive(ctx context.Context) error {
	marker := s.transport.Marker()
	for {
		data, err := s.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		at := s.now()
		packet, err := DecodePacket(data, marker)
		if err != nil {
			s.logger.Debug("ignoring reply", "tier", s.transport.Name(), "error", err)
			continue
		}
		s.reply(packet, at)
	}
}

// reply matches a reply to its pending probe by sequence number. Replies
// after the probe's deadline count as lost.
func (s *session) reply(p Packet, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.pending[p.Seq]
	if !ok {
		return
	}
	delete(s.pending, p.Seq)
	if at.After(deadline) {
		s.lost++
	} else {
		rtt := max(at.Sub(p.SentAt), 0)
		s.received++
		s.samples = append(s.samples, metrics.Millis(rtt))
		s.rtts.Record(rtt)
	}
	s.publishLocked()
	s.checkDrainedLocked()
}

func (s *session) sweep(ctx context.Context) {
	interval := min(max(s.m.DelayTimeout/10, minSweepInterval), maxSweepInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expire(s.now())
		}
	}
}

func (s *session) expire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for seq, deadline := range s.pending {
		if now.After(deadline) {
			delete(s.pending, seq)
			expired++
		}
	}
	if expired == 0 {
		return
	}
	s.lost += expired
	s.publishLocked()
	s.checkDrainedLocked()
}

// finish counts every probe still pending as lost once the session is over,
// so the last published snapshot matches the result.
func (s *session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return
	}
	s.lost += len(s.pending)
	clear(s.pending)
	s.publishLocked()
}

func (s *session) publishLocked() {
	var loss float64
	if s.sent > 0 {
		loss = clamp(float64(s.lost)/float64(s.sent)*100, 0, 100)
	}
	s.current.Set(Snapshot{
		LatencyMs:  mean(s.samples),
		JitterMs:   Jitter(s.samples),
		PacketLoss: loss,
	})
	if s.progress != nil && s.m.Datagrams > 0 {
		s.progress(clamp(float64(s.received+s.lost)/float64(s.m.Datagrams)*100, 0, 100))
	}
}

func (s *session) checkDrainedLocked() {
	if s.sendingDone && len(s.pending) == 0 {
		s.drainOnce.Do(func() { close(s.drained) })
	}
}

// result summarizes the session. Probes never answered count as lost.
func (s *session) result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := append([]float64(nil), s.samples...)
	lo, hi := minMax(samples)
	stats := s.rtts.Stats()
	return Result{
		Tier:       s.transport.Name(),
		AverageMs:  mean(samples),
		MinMs:      lo,
		MaxMs:      hi,
		JitterMs:   Jitter(samples),
		PacketLoss: PacketLoss(s.sent, s.received),
		P50Ms:      stats.P50Ms,
		P90Ms:      stats.P90Ms,
		P99Ms:      stats.P99Ms,
		Sent:       s.sent,
		Received:   s.received,
		Lost:       s.sent - s.received,
		SamplesMs:  samples,
	}
}
