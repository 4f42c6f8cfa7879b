package latency

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// fakeTransport echoes packets in memory.
type fakeTransport struct {
	name      string
	marker    bool
	openErr   error
	openBlock bool
	drop      func(seq uint64) bool
	delay     func(seq uint64) time.Duration
	sendErr   error

	opened  atomic.Bool
	replies chan []byte
	closed  chan struct{}
	once    sync.Once
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Marker() bool { return f.marker }

func (f *fakeTransport) Open(ctx context.Context) error {
	f.opened.Store(true)
	if f.openBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.openErr != nil {
		return f.openErr
	}
	f.replies = make(chan []byte, 1024)
	f.closed = make(chan struct{})
	return nil
}

func (f *fakeTransport) Send(_ context.Context, packet []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	seq := binary.BigEndian.Uint64(packet)
	if f.drop != nil && f.drop(seq) {
		return nil
	}
	reply := append([]byte(nil), packet...)
	var d time.Duration
	if f.delay != nil {
		d = f.delay(seq)
	}
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-f.closed:
			return
		}
		select {
		case f.replies <- reply:
		case <-f.closed:
		}
	}()
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case r := <-f.replies:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, net.ErrClosed
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func constantDelay(d time.Duration) func(uint64) time.Duration {
	return func(uint64) time.Duration { return d }
}

// progressRecorder collects progress callbacks from any goroutine.
type progressRecorder struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressRecorder) record(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func (p *progressRecorder) snapshot() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.values...)
}

var errRefused = errors.New("connection refused")
