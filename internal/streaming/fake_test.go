package streaming

import (
	"context"
	"sync"
	"time"
)

// fakePlayer plays in real time. stallFrom/stallFor freeze the position for
// a window measured from Play.
type fakePlayer struct {
	events  chan Event
	loadErr error
	bytes   int64

	stallFrom time.Duration
	stallFor  time.Duration

	mu      sync.Mutex
	playAt  time.Time
	playing bool
	closed  bool
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{events: make(chan Event, 4), bytes: 1 << 20}
}

func (p *fakePlayer) Load(context.Context) error { return p.loadErr }

func (p *fakePlayer) Events() <-chan Event { return p.events }

func (p *fakePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playAt = time.Now()
	p.playing = true
}

func (p *fakePlayer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return State{}
	}
	elapsed := time.Since(p.playAt)
	pos := elapsed
	if p.stallFor > 0 && elapsed > p.stallFrom {
		pos = elapsed - min(elapsed-p.stallFrom, p.stallFor)
	}
	return State{Position: pos, Buffered: pos, Playing: true}
}

func (p *fakePlayer) BytesTransferred() int64 { return p.bytes }

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePlayer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePlayer) after(d time.Duration, ev Event) {
	go func() {
		time.Sleep(d)
		p.events <- ev
	}()
}
