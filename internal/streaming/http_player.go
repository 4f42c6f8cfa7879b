package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/httpclient"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
)

const (
	readChunkSize      = 32 << 10
	maxPlaylistBytes   = 1 << 20
	clockInterval      = 20 * time.Millisecond
	defaultBitrateKbps = 2500
)

var errEmptyMedia = errors.New("empty media")

// HTTPPlayer plays a progressive file or an HLS playlist fetched over HTTP.
// Buffered media time is the sum of #EXTINF durations for playlists and is
// derived from the configured bitrate for progressive files. Position
// advances with the wall clock while playing and stalls once it catches up
// with the buffer.
type HTTPPlayer struct {
	client        *http.Client
	builder       *httpclient.RequestBuilder
	url           string
	bitrateBps    float64
	startupBuffer time.Duration
	logger        *slog.Logger
	now           func() time.Time

	events chan Event
	bytes  atomic.Int64
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	buffered   time.Duration
	position   time.Duration
	lastUpdate time.Time
	playing    bool
	complete   bool
	ended      bool
	started    bool
	failed     bool
}

// NewHTTPPlayer returns a player for target.
func NewHTTPPlayer(client *http.Client, builder *httpclient.RequestBuilder, target string, bitrateKbps int, startupBuffer time.Duration, logger *slog.Logger) *HTTPPlayer {
	if bitrateKbps <= 0 {
		bitrateKbps = defaultBitrateKbps
	}
	return &HTTPPlayer{
		client:        client,
		builder:       builder,
		url:           target,
		bitrateBps:    float64(bitrateKbps) * 1000,
		startupBuffer: startupBuffer,
		logger:        logging.OrDiscard(logger),
		now:           time.Now,
		events:        make(chan Event, 4),
	}
}

func (p *HTTPPlayer) Load(ctx context.Context) error {
	if _, err := url.Parse(p.url); err != nil {
		return fmt.Errorf("invalid media url %q: %w", p.url, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Lock()
	p.lastUpdate = p.now()
	p.mu.Unlock()

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		if err := p.fetch(ctx); err != nil && ctx.Err() == nil {
			p.fail(err)
		}
	}()
	go func() {
		defer p.wg.Done()
		p.clock(ctx)
	}()
	return nil
}

func (p *HTTPPlayer) Events() <-chan Event { return p.events }

func (p *HTTPPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked(p.now())
	p.playing = true
}

func (p *HTTPPlayer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked(p.now())
	return State{
		Position: p.position,
		Buffered: p.buffered,
		Playing:  p.playing,
		Ended:    p.ended,
	}
}

func (p *HTTPPlayer) BytesTransferred() int64 { return p.bytes.Load() }

func (p *HTTPPlayer) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *HTTPPlayer) fetch(ctx context.Context) error {
	resp, err := p.get(ctx, p.url)
	if err != nil {
		return err
	}
	if isPlaylist(p.url, resp.Header.Get("Content-Type")) {
		data, err := p.readAll(resp.Body, maxPlaylistBytes)
		_ = resp.Body.Close()
		if err != nil {
			return err
		}
		return p.playPlaylist(ctx, resp.Request.URL, data, 1)
	}
	defer resp.Body.Close()
	return p.readProgressive(resp.Body)
}

func (p *HTTPPlayer) playPlaylist(ctx context.Context, base *url.URL, data []byte, depth int) error {
	pl, err := parsePlaylist(base, data)
	if err != nil {
		return err
	}
	if len(pl.Segments) == 0 && len(pl.Variants) > 0 && depth > 0 {
		variant := pl.Variants[0]
		p.logger.Debug("following playlist variant", "url", variant)
		resp, err := p.get(ctx, variant)
		if err != nil {
			return err
		}
		data, err := p.readAll(resp.Body, maxPlaylistBytes)
		_ = resp.Body.Close()
		if err != nil {
			return err
		}
		return p.playPlaylist(ctx, resp.Request.URL, data, depth-1)
	}
	if len(pl.Segments) == 0 {
		return errors.New("playlist has no media segments")
	}

	for i, seg := range pl.Segments {
		resp, err := p.get(ctx, seg.URL)
		if err != nil {
			return fmt.Errorf("segment %d: %w", i+1, err)
		}
		_, err = p.readAll(resp.Body, -1)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("segment %d: %w", i+1, err)
		}
		p.addMedia(seg.Duration)
	}
	p.markComplete()
	return nil
}

func (p *HTTPPlayer) readProgressive(body io.Reader) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			p.bytes.Add(int64(n))
			p.addMedia(time.Duration(float64(n) * 8 / p.bitrateBps * float64(time.Second)))
		}
		if errors.Is(err, io.EOF) {
			p.markComplete()
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// readAll reads body while counting transferred bytes. A negative limit
// discards the data.
func (p *HTTPPlayer) readAll(body io.Reader, limit int64) ([]byte, error) {
	counter := &countingReader{r: body, n: &p.bytes}
	if limit < 0 {
		_, err := io.Copy(io.Discard, counter)
		return nil, err
	}
	return io.ReadAll(io.LimitReader(counter, limit))
}

func (p *HTTPPlayer) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := p.builder.Build(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *HTTPPlayer) addMedia(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked(p.now())
	p.buffered += d
	p.maybeStartLocked()
}

// markComplete records that all media has arrived. Media that ended before
// anything was buffered fails playback.
func (p *HTTPPlayer) markComplete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked(p.now())
	p.complete = true
	if p.buffered <= 0 && !p.started && !p.failed {
		p.failed = true
		p.emit(Event{Kind: EventError, Err: errEmptyMedia})
		return
	}
	p.maybeStartLocked()
}

func (p *HTTPPlayer) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed || p.ended {
		return
	}
	p.failed = true
	p.emit(Event{Kind: EventError, Err: err})
}

func (p *HTTPPlayer) maybeStartLocked() {
	if p.started || p.buffered <= 0 {
		return
	}
	if p.buffered >= p.startupBuffer || p.complete {
		p.started = true
		p.emit(Event{Kind: EventFirstFrame})
	}
}

// advanceLocked moves the playback position to now, never past the buffer.
func (p *HTTPPlayer) advanceLocked(now time.Time) {
	if p.playing && !p.ended {
		gain := now.Sub(p.lastUpdate)
		room := max(p.buffered-p.position, 0)
		p.position += min(gain, room)
	}
	p.lastUpdate = now
}

func (p *HTTPPlayer) clock(ctx context.Context) {
	ticker := time.NewTicker(clockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			p.advanceLocked(p.now())
			if p.playing && p.complete && !p.ended && p.position >= p.buffered {
				p.ended = true
				p.emit(Event{Kind: EventEnded})
			}
			p.mu.Unlock()
		}
	}
}

// emit never blocks; each event kind is sent at most once.
func (p *HTTPPlayer) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Debug("dropping playback event", "event", ev.Kind.String())
	}
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n.Add(int64(n))
	return n, err
}
