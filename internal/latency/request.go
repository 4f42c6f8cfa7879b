package latency

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/httpclient"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
)

// ProbeHeader carries a hex-encoded probe on request-tier HEAD requests. A
// server that echoes it returns the same header.
const ProbeHeader = "X-Probe"

// RequestTransport probes with HEAD requests. Every Send issues one request
// in the background; its reply is delivered through Receive. A request that
// fails is not an error, the probe simply times out.
type RequestTransport struct {
	client  *http.Client
	builder *httpclient.RequestBuilder
	url     string
	timeout time.Duration
	logger  *slog.Logger

	replies  chan []byte
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewRequestTransport returns the request tier. timeout bounds each probe
// request.
func NewRequestTransport(client *http.Client, builder *httpclient.RequestBuilder, url string, timeout time.Duration, logger *slog.Logger) *RequestTransport {
	return &RequestTransport{
		client:  client,
		builder: builder,
		url:     url,
		timeout: timeout,
		logger:  logging.OrDiscard(logger),
	}
}

func (t *RequestTransport) Name() string { return TierRequest }

func (t *RequestTransport) Marker() bool { return true }

// Open checks that the endpoint answers at all.
func (t *RequestTransport) Open(ctx context.Context) error {
	resp, err := t.head(ctx, nil)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	t.replies = make(chan []byte, 64)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return nil
}

func (t *RequestTransport) Send(_ context.Context, packet []byte) error {
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		reply, err := t.probe(packet)
		if err != nil {
			t.logger.Debug("probe request failed", "tier", TierRequest, "error", err)
			return
		}
		select {
		case t.replies <- reply:
		case <-t.ctx.Done():
		}
	}()
	return nil
}

func (t *RequestTransport) probe(packet []byte) ([]byte, error) {
	ctx := t.ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	resp, err := t.head(ctx, packet)
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	echoed := resp.Header.Get(ProbeHeader)
	if echoed == "" {
		// Servers that do not echo still prove the round trip; the sent
		// packet holds the authoritative timestamp.
		return packet, nil
	}
	reply, err := hex.DecodeString(echoed)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (t *RequestTransport) head(ctx context.Context, packet []byte) (*http.Response, error) {
	req, err := t.builder.Build(ctx, http.MethodHead, t.url, nil)
	if err != nil {
		return nil, err
	}
	if packet != nil {
		req.Header.Set(ProbeHeader, hex.EncodeToString(packet))
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *RequestTransport) Receive(ctx context.Context) ([]byte, error) {
	if t.replies == nil {
		return nil, errors.New("request transport not open")
	}
	select {
	case reply := <-t.replies:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.ctx.Done():
		return nil, net.ErrClosed
	}
}

// Close abandons in-flight probes and waits for them to return.
func (t *RequestTransport) Close() error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	t.inflight.Wait()
	return nil
}
