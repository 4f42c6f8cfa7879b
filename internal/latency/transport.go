package latency

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/tracing"
)

// Tier names.
const (
	TierDatagram = "datagram"
	TierStream   = "stream"
	TierRequest  = "request"
)

// Transport is one tier of the probe fallback chain. Open, Send and Close
// are called from the session goroutine; Receive runs concurrently in a
// dedicated goroutine and must return once Close is called.
type Transport interface {
	Name() string
	// Marker reports whether probes on this transport carry the probe marker.
	Marker() bool
	Open(ctx context.Context) error
	Send(ctx context.Context, packet []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Handshake configures the WebSocket handshakes of the datagram and stream
// tiers.
type Handshake struct {
	Headers http.Header
	// Propagate adds the W3C trace context of the tier span.
	Propagate bool
}

func (h Handshake) headers(ctx context.Context) http.Header {
	if !h.Propagate {
		return h.Headers
	}
	return tracing.HandshakeHeaders(ctx, h.Headers)
}

// ErrNoReplies marks a tier that completed without a single reply.
var ErrNoReplies = errors.New("no replies received")

// TierError is the failure of one tier.
type TierError struct {
	Tier string
	Err  error
}

func (e *TierError) Error() string {
	return e.Tier + ": " + e.Err.Error()
}

func (e *TierError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when every tier failed.
type ExhaustedError struct {
	Tiers []*TierError
}

func (e *ExhaustedError) Error() string {
	msgs := make([]string, len(e.Tiers))
	for i, t := range e.Tiers {
		msgs[i] = t.Error()
	}
	return "all latency tiers failed: " + strings.Join(msgs, "; ")
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, len(e.Tiers))
	for i, t := range e.Tiers {
		errs[i] = t
	}
	return errs
}
