package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/httpclient"
)

// Labels used to group measurement failures.
const (
	LabelHTTPStatus      = "HTTP error response"
	LabelDeadline        = "Context deadline exceeded"
	LabelCancelled       = "Cancelled"
	LabelWebSocketClosed = "WebSocket closed"
	LabelClosedEarly     = "Connection closed early"
	LabelNetworkTimeout  = "Network timeout"
	LabelNetwork         = "Network error"
	LabelRequestURL      = "Request URL error"
	LabelOther           = "Other error"
)

// ErrorLabel returns the group a failed transfer or probe is counted under.
// Wrapped errors are unwrapped, so a status error returned through
// fmt.Errorf("...: %w") is still reported as an HTTP error response.
func ErrorLabel(err error) string {
	var (
		statusErr *httpclient.StatusError
		closeErr  *websocket.CloseError
		netErr    net.Error
		opErr     *net.OpError
		urlErr    *url.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &statusErr):
		return LabelHTTPStatus
	case errors.Is(err, context.DeadlineExceeded):
		return LabelDeadline
	case errors.Is(err, context.Canceled):
		return LabelCancelled
	case errors.As(err, &closeErr):
		return LabelWebSocketClosed
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return LabelClosedEarly
	case errors.As(err, &netErr) && netErr.Timeout():
		return LabelNetworkTimeout
	case errors.As(err, &opErr):
		return LabelNetwork
	case errors.As(err, &urlErr):
		return LabelRequestURL
	default:
		return LabelOther
	}
}
