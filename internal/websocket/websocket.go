// Package websocket wraps gorilla/websocket for the latency stream tier and
// the datagram tier's signaling channel.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BinaryMessage = websocket.BinaryMessage
	TextMessage   = websocket.TextMessage
)

// ErrNotConnected is returned by operations on a client without a live connection.
var ErrNotConnected = errors.New("websocket: not connected")

// Message is one WebSocket frame payload.
type Message struct {
	Type int
	Data []byte
}

// Metrics captures per-connection counters.
type Metrics struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// Client is a single WebSocket connection. One goroutine may send while
// another receives.
type Client struct {
	url          string
	headers      http.Header
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	readTimeout  time.Duration
	maxSize      int64

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn

	connectTime  time.Time
	messagesSent int64
	messagesRecv int64
	bytesSent    int64
	bytesRecv    int64
	errors       int64
}

// Config configures the WebSocket client behavior.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// NewClient creates a new WebSocket client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	return &Client{
		url:          cfg.URL,
		headers:      cfg.Headers,
		dialer:       dialer,
		writeTimeout: cfg.WriteTimeout,
		readTimeout:  cfg.ReadTimeout,
		maxSize:      cfg.MaxMessageSize,
	}
}

// Connect dials the server. The dial is bounded by both ctx and the
// handshake timeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		c.errors++
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(c.maxSize)

	c.conn = conn
	c.connectTime = time.Now()
	return nil
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// SendMessage writes one frame.
func (c *Client) SendMessage(ctx context.Context, msg Message) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	if deadline, ok := writeDeadline(ctx, c.writeTimeout); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	err := conn.WriteMessage(msg.Type, msg.Data)
	c.writeMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errors++
		return fmt.Errorf("write message: %w", err)
	}
	c.messagesSent++
	c.bytesSent += int64(len(msg.Data))
	return nil
}

// ReceiveMessage blocks for the next frame. It returns when a frame
// arrives, the read deadline derived from ctx or the read timeout passes,
// or the connection is closed.
func (c *Client) ReceiveMessage(ctx context.Context) (Message, error) {
	conn := c.current()
	if conn == nil {
		return Message{}, ErrNotConnected
	}

	if deadline, ok := writeDeadline(ctx, c.readTimeout); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	msgType, data, err := conn.ReadMessage()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errors++
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	c.messagesRecv++
	c.bytesRecv += int64(len(data))
	return Message{Type: msgType, Data: data}, nil
}

// WriteJSON sends v as a text frame.
func (c *Client) WriteJSON(ctx context.Context, v interface{}) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := writeDeadline(ctx, c.writeTimeout); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	return conn.WriteJSON(v)
}

// ReadJSON decodes the next frame into v.
func (c *Client) ReadJSON(ctx context.Context, v interface{}) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	if deadline, ok := writeDeadline(ctx, c.readTimeout); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	return conn.ReadJSON(v)
}

// Close sends a close frame and releases the connection. A receive blocked
// in another goroutine returns with an error.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	closeErr := conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}

// Metrics returns the current metrics snapshot.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Duration(0)
	if !c.connectTime.IsZero() {
		duration = time.Since(c.connectTime)
	}

	return Metrics{
		ConnectionDuration: duration,
		MessagesSent:       c.messagesSent,
		MessagesReceived:   c.messagesRecv,
		BytesSent:          c.bytesSent,
		BytesReceived:      c.bytesRecv,
		Errors:             c.errors,
	}
}

// writeDeadline picks the earlier of the ctx deadline and now+timeout.
func writeDeadline(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if ctx != nil {
		if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
			deadline = d
		}
	}
	return deadline, !deadline.IsZero()
}
