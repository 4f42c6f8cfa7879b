package latency

import (
	"context"
	"log/slog"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/websocket"
)

// StreamTransport probes over binary messages on a WebSocket.
type StreamTransport struct {
	url       string
	handshake Handshake
	logger    *slog.Logger
	client    *websocket.Client
}

// NewStreamTransport returns the stream tier for a ws(s) URL.
func NewStreamTransport(url string, handshake Handshake, logger *slog.Logger) *StreamTransport {
	return &StreamTransport{url: url, handshake: handshake, logger: logging.OrDiscard(logger)}
}

func (t *StreamTransport) Name() string { return TierStream }

func (t *StreamTransport) Marker() bool { return true }

func (t *StreamTransport) Open(ctx context.Context) error {
	client := websocket.NewClient(websocket.Config{
		URL:     t.url,
		Headers: t.handshake.headers(ctx),
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	t.client = client
	return nil
}
func (t *StreamTransport) Send(ctx context.Context, packet []byte) error {
	return t.client.SendMessage(ctx, websocket.Message{Type: websocket.BinaryMessage, Data: packet})
}

// Receive returns the next binary message. Text frames are skipped.
func (t *StreamTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		msg, err := t.client.ReceiveMessage(ctx)
		if err != nil {
			return nil, err
		}
		if msg.Type == websocket.BinaryMessage {
			return msg.Data, nil
		}
	}
}

// Close closes the connection and logs its traffic counters.
func (t *StreamTransport) Close() error {
	if t.client == nil {
		return nil
	}
	m := t.client.Metrics()
	err := t.client.Close()
	t.logger.Debug("stream tier closed",
		"messages_sent", m.MessagesSent,
		"messages_received", m.MessagesReceived,
		"bytes_sent", m.BytesSent,
		"bytes_received", m.BytesReceived,
		"errors", m.Errors,
		"connected_for", m.ConnectionDuration)
	return err
}
