package latency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/websocket"
)

const maxDatagramSize = 64 << 10

// Signal is a message on the datagram tier's signaling channel. The client
// sends an offer naming its local UDP candidate; the server answers with the
// address probes should be sent to, or with an error.
type Signal struct {
	Type      string `json:"type"`
	Session   string `json:"session"`
	Candidate string `json:"candidate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Signal types.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
	SignalError  = "error"
)

// DatagramTransport probes over UDP after negotiating the peer address on a
// WebSocket signaling channel. Datagrams are neither ordered nor
// retransmitted.
type DatagramTransport struct {
	signalURL string
	host      string
	handshake Handshake
	logger    *slog.Logger

	signaling *websocket.Client
	conn      *net.UDPConn
	remote    *net.UDPAddr
	buf       []byte
}

// NewDatagramTransport returns the datagram tier. host replaces an
// unspecified address in the server's answer.
func NewDatagramTransport(signalURL, host string, handshake Handshake, logger *slog.Logger) *DatagramTransport {
	return &DatagramTransport{
		signalURL: signalURL,
		host:      host,
		handshake: handshake,
		logger:    logging.OrDiscard(logger),
	}
}

func (t *DatagramTransport) Name() string { return TierDatagram }

func (t *DatagramTransport) Marker() bool { return false }

// Open performs the offer/answer handshake. It is bounded by ctx.
func (t *DatagramTransport) Open(ctx context.Context) (err error) {
	signaling := websocket.NewClient(websocket.Config{URL: t.signalURL, Headers: t.handshake.headers(ctx)})
	if err := signaling.Connect(ctx); err != nil {
		return fmt.Errorf("signaling: %w", err)
	}
	network := "udp"
	if ip := net.ParseIP(t.host); ip != nil && ip.To4() != nil {
		network = "udp4"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		_ = signaling.Close()
		return err
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
			_ = signaling.Close()
		}
	}()

	session := uuid.NewString()
	offer := Signal{Type: SignalOffer, Session: session, Candidate: conn.LocalAddr().String()}
	answer, err := exchange(ctx, signaling, offer)
	if err != nil {
		return err
	}

	remote, err := resolveCandidate(answer.Candidate, t.host)
	if err != nil {
		return err
	}
	t.logger.Debug("datagram path negotiated", "session", session, "remote", remote.String())

	t.signaling = signaling
	t.conn = conn
	t.remote = remote
	t.buf = make([]byte, maxDatagramSize)
	return nil
}

// exchange sends the offer and reads the answer. Cancelling ctx closes the
// signaling channel so a blocked read returns at once.
func exchange(ctx context.Context, signaling *websocket.Client, offer Signal) (Signal, error) {
	stop := context.AfterFunc(ctx, func() { _ = signaling.Close() })
	answer, err := readAnswer(ctx, signaling, offer)
	if !stop() {
		return Signal{}, fmt.Errorf("signaling: %w", ctx.Err())
	}
	return answer, err
}

func readAnswer(ctx context.Context, signaling *websocket.Client, offer Signal) (Signal, error) {
	if err := signaling.WriteJSON(ctx, offer); err != nil {
		return Signal{}, fmt.Errorf("send offer: %w", err)
	}
	var answer Signal
	if err := signaling.ReadJSON(ctx, &answer); err != nil {
		return Signal{}, fmt.Errorf("read answer: %w", err)
	}
	switch {
	case answer.Type == SignalError:
		return Signal{}, fmt.Errorf("signaling rejected offer: %s", answer.Error)
	case answer.Type != SignalAnswer:
		return Signal{}, fmt.Errorf("unexpected signal %q", answer.Type)
	case answer.Session != offer.Session:
		return Signal{}, fmt.Errorf("answer for session %q, want %q", answer.Session, offer.Session)
	}
	return answer, nil
}

// resolveCandidate turns an answer candidate into a UDP address, using
// fallbackHost when the candidate host is empty or unspecified.
func resolveCandidate(candidate, fallbackHost string) (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(candidate)
	if err != nil {
		return nil, fmt.Errorf("invalid candidate %q: %w", candidate, err)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = fallbackHost
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
}

func (t *DatagramTransport) Send(_ context.Context, packet []byte) error {
	_, err := t.conn.WriteToUDP(packet, t.remote)
	return err
}

// Receive returns the next datagram from the negotiated peer.
func (t *DatagramTransport) Receive(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	}
	for {
		n, from, err := t.conn.ReadFromUDP(t.buf)
		if err != nil {
			return nil, err
		}
		if !from.IP.Equal(t.remote.IP) || from.Port != t.remote.Port {
			continue
		}
		return append([]byte(nil), t.buf[:n]...), nil
	}
}

func (t *DatagramTransport) Close() error {
	var errs []error
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
	}
	if t.signaling != nil {
		errs = append(errs, t.signaling.Close())
	}
	return errors.Join(errs...)
}
