// Package echoserver is a reference measurement server. It serves the
// endpoints the measurement client expects: sized downloads, uploads, HEAD
// probes with echo, a WebSocket echo, WebSocket signaling for a UDP echo, and
// progressive and HLS media.
package echoserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
)

const (
	defaultDownloadSize    = 10 << 20
	defaultMediaSize       = 2 << 20
	defaultSegments        = 5
	defaultSegmentDuration = time.Second
	defaultSegmentSize     = 256 << 10
	writeChunkSize         = 32 << 10

	probeHeader = "X-Probe"
)

// Options configures a Server. Zero values select defaults.
type Options struct {
	// DownloadRate and MediaRate cap bytes per second; zero means unlimited.
	DownloadRate int
	MediaRate    int
	MediaSize    int64

	Segments        int
	SegmentDuration time.Duration
	SegmentSize     int
	// StallSegment delays the segment with that index (1-based) by StallFor.
	StallSegment int
	StallFor     time.Duration

	// DropEvery makes the UDP echo drop every n-th datagram.
	DropEvery int

	Logger *slog.Logger
}

// Server implements the measurement endpoints.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	payload  []byte

	mu      sync.Mutex
	udpConn net.PacketConn
	udpDone chan struct{}

	uploaded atomic.Int64
	echoed   atomic.Int64
}

// New returns a server with opts.
func New(opts Options) *Server {
	if opts.MediaSize <= 0 {
		opts.MediaSize = defaultMediaSize
	}
	if opts.Segments <= 0 {
		opts.Segments = defaultSegments
	}
	if opts.SegmentDuration <= 0 {
		opts.SegmentDuration = defaultSegmentDuration
	}
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = defaultSegmentSize
	}
	payload := make([]byte, writeChunkSize)
	for i := range payload {
		payload[i] = 'a' + byte(i%26)
	}
	return &Server{
		opts:     opts,
		logger:   logging.OrDiscard(opts.Logger),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		payload:  payload,
	}
}

// Handler returns the HTTP and WebSocket routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/latency", s.handleLatency)
	mux.HandleFunc("/signal", s.handleSignal)
	mux.HandleFunc("/stream/", s.handleStream)
	return mux
}

// Uploaded returns the number of upload bytes received.
func (s *Server) Uploaded() int64 { return s.uploaded.Load() }

// Echoed returns the number of datagrams echoed.
func (s *Server) Echoed() int64 { return s.echoed.Load() }

// ListenUDP starts the datagram echo on addr and returns the bound address.
func (s *Server) ListenUDP(addr string) (net.Addr, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.udpConn = conn
	s.udpDone = done
	s.mu.Unlock()

	go s.serveUDP(conn, done)
	return conn.LocalAddr(), nil
}

func (s *Server) serveUDP(conn net.PacketConn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 64<<10)
	var n int64
	for {
		size, from, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("udp echo stopped", "error", err)
			}
			return
		}
		n++
		if s.opts.DropEvery > 0 && n%int64(s.opts.DropEvery) == 0 {
			continue
		}
		if _, err := conn.WriteTo(buf[:size], from); err != nil {
			s.logger.Debug("udp echo write failed", "error", err)
			continue
		}
		s.echoed.Add(1)
	}
}

// Close stops the datagram echo.
func (s *Server) Close() error {
	s.mu.Lock()
	conn, done := s.udpConn, s.udpDone
	s.udpConn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

func (s *Server) udpAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpConn == nil {
		return nil
	}
	return s.udpConn.LocalAddr()
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	size, err := sizeParam(r, "size", defaultDownloadSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	s.writeBody(r.Context(), w, size, s.opts.DownloadRate)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	n, err := io.Copy(io.Discard, r.Body)
	s.uploaded.Add(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, "{\"received\":%d}\n", n)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if probe := r.Header.Get(probeHeader); probe != "" {
		w.Header().Set(probeHeader, probe)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

// signal mirrors the client's signaling message.
type signal struct {
	Type      string `json:"type"`
	Session   string `json:"session"`
	Candidate string `json:"candidate,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var offer signal
	if err := conn.ReadJSON(&offer); err != nil {
		return
	}
	answer := signal{Type: "answer", Session: offer.Session}
	switch addr := s.udpAddr(); {
	case offer.Type != "offer":
		answer = signal{Type: "error", Session: offer.Session, Error: "expected offer"}
	case addr == nil:
		answer = signal{Type: "error", Session: offer.Session, Error: "datagram path unavailable"}
	default:
		answer.Candidate = addr.String()
	}
	if err := conn.WriteJSON(answer); err != nil {
		return
	}
	s.logger.Debug("signaling answered", "session", offer.Session, "type", answer.Type)

	// Hold the channel open until the client leaves.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeBody writes size bytes, throttled to bytesPerSecond when positive.
func (s *Server) writeBody(ctx context.Context, w http.ResponseWriter, size int64, bytesPerSecond int) {
	var limiter *rate.Limiter
	if bytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), max(bytesPerSecond, writeChunkSize))
	}
	flusher, _ := w.(http.Flusher)
	for remaining := size; remaining > 0; {
		n := min(remaining, int64(len(s.payload)))
		if limiter != nil {
			if err := limiter.WaitN(ctx, int(n)); err != nil {
				return
			}
		}
		if _, err := w.Write(s.payload[:n]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		remaining -= n
	}
}

func sizeParam(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}
