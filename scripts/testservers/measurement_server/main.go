// Command measurement_server runs the reference measurement server on one
// HTTP port and one UDP port.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/echoserver"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
)

func main() {
	flags := pflag.NewFlagSet("measurement_server", pflag.ExitOnError)
	addr := flags.String("addr", ":8080", "HTTP and WebSocket listen address")
	udpAddr := flags.String("udp-addr", ":8081", "UDP echo listen address (empty disables the datagram tier)")
	downloadRate := flags.Int("download-rate", 0, "Download bytes per second (0 = unlimited)")
	mediaRate := flags.Int("media-rate", 0, "Media bytes per second (0 = unlimited)")
	segments := flags.Int("segments", 5, "HLS segments in /stream/index.m3u8")
	segmentDuration := flags.Duration("segment-duration", time.Second, "Media time per HLS segment")
	stallSegment := flags.Int("stall-segment", 0, "HLS segment to delay (1-based, 0 = none)")
	stallFor := flags.Duration("stall-for", 0, "Delay applied to the stalled segment")
	dropEvery := flags.Int("drop-every", 0, "Drop every n-th UDP datagram (0 = none)")
	logLevel := flags.String("log-level", "info", "Log level: debug, info, warn or error")
	_ = flags.Parse(os.Args[1:])

	logger := logging.New(os.Stderr, *logLevel)
	srv := echoserver.New(echoserver.Options{
		DownloadRate:    *downloadRate,
		MediaRate:       *mediaRate,
		Segments:        *segments,
		SegmentDuration: *segmentDuration,
		StallSegment:    *stallSegment,
		StallFor:        *stallFor,
		DropEvery:       *dropEvery,
		Logger:          logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, srv, *addr, *udpAddr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, srv *echoserver.Server, addr, udpAddr string) error {
	if udpAddr != "" {
		bound, err := srv.ListenUDP(udpAddr)
		if err != nil {
			return fmt.Errorf("udp listen: %w", err)
		}
		defer srv.Close()
		fmt.Fprintf(os.Stderr, "udp echo on %s\n", bound)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	fmt.Fprintf(os.Stderr, "http on %s\n", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
