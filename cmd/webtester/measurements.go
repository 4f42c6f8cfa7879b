package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/auth"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/bandwidth"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/httpclient"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/latency"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/runner"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/streaming"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/tracing"
)

// newMeasurements builds one runner measurement per scenario action. All
// actions share one HTTP client; every request is bounded by the action's
// context rather than a client timeout.
func newMeasurements(cfg *config.Config, tp *tracing.Provider, logger *slog.Logger) ([]runner.Measurement, error) {
	provider := auth.New(cfg.Auth.Token, cfg.Auth.HMACKeyID, cfg.Auth.HMACSecret)
	builder := httpclient.NewRequestBuilder(provider, tp.ShouldPropagate())
	client := httpclient.NewClient(0)
	handshake := latency.Handshake{Headers: websocketHeaders(cfg.Auth), Propagate: tp.ShouldPropagate()}
	server := cfg.Server
	logger = logging.OrDiscard(logger)

	measurements := make([]runner.Measurement, 0, len(cfg.Actions))
	for i, action := range cfg.Actions {
		m := action.Measurement
		actionLogger := logger.With("index", i)
		switch action.Type {
		case config.ActionDownload, config.ActionUpload:
			kind := action.Type
			measurements = append(measurements, runner.Bandwidth(kind, server.URL, func() (*bandwidth.Tester, error) {
				tr, err := bandwidth.NewTransferer(kind, server, m, client, builder)
				if err != nil {
					return nil, err
				}
				return bandwidth.New(bandwidth.Options{
					Kind:        kind,
					Measurement: m,
					Transferer:  tr,
					Logger:      actionLogger,
				}), nil
			}))
		case config.ActionLatency:
			measurements = append(measurements, runner.Latency(server.URL, func() (*latency.Prober, error) {
				transports, err := latency.NewTransports(server, m, client, builder, handshake, actionLogger)
				if err != nil {
					return nil, err
				}
				return latency.New(latency.Options{
					Measurement: m,
					Transports:  transports,
					Logger:      actionLogger,
					Tracer:      tp.Tracer(),
				}), nil
			}))
		case config.ActionStreaming:
			measurements = append(measurements, runner.Streaming(streaming.MediaURL(server, m), func() (*streaming.Monitor, error) {
				return streaming.NewMonitor(server, m, client, builder, actionLogger), nil
			}))
		default:
			return nil, fmt.Errorf("actions[%d]: unsupported action type %q", i, action.Type)
		}
	}
	return measurements, nil
}

// websocketHeaders carries the bearer token on WebSocket handshakes. HMAC
// signatures cover plain HTTP requests only.
func websocketHeaders(a config.AuthConfig) http.Header {
	if a.Token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.Token)
	return h
}
