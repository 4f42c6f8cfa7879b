package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/dashboard"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/output"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/runner"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/threshold"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/tracing"
)

const (
	progressInterval = time.Second
	baseRetryDelay   = 100 * time.Millisecond
	maxRetryDelay    = 5 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	logger := logging.New(stderr, cfg.LogLevel)

	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.Run{Server: cfg.Server.URL, Version: version})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	measurements, err := newMeasurements(cfg, tp, logger)
	if err != nil {
		return err
	}

	r := runner.New(runner.Options{
		Server:       cfg.Server.URL,
		Measurements: measurements,
		Retry:        newRetryPolicy(cfg.Retries),
		Logger:       logger,
		Tracer:       tp.Tracer(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Live views must stop before the report is written to stdout.
	stopLive := func() {}
	if cfg.Dashboard {
		dash, err := dashboard.New(r.Status(), dashboardConfig(cfg), cancel)
		if err != nil {
			return err
		}
		dash.Start()
		stopLive = dash.Stop
	} else if !cfg.JSONOutput && !cfg.YAMLOutput {
		progress := output.NewProgressReporter(r.Status(), progressInterval, stdout)
		progress.Start()
		stopLive = progress.Stop
	}

	report := r.Run(ctx)
	stopLive()
	results := threshold.NewEvaluator(thresholds).Evaluate(report)

	return finish(cfg, report, results, stdout, logger)
}

func finish(cfg *config.Config, report runner.Report, results []threshold.Result, stdout io.Writer, logger *slog.Logger) error {
	switch {
	case cfg.JSONOutput:
		if err := output.PrintJSONReport(stdout, report, results); err != nil {
			return err
		}
	case cfg.YAMLOutput:
		if err := output.PrintYAMLReport(stdout, report, results); err != nil {
			return err
		}
	default:
		output.PrintReport(stdout, report, results)
	}

	if report.Cancelled {
		return errors.New("run cancelled")
	}
	failed := 0
	for _, o := range report.Outcomes {
		if !o.Success {
			failed++
			logger.Debug("action failed", "action", string(o.Action), "error", o.Error)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d actions failed", failed, len(report.Outcomes))
	}
	if !threshold.Passed(results) {
		return errors.New("thresholds failed")
	}
	return nil
}

func newRetryPolicy(retries int) runner.RetryPolicy {
	return runner.RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: runner.DefaultShouldRetry,
		DelayFunc:   runner.ExponentialBackoff(baseRetryDelay, maxRetryDelay),
	}
}

func dashboardConfig(cfg *config.Config) dashboard.RunConfig {
	actions := make([]config.ActionType, len(cfg.Actions))
	for i, a := range cfg.Actions {
		actions[i] = a.Type
	}
	return dashboard.RunConfig{
		Server:     cfg.Server.URL,
		Actions:    actions,
		Retries:    cfg.Retries,
		ConfigFile: cfg.ConfigFile,
	}
}
