package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/live"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/logging"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/tracing"
)

// Report captures execution summary.
type Report struct {
	ID        string        `json:"id" yaml:"id"`
	Server    string        `json:"server,omitempty" yaml:"server,omitempty"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Cancelled bool          `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Outcomes  []Outcome     `json:"outcomes" yaml:"outcomes"`
}

// Success reports whether every action completed successfully.
func (r Report) Success() bool {
	if r.Cancelled || len(r.Outcomes) == 0 {
		return false
	}
	for _, o := range r.Outcomes {
		if !o.Success {
			return false
		}
	}
	return true
}

// Status is the live state of a run.
type Status struct {
	ReportID  string
	Index     int // 0-based index of the running action
	Total     int
	Action    config.ActionType
	Attempt   int
	Completed int
	Progress  Progress
	Done      bool
}

// Options configure the Runner.
type Options struct {
	Server       string
	Measurements []Measurement
	Retry        RetryPolicy
	Logger       *slog.Logger
	Tracer       trace.Tracer
}

// Runner executes the actions of a scenario in order.
type Runner struct {
	opt    Options
	logger *slog.Logger
	tracer trace.Tracer
	status *live.Value[Status]
	now    func() time.Time
}

func New(opt Options) *Runner {
	if opt.Retry.ShouldRetry == nil {
		opt.Retry.ShouldRetry = DefaultShouldRetry
	}
	tracer := opt.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Runner{
		opt:    opt,
		logger: logging.OrDiscard(opt.Logger),
		tracer: tracer,
		status: live.NewValue(Status{Total: len(opt.Measurements)}),
		now:    time.Now,
	}
}

// Status publishes the live run state.
func (r *Runner) Status() *live.Value[Status] {
	return r.status
}

// Run executes every measurement and returns the report. Cancelling ctx
// stops the running action, which keeps its partial result, and skips the
// remaining ones.
func (r *Runner) Run(ctx context.Context) Report {
	report := Report{
		ID:        ulid.Make().String(),
		Server:    r.opt.Server,
		StartedAt: r.now(),
		Outcomes:  make([]Outcome, 0, len(r.opt.Measurements)),
	}
	status := Status{ReportID: report.ID, Total: len(r.opt.Measurements)}
	r.status.Set(status)
	r.logger.Info("run started", "id", report.ID, "actions", status.Total)

	for i, m := range r.opt.Measurements {
		if ctx.Err() != nil {
			break
		}
		status.Index, status.Action, status.Attempt = i, m.Kind(), 0
		status.Progress = Progress{}
		r.status.Set(status)

		outcome := r.runOne(ctx, m, &status)
		report.Outcomes = append(report.Outcomes, outcome)
		status.Completed++
		r.status.Set(status)
	}

	report.Duration = r.now().Sub(report.StartedAt)
	report.Cancelled = errors.Is(ctx.Err(), context.Canceled)
	status.Done = true
	r.status.Set(status)
	r.logger.Info("run finished", "id", report.ID, "success", report.Success(), "duration", report.Duration)
	return report
}

func (r *Runner) runOne(ctx context.Context, m Measurement, status *Status) Outcome {
	logger := r.logger.With("action", string(m.Kind()))
	ctx, span := tracing.StartActionSpan(ctx, r.tracer, string(m.Kind()), m.Target())

	start := r.now()
	var outcome Outcome
	attempts, err := retry(ctx, r.opt.Retry, func(ctx context.Context, attempt int) error {
		status.Attempt = attempt
		status.Progress = Progress{}
		r.status.Set(*status)
		if attempt > 1 {
			logger.Info("retrying action", "attempt", attempt)
		}

		res, err := m.Run(ctx, func(p Progress) {
			s := *status
			s.Progress = p
			r.status.Set(s)
		})
		outcome = res
		if err != nil {
			logger.Warn("action failed", "attempt", attempt, "error", err)
		}
		return err
	})

	outcome.Action = m.Kind()
	outcome.Target = m.Target()
	outcome.Attempts = attempts
	outcome.StartedAt = start
	outcome.Duration = r.now().Sub(start)
	if err != nil {
		outcome.Success = false
		outcome.Error = err.Error()
		outcome.Cancelled = outcome.Cancelled || errors.Is(ctx.Err(), context.Canceled)
	}
	tracing.EndSpan(span, err,
		attribute.Bool("webtester.success", outcome.Success),
		attribute.Int("webtester.attempts", attempts),
	)
	return outcome
}
