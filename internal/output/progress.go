package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/live"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/runner"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	status   *live.Value[runner.Status]
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(status *live.Value[runner.Status], interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		status:   status,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the progress line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+FormatStatus(p.status.Load(), time.Since(p.start)))
		case <-p.done:
			return
		}
	}
}

// FormatStatus renders one progress line.
func FormatStatus(s runner.Status, elapsed time.Duration) string {
	if s.Total == 0 {
		return fmt.Sprintf("Waiting | Elapsed: %s", elapsed.Truncate(time.Second))
	}
	if s.Done {
		return fmt.Sprintf("Completed %d/%d actions | Elapsed: %s", s.Completed, s.Total, elapsed.Truncate(time.Second))
	}
	line := fmt.Sprintf("[%d/%d] %s | %3.0f%%", s.Index+1, s.Total, s.Action, s.Progress.Percent)
	if s.Attempt > 1 {
		line += fmt.Sprintf(" | attempt %d", s.Attempt)
	}
	if s.Progress.Unit != "" {
		line += fmt.Sprintf(" | %.2f %s", s.Progress.Value, s.Progress.Unit)
	}
	return line + fmt.Sprintf(" | Elapsed: %s", elapsed.Truncate(time.Second))
}
