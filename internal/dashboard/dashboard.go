package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/live"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/runner"
)

const historySize = 100

// RunConfig holds scenario parameters for display.
type RunConfig struct {
	Server     string              // Measurement server URL
	Actions    []config.ActionType // Scenario actions in order
	Retries    int                 // Retries per action
	ConfigFile string              // Path to config file if used
}

// Dashboard renders a live terminal UI for a measurement run.
type Dashboard struct {
	status       *live.Value[runner.Status]
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	// Widgets
	grid          *ui.Grid
	summaryPara   *widgets.Paragraph
	progressGauge *widgets.Gauge
	valueSparkle  *widgets.SparklineGroup
	valuePara     *widgets.Paragraph
	actionList    *widgets.List

	history    []float64
	historyFor int
	startTime  time.Time
	cfg        RunConfig
}

// New creates a new Dashboard.
func New(status *live.Value[runner.Status], cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		status:       status,
		ctx:          ctx,
		cancel:       cancel,
		shutdownFunc: shutdownFunc,
		history:      make([]float64, 0, historySize),
		historyFor:   -1,
		startTime:    time.Now(),
		cfg:          cfg,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

// initWidgets initializes all dashboard widgets.
func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.progressGauge = widgets.NewGauge()
	d.progressGauge.Title = "Action Progress"
	d.progressGauge.Percent = 0
	d.progressGauge.BarColor = ui.ColorBlue
	d.progressGauge.BorderStyle.Fg = ui.ColorCyan
	d.progressGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	sparkline := widgets.NewSparkline()
	sparkline.Title = "Live value"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.valueSparkle = widgets.NewSparklineGroup(sparkline)
	d.valueSparkle.Title = "Live Measurement"
	d.valueSparkle.BorderStyle.Fg = ui.ColorCyan

	d.valuePara = widgets.NewParagraph()
	d.valuePara.Title = "Current"
	d.valuePara.Text = "Waiting for data..."
	d.valuePara.BorderStyle.Fg = ui.ColorCyan

	d.actionList = widgets.NewList()
	d.actionList.Title = "Actions"
	d.actionList.Rows = formatActionRows(d.cfg.Actions, runner.Status{})
	d.actionList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.actionList.BorderStyle.Fg = ui.ColorCyan
}

// setupGrid configures the layout grid.
func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.18,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.progressGauge),
		),
		ui.NewRow(0.36,
			ui.NewCol(0.65, d.valueSparkle),
			ui.NewCol(0.35, d.valuePara),
		),
		ui.NewRow(0.32,
			ui.NewCol(1.0, d.actionList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and cleans up.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// run is the main dashboard update loop.
func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			// Drain any remaining events
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			// Check if context is done to avoid blocking
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Do not return here; wait for Stop() to cancel context
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case s := <-d.status.Updates():
			d.update(s)
			d.render()
		case <-ticker.C:
			d.update(d.status.Load())
			d.render()
		}
	}
}

// update refreshes all widget data from the run status.
func (d *Dashboard) update(s runner.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)
	d.summaryPara.Text = formatSummary(d.cfg, s, elapsed)

	d.progressGauge.Percent = clampPercent(s.Progress.Percent)
	if s.Total > 0 && !s.Done {
		d.progressGauge.Label = fmt.Sprintf("%s %d%%", s.Action, d.progressGauge.Percent)
	} else {
		d.progressGauge.Label = fmt.Sprintf("%d%%", d.progressGauge.Percent)
	}

	// The sparkline follows the running action only.
	if s.Index != d.historyFor {
		d.history = d.history[:0]
		d.historyFor = s.Index
	}
	if s.Progress.Unit != "" {
		d.history = appendHistory(d.history, s.Progress.Value)
		d.valueSparkle.Sparklines[0].Data = d.history
		d.valueSparkle.Sparklines[0].Title = s.Progress.Unit
		d.valueSparkle.Title = fmt.Sprintf("Live %s | Current: %.2f %s", s.Action, s.Progress.Value, s.Progress.Unit)
		d.valuePara.Text = formatHistoryStats(d.history, s.Progress.Unit)
	} else {
		d.valueSparkle.Title = "Live Measurement"
		d.valuePara.Text = "No live value for this action"
	}

	d.actionList.Rows = formatActionRows(d.cfg.Actions, s)
}

// render draws all widgets to the screen.
func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func formatSummary(cfg RunConfig, s runner.Status, elapsed time.Duration) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Actions: %d", len(cfg.Actions)))
	if cfg.Retries > 0 {
		parts = append(parts, fmt.Sprintf("Retries: %d", cfg.Retries))
	}
	if cfg.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", cfg.ConfigFile))
	}

	state := "running"
	if s.Done {
		state = "finished"
	}
	return fmt.Sprintf(
		"Server: %s\nRun: %s | %s\nElapsed: %s | Completed: %d/%d | %s",
		cfg.Server,
		s.ReportID,
		strings.Join(parts, " | "),
		elapsed.Round(time.Second),
		s.Completed,
		s.Total,
		state,
	)
}

func formatActionRows(actions []config.ActionType, s runner.Status) []string {
	if len(actions) == 0 {
		return []string{"[No actions](fg:yellow)"}
	}
	rows := make([]string, 0, len(actions))
	for i, action := range actions {
		switch {
		case i < s.Completed:
			rows = append(rows, fmt.Sprintf("[%d. %s](fg:green) done", i+1, action))
		case i == s.Index && s.Total > 0 && !s.Done:
			line := fmt.Sprintf("[%d. %s](fg:yellow,mod:bold) running %.0f%%", i+1, action, s.Progress.Percent)
			if s.Attempt > 1 {
				line += fmt.Sprintf(" (attempt %d)", s.Attempt)
			}
			rows = append(rows, line)
		default:
			rows = append(rows, fmt.Sprintf("[%d. %s](fg:white) pending", i+1, action))
		}
	}
	return rows
}

func appendHistory(history []float64, v float64) []float64 {
	history = append(history, v)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func formatHistoryStats(history []float64, unit string) string {
	if len(history) == 0 {
		return "Waiting for data..."
	}
	lo, hi, sum := history[0], history[0], 0.0
	for _, v := range history {
		lo = min(lo, v)
		hi = max(hi, v)
		sum += v
	}
	return fmt.Sprintf(
		"Current: %.2f %s\nMin:     %.2f %s\nMean:    %.2f %s\nMax:     %.2f %s",
		history[len(history)-1], unit,
		lo, unit,
		sum/float64(len(history)), unit,
		hi, unit,
	)
}

func clampPercent(p float64) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return int(p)
	}
}
