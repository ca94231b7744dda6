package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/tpbench/internal/metrics"
	"github.com/torosent/tpbench/internal/round"
)

const (
	historyLen = 100
	maxRows    = 8
)

// RunConfig holds benchmark parameters for display.
type RunConfig struct {
	Profile    string
	Role       string
	Transport  string
	Topic      string
	Rounds     int
	Rate       int // messages per second (0 = unlimited)
	Loopback   bool
	ConfigFile string
}

// Source supplies live progress and completed rounds. *runner.Runner
// implements it.
type Source interface {
	Progress() []round.Progress
	Summaries() []metrics.RoundSummary
}

// Dashboard renders a live terminal UI for a benchmark run.
type Dashboard struct {
	source       Source
	cpu          func() float64
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	// Widgets
	grid          *ui.Grid
	headerPara    *widgets.Paragraph
	cpuSparkle    *widgets.SparklineGroup
	sentGauge     *widgets.Gauge
	receivedGauge *widgets.Gauge
	statePara     *widgets.Paragraph
	roundTable    *widgets.Table
	cpuHistory    []float64
	startTime     time.Time
	cfg           RunConfig
}

// New creates a new Dashboard. cpu reports the latest process CPU sample
// and may be nil. shutdownFunc is called when the user presses q.
func New(source Source, cpu func() float64, cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		source:       source,
		cpu:          cpu,
		ctx:          ctx,
		cancel:       cancel,
		shutdownFunc: shutdownFunc,
		cpuHistory:   make([]float64, 0, historyLen),
		startTime:    time.Now(),
		cfg:          cfg,
	}

	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	d.headerPara = widgets.NewParagraph()
	d.headerPara.Title = "tpbench"
	d.headerPara.Text = "Initializing..."
	d.headerPara.BorderStyle.Fg = ui.ColorCyan

	sparkline := widgets.NewSparkline()
	sparkline.Title = "CPU %"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}
	d.cpuSparkle = widgets.NewSparklineGroup(sparkline)
	d.cpuSparkle.Title = "Process CPU"
	d.cpuSparkle.BorderStyle.Fg = ui.ColorCyan

	d.sentGauge = widgets.NewGauge()
	d.sentGauge.Title = "Sent"
	d.sentGauge.BarColor = ui.ColorBlue
	d.sentGauge.BorderStyle.Fg = ui.ColorCyan
	d.sentGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.receivedGauge = widgets.NewGauge()
	d.receivedGauge.Title = "Received"
	d.receivedGauge.BarColor = ui.ColorGreen
	d.receivedGauge.BorderStyle.Fg = ui.ColorCyan
	d.receivedGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.statePara = widgets.NewParagraph()
	d.statePara.Title = "Controllers"
	d.statePara.Text = "Waiting for data..."
	d.statePara.BorderStyle.Fg = ui.ColorCyan

	d.roundTable = widgets.NewTable()
	d.roundTable.Title = "Completed Rounds"
	d.roundTable.Rows = [][]string{roundHeader}
	d.roundTable.TextStyle = ui.NewStyle(ui.ColorWhite)
	d.roundTable.RowSeparator = false
	d.roundTable.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.headerPara),
		),
		ui.NewRow(0.14,
			ui.NewCol(0.5, d.sentGauge),
			ui.NewCol(0.5, d.receivedGauge),
		),
		ui.NewRow(0.30,
			ui.NewCol(0.65, d.cpuSparkle),
			ui.NewCol(0.35, d.statePara),
		),
		ui.NewRow(0.42,
			ui.NewCol(1.0, d.roundTable),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop() cancels the context once the run unwinds.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	progress := d.source.Progress()
	summaries := d.source.Summaries()

	if d.cpu != nil {
		d.cpuHistory = appendHistory(d.cpuHistory, d.cpu(), historyLen)
		d.cpuSparkle.Sparklines[0].Data = d.cpuHistory
		d.cpuSparkle.Title = fmt.Sprintf("Process CPU | Current: %.1f%%", d.cpuHistory[len(d.cpuHistory)-1])
	}

	sent, received := current(progress)
	d.sentGauge.Percent = gaugePercent(sent.Sent, sent.Expected)
	d.sentGauge.Label = fmt.Sprintf("%d / %d", sent.Sent, sent.Expected)
	d.receivedGauge.Percent = gaugePercent(received.Received, received.Expected)
	d.receivedGauge.Label = fmt.Sprintf("%d / %d", received.Received, received.Expected)

	d.headerPara.Text = fmt.Sprintf("%s\nElapsed: %s | Rounds done: %d/%d | [q](fg:yellow) to stop",
		formatParams(d.cfg),
		time.Since(d.startTime).Round(time.Second),
		len(summaries), d.expectedRounds(),
	)
	d.statePara.Text = formatStates(progress)
	d.roundTable.Rows = formatRoundRows(summaries, maxRows)
}

func (d *Dashboard) expectedRounds() int {
	if d.cfg.Loopback {
		return d.cfg.Rounds * 2
	}
	return d.cfg.Rounds
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

// current picks the controllers furthest along in sending and receiving.
func current(progress []round.Progress) (sent, received round.Progress) {
	for i, p := range progress {
		if i == 0 || p.Sent > sent.Sent {
			sent = p
		}
		if i == 0 || p.Received > received.Received {
			received = p
		}
	}
	return sent, received
}

func gaugePercent(done, total int64) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	pct := int(done * 100 / total)
	if pct > 100 {
		return 100
	}
	return pct
}

func appendHistory(history []float64, v float64, limit int) []float64 {
	if v < 0 {
		v = 0
	}
	history = append(history, v)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

var roundHeader = []string{"Round", "Role", "Delivered", "Loss %", "Msgs/s", "Mbps", "P99", "CPU"}

// formatRoundRows renders the most recent rounds, newest last.
func formatRoundRows(summaries []metrics.RoundSummary, limit int) [][]string {
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[len(summaries)-limit:]
	}
	rows := make([][]string, 0, len(summaries)+1)
	rows = append(rows, roundHeader)
	for _, s := range summaries {
		p99 := "-"
		if s.Latency.Count > 0 {
			p99 = fmt.Sprintf("%.2fms", s.Latency.P99Ms)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.Round),
			string(s.Role),
			fmt.Sprintf("%d/%d", s.Delivered, s.Expected),
			fmt.Sprintf("%.2f", s.LossRate),
			fmt.Sprintf("%.0f", s.Throughput),
			fmt.Sprintf("%.2f", s.BandwidthMbps),
			p99,
			s.CPUPeakLabel(),
		})
	}
	return rows
}

func formatStates(progress []round.Progress) string {
	if len(progress) == 0 {
		return "Waiting for data..."
	}
	lines := make([]string, 0, len(progress))
	for _, p := range progress {
		lines = append(lines, fmt.Sprintf("Round %d: [%s](fg:yellow)", p.Round, p.State))
	}
	return strings.Join(lines, "\n")
}

// formatParams formats the run configuration for the header.
func formatParams(cfg RunConfig) string {
	var parts []string

	if cfg.Profile != "" {
		parts = append(parts, fmt.Sprintf("Profile: %s", cfg.Profile))
	}
	if cfg.Role != "" {
		role := cfg.Role
		if cfg.Loopback {
			role += " + peer"
		}
		parts = append(parts, fmt.Sprintf("Role: %s", role))
	}
	if cfg.Transport != "" {
		parts = append(parts, fmt.Sprintf("Transport: %s", cfg.Transport))
	}
	if cfg.Topic != "" {
		parts = append(parts, fmt.Sprintf("Topic: %s", cfg.Topic))
	}
	if cfg.Rate > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %d/s", cfg.Rate))
	} else {
		parts = append(parts, "Rate: unlimited")
	}
	if cfg.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", cfg.ConfigFile))
	}

	return strings.Join(parts, " | ")
}
