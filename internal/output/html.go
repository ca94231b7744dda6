package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/metrics"
	"github.com/torosent/tpbench/internal/threshold"
)

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt      string
	Metadata         ReportMetadata
	Rounds           []metrics.RoundSummary
	Totals           RunTotals
	ThresholdSummary *ThresholdSummary
	CPUSeriesJSON    string
}

// ReportMetadata describes the run configuration shown in the header.
type ReportMetadata struct {
	RunID     string
	Profile   string
	Transport string
	Topic     string
	Loopback  bool
}

// RunTotals sums message counters across rounds.
type RunTotals struct {
	Expected  int
	Delivered int
	Lost      int
	LossRate  float64
}

// cpuSeries is one round's CPU history as plotted.
type cpuSeries struct {
	Label   string    `json:"label"`
	Samples []float64 `json:"samples"`
}

// Totals sums subscriber rounds, or all rounds when no subscriber ran.
func Totals(rounds []metrics.RoundSummary) RunTotals {
	var t RunTotals
	subscribers := false
	for _, r := range rounds {
		if r.Role == config.RoleSubscriber {
			subscribers = true
			break
		}
	}
	for _, r := range rounds {
		if subscribers && r.Role != config.RoleSubscriber {
			continue
		}
		t.Expected += r.Expected
		t.Delivered += r.Delivered
		t.Lost += r.Lost
	}
	if t.Expected > 0 {
		t.LossRate = float64(t.Lost) / float64(t.Expected) * 100
	}
	return t
}

// GenerateHTMLReport generates a standalone HTML report with a per-round
// table and CPU history charts.
func GenerateHTMLReport(w io.Writer, rounds []metrics.RoundSummary, thresholdResults []threshold.Result, metadata ReportMetadata) error {
	series := make([]cpuSeries, 0, len(rounds))
	for _, r := range rounds {
		if len(r.CPUHistory) == 0 {
			continue
		}
		series = append(series, cpuSeries{
			Label:   fmt.Sprintf("Round %d (%s)", r.Round, r.Role),
			Samples: r.CPUHistory,
		})
	}
	seriesJSON, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("failed to marshal cpu history: %w", err)
	}

	data := HTMLReportData{
		GeneratedAt:      time.Now().Format(time.RFC3339),
		Metadata:         metadata,
		Rounds:           rounds,
		Totals:           Totals(rounds),
		ThresholdSummary: SummarizeThresholds(thresholdResults),
	}
	if len(series) > 0 {
		data.CPUSeriesJSON = string(seriesJSON)
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			return d.Round(time.Microsecond).String()
		},
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>tpbench Report</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; background: #f4f6f8; color: #1f2933; margin: 0; padding: 20px; }
        .container { max-width: 1400px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.1); }
        header { background: #1e3a5f; color: white; padding: 24px 40px; border-radius: 8px 8px 0 0; }
        header .meta { opacity: 0.85; font-size: 0.9rem; }
        .content { padding: 32px 40px; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(220px, 1fr)); gap: 16px; margin-bottom: 32px; }
        .card { background: #f8f9fa; border-radius: 8px; padding: 16px; border-left: 4px solid #1e3a5f; }
        .card h3 { font-size: 0.8rem; color: #6c757d; text-transform: uppercase; margin: 0 0 8px; }
        .card .value { font-size: 1.8rem; font-weight: bold; }
        .card.error { border-left-color: #ef4444; }
        .section { margin-bottom: 32px; }
        .section h2 { border-bottom: 2px solid #e5e7eb; padding-bottom: 8px; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: right; padding: 8px 10px; border-bottom: 1px solid #e5e7eb; font-size: 0.9rem; }
        th:first-child, td:first-child { text-align: left; }
        th { background: #f8f9fa; color: #4b5563; text-transform: uppercase; font-size: 0.75rem; }
        .badge { display: inline-block; padding: 2px 10px; border-radius: 10px; font-size: 0.8rem; font-weight: 600; }
        .badge-success { background: #d1fae5; color: #065f46; }
        .badge-error { background: #fee2e2; color: #991b1b; }
        .badge-skip { background: #e5e7eb; color: #374151; }
        .chart { width: 100%; height: 300px; }
        .no-data { text-align: center; padding: 32px; color: #6c757d; font-style: italic; }
    </style>
    {{if .CPUSeriesJSON}}
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
    {{end}}
</head>
<body>
    <div class="container">
        <header>
            <h1>tpbench Report: {{.Metadata.Profile}}</h1>
            <div class="meta">Run {{.Metadata.RunID}} | Transport: {{.Metadata.Transport}}{{if .Metadata.Topic}} | Topic: {{.Metadata.Topic}}{{end}}{{if .Metadata.Loopback}} | loopback{{end}}</div>
            <div class="meta">Generated: {{.GeneratedAt}}</div>
        </header>

        <div class="content">
            <div class="grid">
                <div class="card">
                    <h3>Rounds</h3>
                    <div class="value">{{len .Rounds}}</div>
                </div>
                <div class="card">
                    <h3>Expected</h3>
                    <div class="value">{{.Totals.Expected}}</div>
                </div>
                <div class="card">
                    <h3>Delivered</h3>
                    <div class="value">{{.Totals.Delivered}}</div>
                </div>
                <div class="card{{if .Totals.Lost}} error{{end}}">
                    <h3>Lost</h3>
                    <div class="value">{{.Totals.Lost}} ({{formatFloat .Totals.LossRate}}%)</div>
                </div>
            </div>

            <div class="section">
                <h2>Rounds</h2>
                {{if .Rounds}}
                <table>
                    <thead>
                        <tr>
                            <th>Round</th>
                            <th>Role</th>
                            <th>Size</th>
                            <th>Expected</th>
                            <th>Delivered</th>
                            <th>Loss %</th>
                            <th>Duration</th>
                            <th>Msgs/s</th>
                            <th>Mbps</th>
                            <th>P99 Latency</th>
                            <th>CPU Peak</th>
                            <th>Working Set +KB</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Rounds}}
                        <tr>
                            <td><strong>{{.Round}}</strong></td>
                            <td>{{.Role}}</td>
                            <td>{{.MinSize}}-{{.MaxSize}}</td>
                            <td>{{.Expected}}</td>
                            <td>{{.Delivered}}</td>
                            <td>{{formatFloat .LossRate}}</td>
                            <td>{{formatDuration .Elapsed}}</td>
                            <td>{{formatFloat .Throughput}}</td>
                            <td>{{formatFloat .BandwidthMbps}}</td>
                            <td>{{if .Latency.Count}}{{formatDuration .Latency.P99}}{{else}}-{{end}}</td>
                            <td>{{.CPUPeakLabel}}</td>
                            <td>{{.WorkingSetDeltaKB}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
                {{else}}
                <div class="no-data">No rounds completed.</div>
                {{end}}
            </div>

            {{if .CPUSeriesJSON}}
            <div class="section">
                <h2>CPU History</h2>
                <div id="cpu-chart" class="chart"></div>
            </div>
            {{end}}

            {{if .ThresholdSummary}}
            <div class="section">
                <h2>Thresholds ({{.ThresholdSummary.Passed}}/{{.ThresholdSummary.Total}} Passed)</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Threshold</th>
                            <th>Round</th>
                            <th>Expected</th>
                            <th>Actual</th>
                            <th>Status</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .ThresholdSummary.Results}}
                        <tr>
                            <td>{{.Threshold}}</td>
                            <td>{{.Round}} ({{.Role}})</td>
                            <td>{{.Operator}} {{formatFloat .Expected}}</td>
                            <td>{{formatFloat .Actual}}</td>
                            <td>
                                {{if .Skipped}}
                                <span class="badge badge-skip">- SKIP</span>
                                {{else if .Pass}}
                                <span class="badge badge-success">✓ PASS</span>
                                {{else}}
                                <span class="badge badge-error">✗ FAIL</span>
                                {{end}}
                            </td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>

    {{if .CPUSeriesJSON}}
    <script>
        const series = JSON.parse({{.CPUSeriesJSON}});
        const longest = Math.max(...series.map(s => s.samples.length));
        const xs = Array.from({length: longest}, (_, i) => i);
        const palette = ["#1e3a5f", "#10b981", "#f59e0b", "#ef4444", "#8b5cf6", "#0ea5e9"];
        const data = [xs].concat(series.map(s => xs.map(i => i < s.samples.length ? s.samples[i] : null)));
        const el = document.getElementById('cpu-chart');
        new uPlot({
            width: el.offsetWidth,
            height: 300,
            scales: { x: { time: false } },
            series: [{ label: "Sample" }].concat(series.map((s, i) => ({
                label: s.label,
                stroke: palette[i % palette.length],
                width: 2
            }))),
            axes: [
                { label: "Sample" },
                { label: "CPU %" }
            ]
        }, data, el);
    </script>
    {{end}}
</body>
</html>
`
