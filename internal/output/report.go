package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/torosent/tpbench/internal/metrics"
	"github.com/torosent/tpbench/internal/threshold"
)

// Report is the machine-readable outcome of one run.
type Report struct {
	RunID       string                 `json:"run_id"`
	Profile     string                 `json:"profile"`
	Transport   string                 `json:"transport"`
	GeneratedAt time.Time              `json:"generated_at"`
	Rounds      []metrics.RoundSummary `json:"rounds"`
	Thresholds  *ThresholdSummary      `json:"thresholds,omitempty"`
}

// ThresholdSummary aggregates threshold outcomes across rounds.
type ThresholdSummary struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Skipped int                   `json:"skipped"`
	Results []ThresholdResultJSON `json:"results"`
}

// ThresholdResultJSON is one threshold outcome for one round.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Round     int     `json:"round"`
	Role      string  `json:"role"`
	Pass      bool    `json:"pass"`
	Skipped   bool    `json:"skipped,omitempty"`
}

// SummarizeThresholds converts evaluator results for reporting. It returns
// nil when there are none.
func SummarizeThresholds(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	s := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		s.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Round:     tr.Round,
			Role:      tr.Role,
			Pass:      tr.Pass,
			Skipped:   tr.Skipped,
		}
		switch {
		case tr.Skipped:
			s.Skipped++
		case tr.Pass:
			s.Passed++
		default:
			s.Failed++
		}
	}
	return s
}

// PrintReport outputs a human-readable summary of every round.
func PrintReport(w io.Writer, rounds []metrics.RoundSummary) {
	fmt.Fprintln(w, "\n--- Benchmark Results ---")
	if len(rounds) == 0 {
		fmt.Fprintln(w, "No rounds completed.")
		return
	}
	for _, r := range rounds {
		fmt.Fprintf(w, "\nRound %d [%s/%s]\n", r.Round, r.Profile, r.Role)
		fmt.Fprintf(w, "  Message Size:    %d-%d bytes (avg %.1f)\n", r.MinSize, r.MaxSize, r.AvgPayload)
		fmt.Fprintf(w, "  Expected:        %d\n", r.Expected)
		fmt.Fprintf(w, "  Delivered:       %d\n", r.Delivered)
		fmt.Fprintf(w, "  Lost:            %d (%.2f%%)\n", r.Lost, r.LossRate)
		fmt.Fprintf(w, "  Duration:        %s\n", r.Elapsed)
		fmt.Fprintf(w, "  Messages/sec:    %.2f\n", r.Throughput)
		fmt.Fprintf(w, "  Bandwidth:       %.2f Mbps\n", r.BandwidthMbps)
		fmt.Fprintf(w, "  CPU Peak:        %s\n", r.CPUPeakLabel())
		if r.SendErrors > 0 {
			fmt.Fprintf(w, "  Send Errors:     %d\n", r.SendErrors)
		}
		if r.AckTimeout {
			fmt.Fprintln(w, "  Ack:             timed out")
		}
		if r.Late > 0 || r.Invalid > 0 {
			fmt.Fprintf(w, "  Discarded:       %d late, %d invalid\n", r.Late, r.Invalid)
		}
		if r.Latency.Count > 0 {
			fmt.Fprintln(w, "  Latency:")
			fmt.Fprintf(w, "    Min:           %s\n", r.Latency.Min)
			fmt.Fprintf(w, "    Mean:          %s\n", r.Latency.Mean)
			fmt.Fprintf(w, "    P50:           %s\n", r.Latency.P50)
			fmt.Fprintf(w, "    P90:           %s\n", r.Latency.P90)
			fmt.Fprintf(w, "    P99:           %s\n", r.Latency.P99)
			fmt.Fprintf(w, "    Max:           %s\n", r.Latency.Max)
		}
	}
}

// PrintThresholds outputs one line per threshold result and a tally.
func PrintThresholds(w io.Writer, results []threshold.Result) {
	s := SummarizeThresholds(results)
	if s == nil {
		return
	}
	fmt.Fprintf(w, "\n--- Thresholds (%d/%d passed) ---\n", s.Passed, s.Total-s.Skipped)
	for _, r := range results {
		fmt.Fprintln(w, r.Message)
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
