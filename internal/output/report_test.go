package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/metrics"
	"github.com/torosent/tpbench/internal/round"
	"github.com/torosent/tpbench/internal/threshold"
)

func sampleRounds() []metrics.RoundSummary {
	return []metrics.RoundSummary{
		{
			Result: round.Result{
				Profile: "bench", Role: config.RolePublisher, Round: 0,
				MinSize: 64, MaxSize: 64, Expected: 1000, Delivered: 1000,
				Elapsed: 2 * time.Second, Throughput: 500, BandwidthMbps: 0.24,
			},
			CPUPeak: 12.5,
		},
		{
			Result: round.Result{
				Profile: "bench", Role: config.RoleSubscriber, Round: 0,
				MinSize: 64, MaxSize: 64, Expected: 1000, Delivered: 950, Lost: 50, LossRate: 5,
				Late: 3, Elapsed: 2 * time.Second, Throughput: 475,
				Latency: round.LatencyStats{Count: 950, P50: 200 * time.Microsecond, P99: 2 * time.Millisecond, P99Ms: 2},
			},
			CPUPeak: metrics.CPUPeakNoData,
		},
	}
}

func TestPrintReportBasic(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleRounds())

	output := buf.String()
	for _, want := range []string{
		"Round 0 [bench/publisher]",
		"Round 0 [bench/subscriber]",
		"Lost:            50 (5.00%)",
		"CPU Peak:        12.50%",
		"CPU Peak:        no data",
		"Discarded:       3 late, 0 invalid",
		"P99:           2ms",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
	if strings.Count(output, "Latency:") != 1 {
		t.Errorf("expected latency only for the subscriber round")
	}
}

func TestPrintReportEmpty(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, nil)
	if !strings.Contains(buf.String(), "No rounds completed.") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestPrintJSONReport(t *testing.T) {
	report := Report{
		RunID:       "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		Profile:     "bench",
		Transport:   "memory",
		GeneratedAt: time.Unix(0, 0).UTC(),
		Rounds:      sampleRounds(),
	}

	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, report); err != nil {
		t.Fatalf("PrintJSONReport failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["run_id"] != report.RunID {
		t.Errorf("run_id = %v", decoded["run_id"])
	}
	rounds, ok := decoded["rounds"].([]interface{})
	if !ok || len(rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %v", decoded["rounds"])
	}
	sub := rounds[1].(map[string]interface{})
	if sub["loss_rate_percent"] != 5.0 || sub["cpu_peak_percent"] != -1.0 {
		t.Errorf("unexpected subscriber round: %v", sub)
	}
	if _, ok := decoded["thresholds"]; ok {
		t.Error("thresholds should be omitted when empty")
	}
}

func TestSummarizeThresholds(t *testing.T) {
	if SummarizeThresholds(nil) != nil {
		t.Fatal("expected nil summary for no results")
	}
	results := []threshold.Result{
		{Threshold: threshold.Threshold{Raw: "loss:rate < 1"}, Pass: true},
		{Threshold: threshold.Threshold{Raw: "loss:rate < 1"}, Pass: false, Round: 1, Role: "subscriber"},
		{Threshold: threshold.Threshold{Raw: "latency:p99 < 1"}, Skipped: true},
	}
	s := SummarizeThresholds(results)
	if s.Total != 3 || s.Passed != 1 || s.Failed != 1 || s.Skipped != 1 {
		t.Errorf("unexpected tally: %+v", s)
	}
	if s.Results[1].Round != 1 || s.Results[1].Role != "subscriber" {
		t.Errorf("round not carried: %+v", s.Results[1])
	}

	var buf bytes.Buffer
	PrintThresholds(&buf, []threshold.Result{{Pass: true, Message: "✓ ok"}})
	if !strings.Contains(buf.String(), "1/1 passed") || !strings.Contains(buf.String(), "✓ ok") {
		t.Errorf("unexpected threshold output: %q", buf.String())
	}
}
