package dashboard

import (
	"strings"
	"testing"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/metrics"
	"github.com/torosent/tpbench/internal/round"
)

func TestGaugePercent(t *testing.T) {
	tests := []struct {
		name     string
		done     int64
		total    int64
		expected int
	}{
		{"no total", 5, 0, 0},
		{"nothing done", 0, 10, 0},
		{"half", 50, 100, 50},
		{"rounds down", 2, 3, 66},
		{"capped", 120, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gaugePercent(tt.done, tt.total); got != tt.expected {
				t.Errorf("gaugePercent(%d, %d) = %d, expected %d", tt.done, tt.total, got, tt.expected)
			}
		})
	}
}

func TestAppendHistory(t *testing.T) {
	var h []float64
	for i := 0; i < 5; i++ {
		h = appendHistory(h, float64(i), 3)
	}
	if len(h) != 3 || h[0] != 2 || h[2] != 4 {
		t.Errorf("unexpected window: %v", h)
	}
	h = appendHistory(h, -2, 3)
	if h[2] != 0 {
		t.Errorf("negative samples should plot as zero, got %v", h[2])
	}
}

func TestCurrentPicksFurthestControllers(t *testing.T) {
	pub := round.Progress{Round: 1, Expected: 100, Sent: 60}
	sub := round.Progress{Round: 1, Expected: 100, Received: 55}

	sent, received := current([]round.Progress{sub, pub})
	if sent.Sent != 60 {
		t.Errorf("expected publisher for sent gauge, got %+v", sent)
	}
	if received.Received != 55 {
		t.Errorf("expected subscriber for received gauge, got %+v", received)
	}

	sent, received = current(nil)
	if sent != (round.Progress{}) || received != (round.Progress{}) {
		t.Error("expected zero progress without controllers")
	}
}

func TestFormatRoundRows(t *testing.T) {
	summaries := make([]metrics.RoundSummary, 0, 12)
	for i := 0; i < 12; i++ {
		summaries = append(summaries, metrics.RoundSummary{
			Result: round.Result{
				Round:      i,
				Role:       config.RoleSubscriber,
				Expected:   100,
				Delivered:  99,
				LossRate:   1,
				Throughput: 1234.4,
				Latency:    round.LatencyStats{Count: 99, P99Ms: 1.5},
			},
			CPUPeak: metrics.CPUPeakNoData,
		})
	}

	rows := formatRoundRows(summaries, 8)
	if len(rows) != 9 {
		t.Fatalf("expected header + 8 rows, got %d", len(rows))
	}
	if rows[0][0] != "Round" {
		t.Errorf("expected header first, got %v", rows[0])
	}
	if rows[1][0] != "4" || rows[8][0] != "11" {
		t.Errorf("expected the most recent rounds, got %s..%s", rows[1][0], rows[8][0])
	}
	last := rows[8]
	if last[2] != "99/100" || last[3] != "1.00" || last[4] != "1234" || last[6] != "1.50ms" || last[7] != "no data" {
		t.Errorf("unexpected row: %v", last)
	}

	rows = formatRoundRows([]metrics.RoundSummary{{Result: round.Result{Role: config.RolePublisher}, CPUPeak: 3}}, 8)
	if rows[1][6] != "-" || rows[1][7] != "3.00%" {
		t.Errorf("unexpected publisher row: %v", rows[1])
	}
}

func TestFormatStates(t *testing.T) {
	if got := formatStates(nil); got != "Waiting for data..." {
		t.Errorf("formatStates(nil) = %q", got)
	}
	got := formatStates([]round.Progress{
		{Round: 2, State: round.StateWaitMatch},
		{Round: 2, State: round.StateAwaitCompletion},
	})
	if !strings.Contains(got, "wait-match") || !strings.Contains(got, "await-completion") {
		t.Errorf("unexpected states: %q", got)
	}
}

func TestFormatParams(t *testing.T) {
	tests := []struct {
		name     string
		cfg      RunConfig
		contains []string
		excludes []string
	}{
		{
			name:     "unlimited rate",
			cfg:      RunConfig{Profile: "bench", Role: "publisher", Transport: "memory"},
			contains: []string{"Profile: bench", "Role: publisher", "Transport: memory", "Rate: unlimited"},
			excludes: []string{"Config:", "+ peer"},
		},
		{
			name:     "loopback with rate and config",
			cfg:      RunConfig{Role: "publisher", Rate: 500, Loopback: true, ConfigFile: "bench.yaml", Topic: "t"},
			contains: []string{"Role: publisher + peer", "Rate: 500/s", "Config: bench.yaml", "Topic: t"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatParams(tt.cfg)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("formatParams() = %q, missing %q", got, want)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(got, unwanted) {
					t.Errorf("formatParams() = %q, should not contain %q", got, unwanted)
				}
			}
		})
	}
}
