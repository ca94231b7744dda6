package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/metrics"
	"github.com/torosent/tpbench/internal/round"
	"github.com/torosent/tpbench/internal/threshold"
)

func loadConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func writeProfiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	data := `{
  "pub": {"isPositive": true, "topicName": "bench", "minSize": [32, 64], "maxSize": [32, 128], "sendCount": [10, 10]},
  "sub": {"isPositive": false, "topicName": "bench"}
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestChooseProfileNonInteractive(t *testing.T) {
	cfg := loadConfig(t, "--config", writeProfiles(t))

	p, err := chooseProfile(cfg, false)
	if err != nil {
		t.Fatalf("chooseProfile() error = %v", err)
	}
	if p.Name != "pub" {
		t.Errorf("expected first profile, got %q", p.Name)
	}

	cfg.ProfileSelector = "1"
	p, err = chooseProfile(cfg, true)
	if err != nil {
		t.Fatalf("chooseProfile() error = %v", err)
	}
	if p.Name != "sub" {
		t.Errorf("explicit selector should win over the picker, got %q", p.Name)
	}
}

func TestPrintProfiles(t *testing.T) {
	cfg := loadConfig(t, "--config", writeProfiles(t))

	var buf bytes.Buffer
	printProfiles(&buf, cfg.Profiles)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "INDEX") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], "pub") || !strings.Contains(lines[1], "32,64-128") {
		t.Errorf("unexpected publisher row %q", lines[1])
	}
}

func TestPickerModelSelectsAndQuits(t *testing.T) {
	profiles := []config.Profile{
		{Name: "a", Role: config.RolePublisher, LoopNum: 1},
		{Name: "b", Role: config.RoleSubscriber, LoopNum: 1},
	}

	m := newPickerModel(profiles)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter should quit the picker")
	}
	if got := next.(pickerModel).selected; got != 0 {
		t.Errorf("selected = %d, want 0", got)
	}

	m = newPickerModel(profiles)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !next.(pickerModel).quit {
		t.Error("q should cancel the picker")
	}
}

func TestParseRelayFlags(t *testing.T) {
	var out bytes.Buffer
	opts, err := parseRelayFlags(nil, &out)
	if err != nil {
		t.Fatalf("parseRelayFlags() error = %v", err)
	}
	if opts.Listen != ":7070" || opts.LogLevel != "info" {
		t.Errorf("unexpected defaults %+v", opts)
	}

	opts, err = parseRelayFlags([]string{"--listen", "127.0.0.1:9000", "--log-level", "debug"}, &out)
	if err != nil {
		t.Fatalf("parseRelayFlags() error = %v", err)
	}
	if opts.Listen != "127.0.0.1:9000" || opts.LogLevel != "debug" {
		t.Errorf("unexpected options %+v", opts)
	}

	if _, err := parseRelayFlags([]string{"extra"}, &out); err == nil {
		t.Error("expected error for positional arguments")
	}
}

func TestParseRelayFlagsReadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := "relay:\n  listen: \":8181\"\nlog:\n  level: warn\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	opts, err := parseRelayFlags([]string{"--config", path}, &out)
	if err != nil {
		t.Fatalf("parseRelayFlags() error = %v", err)
	}
	if opts.Listen != ":8181" || opts.LogLevel != "warn" {
		t.Errorf("config values not applied: %+v", opts)
	}

	opts, err = parseRelayFlags([]string{"--config", path, "--listen", ":9191"}, &out)
	if err != nil {
		t.Fatalf("parseRelayFlags() error = %v", err)
	}
	if opts.Listen != ":9191" {
		t.Errorf("flag should override config, got %q", opts.Listen)
	}
}

func TestNewEvaluator(t *testing.T) {
	ev, err := newEvaluator(nil)
	if err != nil || ev != nil {
		t.Fatalf("expected no evaluator without thresholds, got %v, %v", ev, err)
	}
	ev, err = newEvaluator([]string{"loss:rate < 1", "latency:p99 < 5"})
	if err != nil {
		t.Fatalf("newEvaluator() error = %v", err)
	}
	if ev.Len() != 2 {
		t.Errorf("Len() = %d, want 2", ev.Len())
	}
	if _, err := newEvaluator([]string{"bogus"}); err == nil {
		t.Error("expected parse error")
	}
}

func TestCountFailedIgnoresSkipped(t *testing.T) {
	results := []threshold.Result{
		{Pass: true},
		{Pass: false},
		{Pass: false, Skipped: true},
	}
	if got := countFailed(results); got != 1 {
		t.Errorf("countFailed() = %d, want 1", got)
	}
}

func TestReportJSON(t *testing.T) {
	cfg := loadConfig(t, "--json-output")
	profile, err := cfg.SelectProfile("")
	if err != nil {
		t.Fatal(err)
	}
	agg := metrics.NewAggregator(nil)
	agg.AddResult(round.Result{Profile: "default", Role: config.RoleSubscriber, Round: 0, Expected: 10, Delivered: 10})

	var buf bytes.Buffer
	if err := report(&buf, agg, cfg, profile, "run-1", "memory", agg.Results(), nil); err != nil {
		t.Fatalf("report() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if decoded["run_id"] != "run-1" || decoded["transport"] != "memory" {
		t.Errorf("unexpected report header: %v", decoded)
	}
}

func TestRunLoopbackWritesResults(t *testing.T) {
	dir := t.TempDir()
	html := filepath.Join(dir, "report.html")

	err := run([]string{
		"--send-count", "50",
		"--match-poll-interval", "10ms",
		"--round-pause", "20ms",
		"--result-dir", dir,
		"--html-output", html,
		"--json-output",
		"--threshold", "loss:rate <= 0",
	})
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one result file, got %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Errorf("expected header + publisher and subscriber rows, got %d lines", len(lines))
	}
	if _, err := os.Stat(html); err != nil {
		t.Errorf("html report missing: %v", err)
	}
}

func TestRunHelpReturnsNil(t *testing.T) {
	if err := run(nil); err != nil {
		t.Errorf("run(nil) error = %v", err)
	}
}

func TestRunInterruptedDuringMatchWaitFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := runBenchmark(ctx, []string{
		"--loopback=false",
		"--send-count", "10",
		"--match-poll-interval", "10ms",
		"--result-dir", t.TempDir(),
		"--json-output",
	})
	if err == nil {
		t.Fatal("expected an error when the match wait is interrupted")
	}
	var rerr *round.Error
	if !errors.As(err, &rerr) || rerr.Phase != round.PhaseMatch {
		t.Errorf("expected a match-wait round error, got %v", err)
	}
}

func TestSetupFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"match wait", &round.Error{Phase: round.PhaseMatch, Err: context.Canceled}, true},
		{"endpoint", fmt.Errorf("wrapped: %w", &round.Error{Phase: round.PhaseEndpoint, Err: context.Canceled}), true},
		{"transfer", &round.Error{Phase: round.PhaseTransfer, Err: context.Canceled}, false},
		{"plain", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := setupFailed(tt.err); got != tt.want {
				t.Errorf("setupFailed() = %v, want %v", got, tt.want)
			}
		})
	}
}
