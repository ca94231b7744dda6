package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/torosent/tpbench/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadWithoutArgumentsRequestsHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load() error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadFlagsOnlyUsesDefaultProfile(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"--rate", "250"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport != config.TransportMemory {
		t.Errorf("Transport = %q, want memory", cfg.Transport)
	}
	if !cfg.Loopback {
		t.Errorf("Loopback = false, want true for the memory transport")
	}
	if cfg.Rate != 250 {
		t.Errorf("Rate = %d, want 250", cfg.Rate)
	}
	if cfg.AckTimeout != config.DefaultAckTimeout {
		t.Errorf("AckTimeout = %s, want %s", cfg.AckTimeout, config.DefaultAckTimeout)
	}
	if len(cfg.Profiles) != 1 {
		t.Fatalf("Profiles len = %d, want 1", len(cfg.Profiles))
	}
	p := cfg.Profiles[0]
	if p.Name != "default" || p.Role != config.RolePublisher || !p.ZeroCopy() {
		t.Errorf("default profile = %+v", p)
	}
	if p.LoopNum != 1 {
		t.Errorf("LoopNum = %d, want 1", p.LoopNum)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadJSONProfilesWithPairedFallback(t *testing.T) {
	path := writeFile(t, "bench.json", `{
		"transport": "nats",
		"ackTimeout": "2s",
		"rate": 500,
		"nats": {"url": "nats://127.0.0.1:4222", "presenceInterval": "100ms"},
		"log": {"level": "debug"},
		"pub": {
			"m_isPositive": true,
			"m_topicName": "throughput",
			"m_typeName": "DDS::ZeroCopyBytes",
			"m_minSize": [100, 200],
			"m_maxSize": [100, 400],
			"m_sendCount": [10, 20, 30],
			"m_sendPrintGap": [5]
		},
		"sub": {
			"m_isPositive": false,
			"m_topicName": "throughput",
			"m_recvPrintGap": [7]
		}
	}`)

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport != config.TransportNATS {
		t.Errorf("Transport = %q, want nats", cfg.Transport)
	}
	if cfg.Loopback {
		t.Errorf("Loopback = true, want false for nats")
	}
	if cfg.AckTimeout != 2*time.Second {
		t.Errorf("AckTimeout = %s, want 2s", cfg.AckTimeout)
	}
	if cfg.Rate != 500 {
		t.Errorf("Rate = %d, want 500", cfg.Rate)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" || cfg.NATS.PresenceInterval != 100*time.Millisecond {
		t.Errorf("NATS = %+v", cfg.NATS)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}

	if len(cfg.Profiles) != 2 {
		t.Fatalf("Profiles len = %d, want 2", len(cfg.Profiles))
	}
	pub, sub := cfg.Profiles[0], cfg.Profiles[1]
	if pub.Name != "pub" || sub.Name != "sub" {
		t.Fatalf("profile order = %q, %q; want pub, sub", pub.Name, sub.Name)
	}
	if pub.Role != config.RolePublisher || sub.Role != config.RoleSubscriber {
		t.Errorf("roles = %q, %q", pub.Role, sub.Role)
	}
	if pub.LoopNum != 3 || sub.LoopNum != 3 {
		t.Errorf("LoopNum = %d, %d; want 3, 3", pub.LoopNum, sub.LoopNum)
	}
	if !reflect.DeepEqual(pub.MinSize, []int{100, 200, 200}) {
		t.Errorf("pub.MinSize = %v", pub.MinSize)
	}
	if !reflect.DeepEqual(sub.SendCount, []int{10, 20, 30}) {
		t.Errorf("sub.SendCount = %v, want inherited from pub", sub.SendCount)
	}
	if !reflect.DeepEqual(pub.RecvPrintGap, []int{7, 7, 7}) {
		t.Errorf("pub.RecvPrintGap = %v, want inherited from sub", pub.RecvPrintGap)
	}
	if !reflect.DeepEqual(pub.SendDelay, []int{1, 1, 1}) {
		t.Errorf("pub.SendDelay = %v, want defaulted to 1", pub.SendDelay)
	}

	r := pub.Round(1)
	if r.MinSize != 200 || r.MaxSize != 400 || r.SendCount != 20 || r.PrintGap != 5 {
		t.Errorf("pub.Round(1) = %+v", r)
	}
	if got := sub.Round(2).PrintGap; got != 7 {
		t.Errorf("sub.Round(2).PrintGap = %d, want 7", got)
	}
	if sub.ZeroCopy() {
		t.Errorf("sub.ZeroCopy() = true, want false without the zero-copy type name")
	}
}

func TestLoadYAMLProfilesKeepDocumentOrder(t *testing.T) {
	path := writeFile(t, "bench.yaml", strings.Join([]string{
		"transport: websocket",
		"relay:",
		"  url: ws://127.0.0.1:7070",
		"roundPause: 250ms",
		"profiles:",
		"  zeta:",
		"    role: publisher",
		"    topic: latency",
		"    mode: bytes",
		"    minSize: [32]",
		"    maxSize: [64]",
		"    sendCount: [100]",
		"  alpha:",
		"    role: subscriber",
		"    topic: latency",
	}, "\n"))

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Relay.URL != "ws://127.0.0.1:7070" {
		t.Errorf("Relay.URL = %q", cfg.Relay.URL)
	}
	if cfg.Relay.Listen != ":7070" {
		t.Errorf("Relay.Listen = %q, want :7070", cfg.Relay.Listen)
	}
	if cfg.RoundPause != 250*time.Millisecond {
		t.Errorf("RoundPause = %s, want 250ms", cfg.RoundPause)
	}
	if len(cfg.Profiles) != 2 || cfg.Profiles[0].Name != "zeta" || cfg.Profiles[1].Name != "alpha" {
		t.Fatalf("Profiles = %+v, want zeta then alpha", cfg.Profiles)
	}
	if cfg.Profiles[0].ZeroCopy() {
		t.Errorf("zeta.ZeroCopy() = true, want false for bytes mode")
	}
	if got := cfg.Profiles[1].Round(0).MaxSize; got != 64 {
		t.Errorf("alpha.Round(0).MaxSize = %d, want 64 from its pair", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSelectProfileAppliesOverrides(t *testing.T) {
	path := writeFile(t, "bench.json", `{
		"pub": {"m_isPositive": true, "m_topicName": "t", "m_minSize": [8, 16, 32], "m_maxSize": [8, 16, 32], "m_sendCount": [1, 2, 3]},
		"sub": {"m_isPositive": false, "m_topicName": "t"}
	}`)

	cfg, err := config.NewLoader().Load([]string{
		"--config", path, "--rounds", "2", "--send-count", "5", "--topic", "override",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	p, err := cfg.SelectProfile("pub")
	if err != nil {
		t.Fatalf("SelectProfile() error = %v", err)
	}
	if p.LoopNum != 2 {
		t.Errorf("LoopNum = %d, want 2", p.LoopNum)
	}
	if !reflect.DeepEqual(p.SendCount, []int{5, 5}) {
		t.Errorf("SendCount = %v, want [5 5]", p.SendCount)
	}
	if p.Topic != "override" {
		t.Errorf("Topic = %q, want override", p.Topic)
	}

	byIndex, err := cfg.SelectProfile("1")
	if err != nil {
		t.Fatalf("SelectProfile(1) error = %v", err)
	}
	if byIndex.Name != "sub" {
		t.Errorf("SelectProfile(1).Name = %q, want sub", byIndex.Name)
	}

	peer := cfg.Peer(p)
	if peer.Name != "sub" || peer.Role != config.RoleSubscriber {
		t.Errorf("Peer() = %q/%q, want sub/subscriber", peer.Name, peer.Role)
	}
	if peer.Topic != "override" {
		t.Errorf("Peer().Topic = %q, want override", peer.Topic)
	}

	if _, err := cfg.SelectProfile("missing"); err == nil {
		t.Errorf("SelectProfile(missing) error = nil, want error")
	}
	if _, err := cfg.SelectProfile("9"); err == nil {
		t.Errorf("SelectProfile(9) error = nil, want out of range")
	}
}

func TestPeerMirrorsUnpairedProfile(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"--role", "subscriber"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	p, err := cfg.SelectProfile("")
	if err != nil {
		t.Fatalf("SelectProfile() error = %v", err)
	}
	if p.Role != config.RoleSubscriber {
		t.Fatalf("Role = %q, want subscriber", p.Role)
	}
	peer := cfg.Peer(p)
	if peer.Name != "default/peer" || peer.Role != config.RolePublisher {
		t.Errorf("Peer() = %q/%q, want default/peer publisher", peer.Name, peer.Role)
	}
}

func TestValidateReportsIssues(t *testing.T) {
	path := writeFile(t, "bad.json", `{
		"transport": "carrier-pigeon",
		"p": {"m_isPositive": true, "m_minSize": [64], "m_maxSize": [32]}
	}`)

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--retries=-1"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	err = cfg.Validate()
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want ValidationError", err)
	}

	joined := strings.Join(verr.Issues(), "\n")
	for _, want := range []string{"unknown transport", "topic is required", "exceeds maxSize", "retries must be non-negative"} {
		if !strings.Contains(joined, want) {
			t.Errorf("issues missing %q:\n%s", want, joined)
		}
	}
}

func TestLoadRejectsBadOverrides(t *testing.T) {
	if _, err := config.NewLoader().Load([]string{"--role", "observer"}); err == nil {
		t.Errorf("Load(--role observer) error = nil, want error")
	}
	if _, err := config.NewLoader().Load([]string{"--mode", "shared"}); err == nil {
		t.Errorf("Load(--mode shared) error = nil, want error")
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, "bench.toml", "transport = \"memory\"\n")
	if _, err := config.NewLoader().Load([]string{"--config", path}); err == nil {
		t.Errorf("Load() error = nil, want unsupported format")
	}
}
