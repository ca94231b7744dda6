package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type TransportKind string

const (
	TransportMemory    TransportKind = "memory"
	TransportNATS      TransportKind = "nats"
	TransportWebSocket TransportKind = "websocket"
)

type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// Mode selects how publishers build messages.
type Mode string

const (
	ModeZeroCopy Mode = "zerocopy"
	ModeBytes    Mode = "bytes"
)

// ZeroCopyTypeName is the type name that selects zero-copy mode.
const ZeroCopyTypeName = "DDS::ZeroCopyBytes"

const (
	DefaultMatchPollInterval = time.Second
	DefaultAckTimeout        = 10 * time.Second
	DefaultReconnectTimeout  = 10 * time.Second
	DefaultRoundPause        = 500 * time.Millisecond
	DefaultLatencyMode       = "pp"
	DefaultClockDevName      = "default"
)

type Config struct {
	ConfigFile       string          `mapstructure:"-"`
	Profiles         []Profile       `mapstructure:"-"`
	ProfileSelector  string          `mapstructure:"profile"`
	ListProfiles     bool            `mapstructure:"-"`
	Overrides        ProfileOverride `mapstructure:"-"`
	Transport        TransportKind   `mapstructure:"transport"`
	Loopback         bool            `mapstructure:"loopback"`
	NATS             NATSConfig      `mapstructure:"nats"`
	Relay            RelayConfig     `mapstructure:"relay"`
	MatchPoll        time.Duration   `mapstructure:"match_poll_interval"`
	AckTimeout       time.Duration   `mapstructure:"ack_timeout"`
	ReconnectTimeout time.Duration   `mapstructure:"reconnect_timeout"`
	RoundPause       time.Duration   `mapstructure:"round_pause"`
	Rate             int             `mapstructure:"rate"`
	Seed             int64           `mapstructure:"seed"`
	Retries          int             `mapstructure:"retries"`
	Log              LogConfig       `mapstructure:"log"`
	ResultDir        string          `mapstructure:"result_dir"`
	JSONOutput       bool            `mapstructure:"json_output"`
	HTMLOutput       string          `mapstructure:"html_output"`
	Dashboard        bool            `mapstructure:"dashboard"`
	MetricsAddr      string          `mapstructure:"metrics_addr"`
	TrackAllocations bool            `mapstructure:"track_allocations"`
	Thresholds       []string        `mapstructure:"thresholds"`
	Tracing          TracingConfig   `mapstructure:"tracing"`

	loopbackSet bool
}

type NATSConfig struct {
	URL              string        `mapstructure:"url"`
	Name             string        `mapstructure:"name"`
	ReconnectWait    time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
}

type RelayConfig struct {
	URL    string `mapstructure:"url"`
	Listen string `mapstructure:"listen"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// TracingConfig configures OTLP span export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Disabled    bool    `mapstructure:"disabled"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	if t.Disabled {
		return false
	}
	return t.Endpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ProfileOverride carries command-line values that replace profile fields.
type ProfileOverride struct {
	Role      Role
	Topic     string
	Mode      Mode
	Rounds    int
	MinSize   []int
	MaxSize   []int
	SendCount []int
	PrintGap  []int
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if len(c.Profiles) == 0 {
		issues = append(issues, "no profiles configured")
	}
	switch c.Transport {
	case TransportMemory:
	case TransportNATS:
		if strings.TrimSpace(c.NATS.URL) == "" {
			issues = append(issues, "nats transport requires nats.url")
		}
	case TransportWebSocket:
		if strings.TrimSpace(c.Relay.URL) == "" {
			issues = append(issues, "websocket transport requires relay.url")
		}
	default:
		issues = append(issues, fmt.Sprintf("unknown transport %q (use memory, nats or websocket)", c.Transport))
	}
	if c.Loopback && c.Transport != TransportMemory {
		fmt.Fprintf(os.Stderr, "Warning: loopback runs both roles in this process over %s\n", c.Transport)
	}
	if c.MatchPoll <= 0 {
		issues = append(issues, "match poll interval must be positive")
	}
	if c.AckTimeout < 0 {
		issues = append(issues, "ack timeout must be non-negative")
	}
	if c.ReconnectTimeout < 0 {
		issues = append(issues, "reconnect timeout must be non-negative")
	}
	if c.RoundPause < 0 {
		issues = append(issues, "round pause must be non-negative")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be non-negative")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be non-negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing sample_rate must be between 0.0 and 1.0")
	}
	for _, p := range c.Profiles {
		issues = append(issues, c.withOverrides(p).validate()...)
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func (p Profile) validate() []string {
	var issues []string
	prefix := fmt.Sprintf("profile %q", p.Name)
	if p.Role != RolePublisher && p.Role != RoleSubscriber {
		issues = append(issues, fmt.Sprintf("%s: role must be publisher or subscriber", prefix))
	}
	if strings.TrimSpace(p.Topic) == "" {
		issues = append(issues, fmt.Sprintf("%s: topic is required", prefix))
	}
	for i := 0; i < p.LoopNum; i++ {
		r := p.Round(i)
		if r.MinSize < 0 || r.MaxSize < 0 {
			issues = append(issues, fmt.Sprintf("%s round %d: sizes must be non-negative", prefix, i))
		}
		if r.MinSize > r.MaxSize {
			issues = append(issues, fmt.Sprintf("%s round %d: minSize %d exceeds maxSize %d", prefix, i, r.MinSize, r.MaxSize))
		}
		if r.SendCount < 0 {
			issues = append(issues, fmt.Sprintf("%s round %d: sendCount must be non-negative", prefix, i))
		}
		if r.SendDelayCount < 0 || r.SendDelay < 0 {
			issues = append(issues, fmt.Sprintf("%s round %d: send delay settings must be non-negative", prefix, i))
		}
	}
	return issues
}
