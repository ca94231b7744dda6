package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns a Config populated with built-in defaults.
func Defaults() *Config {
	return &Config{
		Transport:        TransportMemory,
		MatchPoll:        DefaultMatchPollInterval,
		AckTimeout:       DefaultAckTimeout,
		ReconnectTimeout: DefaultReconnectTimeout,
		RoundPause:       DefaultRoundPause,
		ResultDir:        ".",
		NATS: NATSConfig{
			Name:             "tpbench",
			ReconnectWait:    2 * time.Second,
			MaxReconnects:    60,
			PresenceInterval: 250 * time.Millisecond,
		},
		Log: LogConfig{Level: "info"},
		Tracing: TracingConfig{
			Protocol:    "grpc",
			ServiceName: "tpbench",
			SampleRate:  1.0,
		},
	}
}

// Load parses command-line arguments and the configuration file to produce a
// Config with resolved, normalized profiles.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := strings.TrimSpace(flagSet.Lookup("config").Value.String())
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
		if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
			return nil, err
		}
		profiles, err := readProfiles(configPath)
		if err != nil {
			return nil, err
		}
		cfg.Profiles = resolveProfiles(profiles)
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = resolveProfiles([]Profile{defaultProfile()})
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	// A single process on the in-memory bus needs both roles to get a match.
	if cfg.Transport == TransportMemory && !flagSet.Changed("loopback") && !cfg.loopbackSet {
		cfg.Loopback = true
	}

	return cfg, nil
}

// applyConfigSettings applies global settings from a config file.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "profile"); ok {
		if _, isMap := raw.(map[string]interface{}); !isMap {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("profile: %w", err)
			}
			cfg.ProfileSelector = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "transport"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
		cfg.Transport = TransportKind(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "loopback"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("loopback: %w", err)
		}
		cfg.Loopback = val
		cfg.loopbackSet = true
	}

	durations := []struct {
		dst  *time.Duration
		keys []string
	}{
		{&cfg.MatchPoll, []string{"matchPollInterval", "match_poll_interval", "match-poll-interval"}},
		{&cfg.AckTimeout, []string{"ackTimeout", "ack_timeout", "ack-timeout"}},
		{&cfg.ReconnectTimeout, []string{"reconnectTimeout", "reconnect_timeout", "reconnect-timeout"}},
		{&cfg.RoundPause, []string{"roundPause", "round_pause", "round-pause"}},
	}
	for _, d := range durations {
		if raw, ok := lookupSetting(settings, d.keys...); ok {
			val, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", d.keys[0], err)
			}
			*d.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.Rate = val
	}

	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		cfg.Seed = val
	}

	if raw, ok := lookupSetting(settings, "retries"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("retries: %w", err)
		}
		cfg.Retries = val
	}

	strFields := []struct {
		dst  *string
		keys []string
	}{
		{&cfg.ResultDir, []string{"resultDir", "result_dir", "result-dir"}},
		{&cfg.HTMLOutput, []string{"htmlOutput", "html_output", "html-output"}},
		{&cfg.MetricsAddr, []string{"metricsAddr", "metrics_addr", "metrics-addr"}},
	}
	for _, f := range strFields {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}

	boolFields := []struct {
		dst  *bool
		keys []string
	}{
		{&cfg.JSONOutput, []string{"jsonOutput", "json_output", "json-output"}},
		{&cfg.Dashboard, []string{"dashboard"}},
		{&cfg.TrackAllocations, []string{"trackAllocations", "track_allocations", "track-allocations"}},
	}
	for _, f := range boolFields {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = val
	}

	if raw, ok := lookupSetting(settings, "nats"); ok {
		if err := applyNATSSettings(&cfg.NATS, raw); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "relay"); ok {
		if err := applyRelaySettings(&cfg.Relay, raw); err != nil {
			return fmt.Errorf("relay: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "log"); ok {
		if err := applyLogSettings(&cfg.Log, raw); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

func applyNATSSettings(dst *NATSConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("url: %w", err)
		}
		dst.URL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("name: %w", err)
		}
		dst.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "reconnectWait", "reconnect_wait", "reconnect-wait"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("reconnectWait: %w", err)
		}
		dst.ReconnectWait = val
	}
	if raw, ok := lookupSetting(settings, "maxReconnects", "max_reconnects", "max-reconnects"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("maxReconnects: %w", err)
		}
		dst.MaxReconnects = val
	}
	if raw, ok := lookupSetting(settings, "presenceInterval", "presence_interval", "presence-interval"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("presenceInterval: %w", err)
		}
		dst.PresenceInterval = val
	}
	return nil
}

func applyRelaySettings(dst *RelayConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("url: %w", err)
		}
		dst.URL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "listen"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		dst.Listen = strings.TrimSpace(val)
	}
	return nil
}

func applyLogSettings(dst *LogConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("file: %w", err)
		}
		dst.File = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("level: %w", err)
		}
		dst.Level = strings.ToLower(strings.TrimSpace(val))
	}
	return nil
}

func applyTracingSettings(dst *TracingConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		dst.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		dst.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		dst.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "serviceName", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("serviceName: %w", err)
		}
		dst.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "sampleRate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sampleRate: %w", err)
		}
		dst.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "disabled"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("disabled: %w", err)
		}
		dst.Disabled = val
	}
	return nil
}
