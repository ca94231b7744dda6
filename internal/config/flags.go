package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tpbench",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Profile selection
	flags.String("config", "", "Path to configuration file with benchmark profiles (JSON or YAML)")
	flags.StringP("profile", "p", "", "Profile name or zero-based index to run (empty picks interactively or the first)")
	flags.Bool("list-profiles", false, "List configured profiles and exit")

	// Transport
	flags.String("transport", string(TransportMemory), "Transport: 'memory', 'nats' or 'websocket'")
	flags.String("nats-url", "", "NATS server URL for the nats transport")
	flags.String("relay-url", "", "Relay URL for the websocket transport (e.g. ws://host:7070)")
	flags.String("relay-listen", ":7070", "Listen address for 'tpbench relay'")
	flags.Bool("loopback", false, "Run the paired peer role inside this process")

	// Round timing
	flags.Duration("match-poll-interval", DefaultMatchPollInterval, "Interval between peer match checks")
	flags.Duration("ack-timeout", DefaultAckTimeout, "Maximum wait for subscriber acknowledgment after a round")
	flags.Duration("reconnect-timeout", DefaultReconnectTimeout, "Maximum wait for peers to re-attach between rounds")
	flags.Duration("round-pause", DefaultRoundPause, "Pause between rounds")
	flags.IntP("rate", "r", 0, "Messages per second limit for publishers (0 means unlimited)")
	flags.Int64("seed", 0, "Seed for message size selection (0 picks a time-based seed)")
	flags.Int("retries", 0, "Number of retries for a failed round")

	// Profile overrides
	flags.String("role", "", "Override the profile role: 'publisher' or 'subscriber'")
	flags.String("topic", "", "Override the profile topic")
	flags.String("mode", "", "Override the message mode: 'zerocopy' or 'bytes'")
	flags.Int("rounds", 0, "Override the number of rounds")
	flags.IntSlice("min-size", nil, "Override per-round minimum payload sizes")
	flags.IntSlice("max-size", nil, "Override per-round maximum payload sizes")
	flags.IntSlice("send-count", nil, "Override per-round message counts")
	flags.IntSlice("print-gap", nil, "Override per-round progress print intervals")

	// Output
	flags.String("log-file", "", "Write structured JSON logs to this file in addition to the console")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("result-dir", ".", "Directory for round result CSV files")
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.String("html-output", "", "Generate HTML report to the specified file path")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	flags.Bool("track-allocations", false, "Track individual message buffer allocations")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g. 'loss:rate < 1')")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP endpoint for round spans")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of rounds to trace (0.0 to 1.0)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"profile", &cfg.ProfileSelector},
		{"nats-url", &cfg.NATS.URL},
		{"relay-url", &cfg.Relay.URL},
		{"log-file", &cfg.Log.File},
		{"result-dir", &cfg.ResultDir},
		{"html-output", &cfg.HTMLOutput},
		{"metrics-addr", &cfg.MetricsAddr},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
	} {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	// relay-listen has a usable default even without a config entry.
	if fs.Changed("relay-listen") || cfg.Relay.Listen == "" {
		val, err := fs.GetString("relay-listen")
		if err != nil {
			return err
		}
		cfg.Relay.Listen = strings.TrimSpace(val)
	}

	if fs.Changed("transport") {
		val, err := fs.GetString("transport")
		if err != nil {
			return err
		}
		cfg.Transport = TransportKind(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}

	for _, f := range []struct {
		name string
		dst  *bool
	}{
		{"list-profiles", &cfg.ListProfiles},
		{"loopback", &cfg.Loopback},
		{"json-output", &cfg.JSONOutput},
		{"dashboard", &cfg.Dashboard},
		{"track-allocations", &cfg.TrackAllocations},
		{"tracing-insecure", &cfg.Tracing.Insecure},
	} {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetBool(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if fs.Changed("match-poll-interval") {
		val, err := fs.GetDuration("match-poll-interval")
		if err != nil {
			return err
		}
		cfg.MatchPoll = val
	}
	if fs.Changed("ack-timeout") {
		val, err := fs.GetDuration("ack-timeout")
		if err != nil {
			return err
		}
		cfg.AckTimeout = val
	}
	if fs.Changed("reconnect-timeout") {
		val, err := fs.GetDuration("reconnect-timeout")
		if err != nil {
			return err
		}
		cfg.ReconnectTimeout = val
	}
	if fs.Changed("round-pause") {
		val, err := fs.GetDuration("round-pause")
		if err != nil {
			return err
		}
		cfg.RoundPause = val
	}
	if fs.Changed("rate") {
		val, err := fs.GetInt("rate")
		if err != nil {
			return err
		}
		cfg.Rate = val
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.Seed = val
	}
	if fs.Changed("retries") {
		val, err := fs.GetInt("retries")
		if err != nil {
			return err
		}
		cfg.Retries = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}

	return applyProfileOverrides(&cfg.Overrides, fs)
}

func applyProfileOverrides(o *ProfileOverride, fs *pflag.FlagSet) error {
	if fs.Changed("role") {
		val, err := fs.GetString("role")
		if err != nil {
			return err
		}
		role, err := parseRole(val)
		if err != nil {
			return err
		}
		o.Role = role
	}
	if fs.Changed("topic") {
		val, err := fs.GetString("topic")
		if err != nil {
			return err
		}
		o.Topic = strings.TrimSpace(val)
	}
	if fs.Changed("mode") {
		val, err := fs.GetString("mode")
		if err != nil {
			return err
		}
		mode, err := parseMode(val)
		if err != nil {
			return err
		}
		o.Mode = mode
	}
	if fs.Changed("rounds") {
		val, err := fs.GetInt("rounds")
		if err != nil {
			return err
		}
		if val < 0 {
			return fmt.Errorf("rounds must be non-negative")
		}
		o.Rounds = val
	}
	for _, f := range []struct {
		name string
		dst  *[]int
	}{
		{"min-size", &o.MinSize},
		{"max-size", &o.MaxSize},
		{"send-count", &o.SendCount},
		{"print-gap", &o.PrintGap},
	} {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetIntSlice(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}
	return nil
}
