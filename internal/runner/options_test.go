package runner

import (
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/tpbench/internal/config"
)

func TestOptionsNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    Options
		validate func(*testing.T, Options)
	}{
		{
			name:  "defaults",
			input: Options{},
			validate: func(t *testing.T, o Options) {
				if o.MatchPoll != config.DefaultMatchPollInterval {
					t.Errorf("MatchPoll = %v, want %v", o.MatchPoll, config.DefaultMatchPollInterval)
				}
				if o.AckTimeout != config.DefaultAckTimeout {
					t.Errorf("AckTimeout = %v, want %v", o.AckTimeout, config.DefaultAckTimeout)
				}
				if o.ReconnectTimeout != config.DefaultReconnectTimeout {
					t.Errorf("ReconnectTimeout = %v, want %v", o.ReconnectTimeout, config.DefaultReconnectTimeout)
				}
				if o.RetryDelay != time.Second {
					t.Errorf("RetryDelay = %v, want 1s", o.RetryDelay)
				}
				if o.Seed == 0 {
					t.Error("Seed should be non-zero")
				}
				if o.LimiterFactory == nil {
					t.Error("LimiterFactory should not be nil")
				}
			},
		},
		{
			name: "negative values corrected",
			input: Options{
				RoundPause:    -time.Second,
				RatePerSecond: -1,
				Retries:       -3,
			},
			validate: func(t *testing.T, o Options) {
				if o.RoundPause != 0 {
					t.Errorf("RoundPause = %v, want 0", o.RoundPause)
				}
				if o.RatePerSecond != 0 {
					t.Errorf("RatePerSecond = %d, want 0", o.RatePerSecond)
				}
				if o.Retries != 0 {
					t.Errorf("Retries = %d, want 0", o.Retries)
				}
			},
		},
		{
			name: "preserve valid values",
			input: Options{
				MatchPoll:     10 * time.Millisecond,
				RoundPause:    time.Second,
				RatePerSecond: 50,
				Seed:          12345,
				Retries:       2,
			},
			validate: func(t *testing.T, o Options) {
				if o.MatchPoll != 10*time.Millisecond {
					t.Errorf("MatchPoll = %v, want 10ms", o.MatchPoll)
				}
				if o.RoundPause != time.Second {
					t.Errorf("RoundPause = %v, want 1s", o.RoundPause)
				}
				if o.RatePerSecond != 50 {
					t.Errorf("RatePerSecond = %d, want 50", o.RatePerSecond)
				}
				if o.Seed != 12345 {
					t.Errorf("Seed = %d, want 12345", o.Seed)
				}
				if o.Retries != 2 {
					t.Errorf("Retries = %d, want 2", o.Retries)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.input
			opts.normalize()
			tt.validate(t, opts)
		})
	}
}

func TestLimiterFactory(t *testing.T) {
	opts := Options{}
	opts.normalize()

	t.Run("unlimited rate", func(t *testing.T) {
		limiter := opts.LimiterFactory(0)
		if limiter.Limit() != rate.Inf {
			t.Errorf("Limit = %v, want Inf", limiter.Limit())
		}
	})

	t.Run("limited rate", func(t *testing.T) {
		limiter := opts.LimiterFactory(100)
		if limiter.Limit() != rate.Limit(100) {
			t.Errorf("Limit = %v, want 100", limiter.Limit())
		}
		if limiter.Burst() != 100 {
			t.Errorf("Burst = %d, want 100", limiter.Burst())
		}
	})
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		MatchPoll:        20 * time.Millisecond,
		AckTimeout:       3 * time.Second,
		ReconnectTimeout: 4 * time.Second,
		RoundPause:       100 * time.Millisecond,
		Rate:             500,
		Seed:             7,
		Retries:          2,
	}
	p := config.Profile{Name: "pub", Role: config.RolePublisher, Topic: "t"}

	opts := OptionsFromConfig(cfg, p, nil)
	if opts.Peer != nil {
		t.Fatal("Peer should be nil without loopback")
	}
	if opts.MatchPoll != cfg.MatchPoll || opts.AckTimeout != cfg.AckTimeout || opts.ReconnectTimeout != cfg.ReconnectTimeout {
		t.Errorf("timing not carried over: %+v", opts)
	}
	if opts.RatePerSecond != 500 || opts.Seed != 7 || opts.Retries != 2 {
		t.Errorf("pacing not carried over: %+v", opts)
	}

	cfg.Loopback = true
	opts = OptionsFromConfig(cfg, p, nil)
	if opts.Peer == nil {
		t.Fatal("Peer should be set with loopback")
	}
	if opts.Peer.Role != config.RoleSubscriber {
		t.Errorf("Peer role = %q, want subscriber", opts.Peer.Role)
	}
	if opts.Peer.Topic != "t" {
		t.Errorf("Peer topic = %q, want t", opts.Peer.Topic)
	}
}
