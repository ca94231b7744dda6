package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/metrics"
	"github.com/torosent/tpbench/internal/transport"
)

// EndpointFactory abstracts creating a transport endpoint for one round.
// transport.Transport satisfies it.
type EndpointFactory interface {
	CreateEndpoint(ctx context.Context, opts transport.EndpointOptions) (transport.Endpoint, error)
}

// Options configure the Runner.
type Options struct {
	Profile          config.Profile
	Peer             *config.Profile // run this profile concurrently in the same process
	Factory          EndpointFactory // endpoint source (required)
	MatchPoll        time.Duration
	AckTimeout       time.Duration
	ReconnectTimeout time.Duration
	RoundPause       time.Duration
	RatePerSecond    int   // publisher pacing (0 means unlimited)
	Seed             int64 // message size seed (0 picks a time-based seed)
	Retries          int   // extra endpoint creation attempts per round
	RetryDelay       time.Duration
	OnRound          func(metrics.RoundSummary)  // called after every recorded round
	LimiterFactory   func(rps int) *rate.Limiter // optional injection for tests
}

// OptionsFromConfig maps loaded configuration onto runner options for p.
func OptionsFromConfig(cfg *config.Config, p config.Profile, factory EndpointFactory) Options {
	opts := Options{
		Profile:          p,
		Factory:          factory,
		MatchPoll:        cfg.MatchPoll,
		AckTimeout:       cfg.AckTimeout,
		ReconnectTimeout: cfg.ReconnectTimeout,
		RoundPause:       cfg.RoundPause,
		RatePerSecond:    cfg.Rate,
		Seed:             cfg.Seed,
		Retries:          cfg.Retries,
	}
	if cfg.Loopback {
		peer := cfg.Peer(p)
		opts.Peer = &peer
	}
	return opts
}

func (o *Options) normalize() {
	if o.MatchPoll <= 0 {
		o.MatchPoll = config.DefaultMatchPollInterval
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = config.DefaultAckTimeout
	}
	if o.ReconnectTimeout <= 0 {
		o.ReconnectTimeout = config.DefaultReconnectTimeout
	}
	if o.RoundPause < 0 {
		o.RoundPause = 0
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst equal to rps to smooth pacing at high rates.
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}
