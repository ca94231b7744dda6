package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/metrics"
	"github.com/torosent/tpbench/internal/resource"
	"github.com/torosent/tpbench/internal/round"
	"github.com/torosent/tpbench/internal/transport"
)

// Runner executes every round of a profile, and of its loopback peer when
// one is configured.
type Runner struct {
	opts Options
	env  Env

	mu          sync.Mutex
	controllers []*round.Controller
}

// New returns a runner. Zero-valued Env fields get working defaults.
func New(opts Options, env Env) *Runner {
	opts.normalize()
	env.normalize()
	return &Runner{opts: opts, env: env}
}

// RunID identifies this invocation in reports.
func (r *Runner) RunID() string { return r.env.RunID }

// Run executes all rounds. With a peer profile both roles run concurrently
// and the first failure cancels the other.
func (r *Runner) Run(ctx context.Context) error {
	if r.opts.Factory == nil {
		return errors.New("runner: endpoint factory is required")
	}
	factory := WithRetry(r.opts.Factory, RetryPolicy{
		MaxAttempts: r.opts.Retries + 1,
		Delay:       r.opts.RetryDelay,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
	}, zapFailureLogger{logger: r.env.Logger})

	r.env.Logger.Info("run starting",
		zap.String("run_id", r.env.RunID),
		zap.String("profile", r.opts.Profile.Name),
		zap.Int("rounds", r.opts.Profile.LoopNum),
		zap.Bool("loopback", r.opts.Peer != nil),
	)

	if r.opts.Peer == nil {
		return r.runProfile(ctx, factory, r.opts.Profile, true)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.runProfile(gctx, factory, r.opts.Profile, true) })
	peer := *r.opts.Peer
	g.Go(func() error { return r.runProfile(gctx, factory, peer, false) })
	return g.Wait()
}

// Progress reports the live state of every active controller.
func (r *Runner) Progress() []round.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]round.Progress, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c.Progress())
	}
	return out
}

// Totals sums live sent and received counters across controllers.
func (r *Runner) Totals() (sent, received int64) {
	for _, p := range r.Progress() {
		sent += p.Sent
		received += p.Received
	}
	return sent, received
}

func (r *Runner) track(c *round.Controller) {
	r.mu.Lock()
	r.controllers = append(r.controllers, c)
	r.mu.Unlock()
}

// runProfile drives the rounds of p. Only the primary side samples process
// resources so loopback runs do not record the same CPU history twice.
func (r *Runner) runProfile(ctx context.Context, factory EndpointFactory, p config.Profile, primary bool) error {
	logger := r.env.Logger.With(zap.String("profile", p.Name), zap.String("role", string(p.Role)))
	ctl := round.New(p.Role, round.Options{
		Profile:          p.Name,
		Topic:            p.Topic,
		ZeroCopy:         p.ZeroCopy(),
		Pool:             r.env.Monitor.Pool(),
		MatchPoll:        r.opts.MatchPoll,
		AckTimeout:       r.opts.AckTimeout,
		ReconnectTimeout: r.opts.ReconnectTimeout,
		RatePerSecond:    r.opts.RatePerSecond,
		Seed:             r.opts.Seed,
		Logger:           r.env.Logger,
		Tracer:           r.env.Tracer,
		LimiterFactory:   r.opts.LimiterFactory,
	})
	defer ctl.Close()
	r.track(ctl)

	for i := 0; i < p.LoopNum; i++ {
		if i > 0 && r.opts.RoundPause > 0 {
			select {
			case <-time.After(r.opts.RoundPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := r.runRound(ctx, factory, ctl, p, i, primary, logger); err != nil {
			return err
		}
	}
	logger.Info("all rounds complete", zap.Int("rounds", p.LoopNum))
	return nil
}

func (r *Runner) runRound(ctx context.Context, factory EndpointFactory, ctl *round.Controller, p config.Profile, i int, primary bool, logger *zap.Logger) error {
	rc := p.Round(i)
	ep, err := factory.CreateEndpoint(ctx, transport.EndpointOptions{
		Role:     p.Role,
		Topic:    p.Topic,
		DomainID: p.DomainID,
		QoS:      p.QoS,
	})
	if err != nil {
		return &round.Error{Round: i, Phase: round.PhaseEndpoint, Err: err}
	}

	mon := r.env.Monitor
	var startSnap resource.Snapshot
	if primary {
		startSnap = mon.Snapshot()
		mon.MarkCores()
		mon.Sampler().StartRecording()
	}

	out, runErr := ctl.Run(ctx, ep, rc)
	out.Start = startSnap

	if primary {
		out.CPUHistory = mon.Sampler().StopRecording()
		out.End = mon.Snapshot()
		out.CoreUsage = mon.CoreUsage()
		if len(out.CoreUsage) > 0 {
			logger.Info("per-core usage", zap.Int("round", i), zap.Float64s("cores", out.CoreUsage))
		}
	}

	if err := ep.Shutdown(); err != nil {
		logger.Warn("endpoint shutdown failed", zap.Int("round", i), zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}

	summary := r.env.Aggregator.AddResult(out)
	if r.env.Exporter != nil {
		r.env.Exporter.Observe(summary)
	}
	if r.opts.OnRound != nil {
		r.opts.OnRound(summary)
	}
	logger.Info("round complete",
		zap.Int("round", i),
		zap.Int("expected", summary.Expected),
		zap.Int("delivered", summary.Delivered),
		zap.Int("lost", summary.Lost),
		zap.String("loss", fmt.Sprintf("%.2f%%", summary.LossRate)),
		zap.Float64("msgs_per_sec", summary.Throughput),
		zap.Float64("mbps", summary.BandwidthMbps),
	)
	return nil
}

// zapFailureLogger reports failed endpoint creations as warnings.
type zapFailureLogger struct {
	logger *zap.Logger
}

func (l zapFailureLogger) LogFailure(opts transport.EndpointOptions, attempt int, err error) {
	l.logger.Warn("endpoint creation failed",
		zap.String("topic", opts.Topic),
		zap.String("role", string(opts.Role)),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
}

// Summaries returns a copy of every recorded round.
func (r *Runner) Summaries() []metrics.RoundSummary {
	return r.env.Aggregator.Results()
}
