// Package round drives one benchmark round at a time for a single role.
//
// A Controller is created once per role and reused for every round of a
// profile. Each call to Run walks the state machine
//
//	WaitMatch -> Active -> AwaitCompletion -> Done
//
// where AwaitCompletion is only entered by subscribers. Publishers send
// SendCount DATA messages, wait for the transport to acknowledge delivery and
// finish with a burst of END sentinels. Subscribers count what arrives until
// the first END sentinel is seen.
package round

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/tpbench/internal/buffer"
	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/mempool"
	"github.com/torosent/tpbench/internal/tracing"
	"github.com/torosent/tpbench/internal/transport"
)

// Options configure a Controller.
type Options struct {
	Profile          string
	Topic            string
	ZeroCopy         bool          // reuse one message buffer instead of allocating per message
	Pool             *mempool.Pool // message memory; a private pool when nil
	MatchPoll        time.Duration
	AckTimeout       time.Duration
	ReconnectTimeout time.Duration
	RatePerSecond    int   // publisher pacing (0 means unlimited)
	Seed             int64 // message size PRNG seed (0 picks a time-based seed)
	Logger           *zap.Logger
	Tracer           trace.Tracer
	Clock            func() time.Time
	LimiterFactory   func(rps int) *rate.Limiter // optional injection for tests
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
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("tpbench")
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Pool == nil {
		o.Pool = mempool.New()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst equal to rps keeps pacing smooth at high rates.
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}

// Progress is a point-in-time view of the current round.
type Progress struct {
	Round    int
	State    State
	Expected int64
	Sent     int64
	Received int64
}

// Controller runs rounds for one role. It is not safe for concurrent Run
// calls; State and Progress may be read from any goroutine.
type Controller struct {
	role   config.Role
	opts   Options
	logger *zap.Logger
	rng    *rand.Rand

	zeroCopy   *buffer.ZeroCopy
	allocating *buffer.Allocating

	state    atomic.Int32
	round    atomic.Int64
	expected atomic.Int64
	sent     atomic.Int64
	received atomic.Int64
}

// New returns a controller for role.
func New(role config.Role, opts Options) *Controller {
	opts.normalize()
	c := &Controller{
		role:   role,
		opts:   opts,
		logger: opts.Logger.With(zap.String("profile", opts.Profile), zap.String("role", string(role))),
		rng:    rand.New(rand.NewPCG(uint64(opts.Seed), uint64(opts.Seed)^0x9e3779b97f4a7c15)),
	}
	if opts.ZeroCopy {
		c.zeroCopy = buffer.NewZeroCopy(opts.Pool, opts.Clock)
	} else {
		c.allocating = buffer.NewAllocating(opts.Pool, opts.Clock)
	}
	return c
}

// Role returns the role this controller plays.
func (c *Controller) Role() config.Role { return c.role }

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Progress returns live counters for the round in flight.
func (c *Controller) Progress() Progress {
	return Progress{
		Round:    int(c.round.Load()),
		State:    c.State(),
		Expected: c.expected.Load(),
		Sent:     c.sent.Load(),
		Received: c.received.Load(),
	}
}

// Close releases the reusable message buffer.
func (c *Controller) Close() {
	if c.zeroCopy != nil {
		c.zeroCopy.Release()
	}
}

// Run executes round rc over ep and returns its result. Fatal failures are
// returned as *Error; the partial result is still returned alongside.
func (c *Controller) Run(ctx context.Context, ep transport.Endpoint, rc config.RoundConfig) (Result, error) {
	ctx, span := tracing.StartRoundSpan(ctx, c.opts.Tracer, c.opts.Profile, string(c.role), c.opts.Topic, rc.Index)

	c.round.Store(int64(rc.Index))
	c.expected.Store(int64(rc.SendCount))
	c.sent.Store(0)
	c.received.Store(0)

	res := Result{
		Profile:   c.opts.Profile,
		Role:      c.role,
		Round:     rc.Index,
		MinSize:   rc.MinSize,
		MaxSize:   rc.MaxSize,
		Expected:  rc.SendCount,
		StartedAt: c.opts.Clock(),
	}

	var err error
	if c.role == config.RolePublisher {
		err = c.publish(ctx, ep, rc, &res)
	} else {
		err = c.subscribe(ctx, ep, rc, &res)
	}

	res.FinishedAt = c.opts.Clock()
	res.computeMetrics()
	c.setState(StateDone)

	tracing.EndSpan(span, err,
		tracing.AttrExpected.Int(res.Expected),
		tracing.AttrLost.Int(res.Lost),
	)
	return res, err
}

// waitMatch polls the endpoint until a peer is matched. It has no timeout of
// its own; only ctx ends it.
func (c *Controller) waitMatch(ctx context.Context, ep transport.Endpoint, round int) error {
	c.setState(StateWaitMatch)
	_, span := tracing.StartPhaseSpan(ctx, c.opts.Tracer, string(PhaseMatch))

	ticker := time.NewTicker(c.opts.MatchPoll)
	defer ticker.Stop()

	announced := false
	for {
		if n := ep.MatchCount(); n > 0 {
			c.logger.Info("peer matched", zap.Int("round", round), zap.Int("matches", n))
			tracing.EndSpan(span, nil)
			return nil
		}
		if !announced {
			c.logger.Info("waiting for peer", zap.Int("round", round), zap.Duration("poll", c.opts.MatchPoll))
			announced = true
		}
		select {
		case <-ctx.Done():
			err := &Error{Round: round, Phase: PhaseMatch, Err: ctx.Err()}
			tracing.EndSpan(span, err)
			return err
		case <-ticker.C:
		}
	}
}

// waitReconnect gives peers up to ReconnectTimeout to re-attach after the
// previous round tore its endpoints down. Expiry is only a warning.
func (c *Controller) waitReconnect(ctx context.Context, ep transport.Endpoint, round int) {
	_, span := tracing.StartPhaseSpan(ctx, c.opts.Tracer, string(PhaseReconnect))
	defer span.End()

	deadline := time.NewTimer(c.opts.ReconnectTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.MatchPoll)
	defer ticker.Stop()

	for ep.MatchCount() == 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			c.logger.Warn("peers did not reconnect in time, continuing",
				zap.Int("round", round), zap.Duration("timeout", c.opts.ReconnectTimeout))
			return
		case <-ticker.C:
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
