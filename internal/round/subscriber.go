package round

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/packet"
	"github.com/torosent/tpbench/internal/tracing"
	"github.com/torosent/tpbench/internal/transport"
)

// receiver is the state shared between the transport's delivery goroutine
// and the controller waiting for the round to end.
type receiver struct {
	round    int
	printGap int
	logger   *zap.Logger
	progress *atomic.Int64

	mu        sync.Mutex
	cond      *sync.Cond
	received  int
	bytes     int64
	first     time.Time
	end       time.Time
	ended     bool
	cancelled bool
	latency   *latencyRecorder
}

func newReceiver(round, printGap int, logger *zap.Logger, progress *atomic.Int64) *receiver {
	r := &receiver{
		round:    round,
		printGap: printGap,
		logger:   logger,
		progress: progress,
		latency:  newLatencyRecorder(),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *receiver) handlers() packet.Handlers {
	return packet.Handlers{OnMessage: r.onMessage, OnEnd: r.onEnd}
}

func (r *receiver) onMessage(h packet.Header, size int, at time.Time) {
	r.mu.Lock()
	if r.received == 0 {
		r.first = at
	}
	r.received++
	r.bytes += int64(size)
	if h.SentAt > 0 {
		r.latency.record(at.Sub(h.Sent()))
	}
	n := r.received
	r.mu.Unlock()

	r.progress.Store(int64(n))
	if r.printGap > 0 && n%r.printGap == 0 {
		r.logger.Info("received", zap.Int("round", r.round), zap.Int("count", n))
	}
}

func (r *receiver) onEnd(_ packet.Header, at time.Time) {
	r.mu.Lock()
	if !r.ended {
		r.ended = true
		r.end = at
	}
	r.mu.Unlock()
	r.cond.Broadcast()
}

// wait blocks until the END sentinel arrives or ctx is done. It reports
// whether the round ended.
func (r *receiver) wait(ctx context.Context) bool {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cancelled = true
		r.mu.Unlock()
		r.cond.Broadcast()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.ended && !r.cancelled {
		r.cond.Wait()
	}
	return r.ended
}

// fill copies the counters into res.
func (r *receiver) fill(res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res.Delivered = r.received
	res.Bytes = r.bytes
	if r.received > 0 && r.end.After(r.first) {
		res.Elapsed = r.end.Sub(r.first)
	}
	res.Latency = r.latency.stats()
}

// subscribe registers the inbound handlers before waiting for a match, so
// that DATA racing the match poll is still counted.
func (c *Controller) subscribe(ctx context.Context, ep transport.Endpoint, rc config.RoundConfig, res *Result) error {
	recv := newReceiver(rc.Index, rc.PrintGap, c.logger, &c.received)
	if err := ep.RegisterInbound(recv.handlers()); err != nil {
		return &Error{Round: rc.Index, Phase: PhaseEndpoint, Err: err}
	}

	if err := c.waitMatch(ctx, ep, rc.Index); err != nil {
		return err
	}
	c.setState(StateActive)
	c.logger.Info("round started", zap.Int("round", rc.Index), zap.Int("expected", rc.SendCount))

	c.setState(StateAwaitCompletion)
	_, span := tracing.StartPhaseSpan(ctx, c.opts.Tracer, string(PhaseCompletion))
	ended := recv.wait(ctx)

	recv.fill(res)
	stats := ep.InboundStats()
	res.Invalid = stats.Invalid
	res.Late = stats.Late
	res.Duplicates = stats.Duplicates

	if !ended {
		err := &Error{Round: rc.Index, Phase: PhaseCompletion, Err: ctx.Err()}
		tracing.EndSpan(span, err)
		return err
	}
	if res.Late > 0 {
		c.logger.Warn("data arrived after the end sentinel and was not counted",
			zap.Int("round", rc.Index), zap.Int64("late", res.Late))
	}
	tracing.EndSpan(span, nil, tracing.AttrReceived.Int(res.Delivered))
	return nil
}
