package round

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/packet"
	"github.com/torosent/tpbench/internal/tracing"
	"github.com/torosent/tpbench/internal/transport"
)

// maxLoggedSendErrors bounds per-message warnings; later failures are only
// counted.
const maxLoggedSendErrors = 10

func (c *Controller) publish(ctx context.Context, ep transport.Endpoint, rc config.RoundConfig, res *Result) error {
	if rc.Index > 0 {
		c.waitReconnect(ctx, ep, rc.Index)
	}
	if err := c.waitMatch(ctx, ep, rc.Index); err != nil {
		return err
	}
	c.setState(StateActive)

	if c.zeroCopy != nil {
		if err := c.zeroCopy.EnsureCapacity(rc.MaxSize); err != nil {
			return &Error{Round: rc.Index, Phase: PhaseTransfer, Err: err}
		}
	}

	if err := c.transfer(ctx, ep, rc, res); err != nil {
		return err
	}

	ackCtx, span := tracing.StartPhaseSpan(ctx, c.opts.Tracer, string(PhaseAck))
	err := ep.WaitForAcknowledgment(ackCtx, c.opts.AckTimeout)
	switch {
	case err == nil:
		tracing.EndSpan(span, nil)
	case errors.Is(err, transport.ErrAckTimeout):
		res.AckTimeout = true
		c.logger.Warn("acknowledgment timed out, sending sentinels anyway",
			zap.Int("round", rc.Index), zap.Duration("timeout", c.opts.AckTimeout))
		tracing.EndSpan(span, err)
	case ctx.Err() != nil:
		tracing.EndSpan(span, err)
		return &Error{Round: rc.Index, Phase: PhaseAck, Err: ctx.Err()}
	default:
		c.logger.Warn("acknowledgment failed", zap.Int("round", rc.Index), zap.Error(err))
		tracing.EndSpan(span, err)
	}

	return c.sendSentinels(ctx, ep, rc.Index)
}

// transfer sends the round's DATA messages and records the send window.
func (c *Controller) transfer(ctx context.Context, ep transport.Endpoint, rc config.RoundConfig, res *Result) error {
	ctx, span := tracing.StartPhaseSpan(ctx, c.opts.Tracer, string(PhaseTransfer))
	limiter := c.opts.LimiterFactory(c.opts.RatePerSecond)

	fail := func(err error) error {
		rerr := &Error{Round: rc.Index, Phase: PhaseTransfer, Err: err}
		tracing.EndSpan(span, rerr)
		return rerr
	}

	c.logger.Info("round started",
		zap.Int("round", rc.Index),
		zap.Int("send_count", rc.SendCount),
		zap.Int("min_size", rc.MinSize),
		zap.Int("max_size", rc.MaxSize),
	)

	start := c.opts.Clock()
	for i := 0; i < rc.SendCount; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return fail(err)
		}

		msg, err := c.message(c.nextSize(rc), uint32(i))
		if err != nil {
			return fail(err)
		}
		werr := ep.Write(msg)
		size := len(msg)
		c.release(msg)

		if werr != nil {
			res.SendErrors++
			if res.SendErrors <= maxLoggedSendErrors {
				c.logger.Warn("send failed", zap.Int("round", rc.Index), zap.Int("seq", i), zap.Error(werr))
			}
		} else {
			res.Delivered++
			res.Bytes += int64(size)
			c.sent.Add(1)
		}

		if rc.PrintGap > 0 && (i+1)%rc.PrintGap == 0 {
			c.logger.Info("sent", zap.Int("round", rc.Index), zap.Int("count", i+1))
		}
		if rc.SendDelayCount > 0 && (i+1)%rc.SendDelayCount == 0 {
			if err := sleep(ctx, rc.SendDelay); err != nil {
				return fail(err)
			}
		}
	}
	res.Elapsed = c.opts.Clock().Sub(start)

	if res.SendErrors > 0 {
		c.logger.Warn("round finished with send errors", zap.Int("round", rc.Index), zap.Int("send_errors", res.SendErrors))
	}
	tracing.EndSpan(span, nil, tracing.AttrSent.Int(res.Delivered))
	return nil
}

// sendSentinels writes the END burst. A failed copy is logged; the receiver
// only needs one of them.
func (c *Controller) sendSentinels(ctx context.Context, ep transport.Endpoint, round int) error {
	_, span := tracing.StartPhaseSpan(ctx, c.opts.Tracer, string(PhaseSentinel))

	delivered := 0
	for i := 0; i < packet.SentinelRepeats; i++ {
		if i > 0 {
			if err := sleep(ctx, packet.SentinelGap); err != nil {
				rerr := &Error{Round: round, Phase: PhaseSentinel, Err: err}
				tracing.EndSpan(span, rerr)
				return rerr
			}
		}
		msg, err := c.sentinel()
		if err != nil {
			rerr := &Error{Round: round, Phase: PhaseSentinel, Err: err}
			tracing.EndSpan(span, rerr)
			return rerr
		}
		werr := ep.Write(msg)
		c.release(msg)
		if werr != nil {
			c.logger.Warn("sentinel send failed", zap.Int("round", round), zap.Int("copy", i+1), zap.Error(werr))
			continue
		}
		delivered++
	}
	if delivered == 0 {
		c.logger.Error("no sentinel copy was sent, subscribers will not complete", zap.Int("round", round))
	}
	tracing.EndSpan(span, nil)
	return nil
}

// nextSize draws a total message size uniformly from [MinSize, MaxSize].
func (c *Controller) nextSize(rc config.RoundConfig) int {
	if rc.MaxSize <= rc.MinSize {
		return rc.MinSize
	}
	return rc.MinSize + c.rng.IntN(rc.MaxSize-rc.MinSize+1)
}

func (c *Controller) message(size int, seq uint32) ([]byte, error) {
	if c.zeroCopy != nil {
		view, err := c.zeroCopy.PrepareMessage(size, seq)
		if err != nil {
			return nil, err
		}
		return view.Bytes(), nil
	}
	return c.allocating.NewMessage(size, seq)
}

func (c *Controller) sentinel() ([]byte, error) {
	if c.zeroCopy != nil {
		view, err := c.zeroCopy.PrepareSentinel()
		if err != nil {
			return nil, err
		}
		return view.Bytes(), nil
	}
	return c.allocating.NewSentinel()
}

// release returns per-message allocations; zero-copy messages alias the
// controller's buffer and stay put.
func (c *Controller) release(msg []byte) {
	if c.allocating != nil {
		c.allocating.Release(msg)
	}
}
