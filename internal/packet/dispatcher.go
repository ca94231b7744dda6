package packet

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handlers are the inbound callbacks a subscriber registers with a transport.
// They run on the transport's delivery goroutine.
type Handlers struct {
	OnMessage func(h Header, size int, at time.Time)
	OnEnd     func(h Header, at time.Time)
}

// DispatchStats counts messages the dispatcher did not hand to OnMessage.
type DispatchStats struct {
	Invalid    int64
	Late       int64
	Duplicates int64
}

// Dispatcher decodes raw inbound messages and routes them to Handlers.
// Once an END message has been seen, further DATA is counted as late and
// further END copies as duplicates; neither reaches the handlers.
type Dispatcher struct {
	handlers Handlers
	logger   *zap.Logger

	ended      atomic.Bool
	invalid    atomic.Int64
	late       atomic.Int64
	duplicates atomic.Int64
}

// NewDispatcher returns a dispatcher for one round.
func NewDispatcher(h Handlers, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{handlers: h, logger: logger}
}

// Deliver processes one inbound message.
func (d *Dispatcher) Deliver(data []byte, at time.Time) {
	h, err := Decode(data)
	if err != nil {
		d.invalid.Add(1)
		d.logger.Warn("discarding inbound message", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}

	switch h.Kind {
	case KindEnd:
		if !d.ended.CompareAndSwap(false, true) {
			d.duplicates.Add(1)
			return
		}
		if d.handlers.OnEnd != nil {
			d.handlers.OnEnd(h, at)
		}
	case KindData:
		if d.ended.Load() {
			d.late.Add(1)
			return
		}
		if d.handlers.OnMessage != nil {
			d.handlers.OnMessage(h, len(data), at)
		}
	}
}

// Ended reports whether an END message has been delivered.
func (d *Dispatcher) Ended() bool {
	return d.ended.Load()
}

// Stats returns the discard counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Invalid:    d.invalid.Load(),
		Late:       d.late.Load(),
		Duplicates: d.duplicates.Load(),
	}
}
