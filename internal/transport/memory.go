package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/packet"
)

// DefaultQueueSize bounds each in-memory subscriber queue.
const DefaultQueueSize = 4096

// DropFilter decides whether the bus discards a message instead of
// delivering it to a subscriber. It sees the decoded header and is used to
// inject loss.
type DropFilter func(h packet.Header) bool

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithQueueSize sets the per-subscriber queue length.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithDropFilter installs a loss injection filter.
func WithDropFilter(f DropFilter) BusOption {
	return func(b *Bus) { b.drop = f }
}

// Bus is an in-process transport. Publishers fan messages out to every
// subscriber of the same domain and topic; each subscriber drains its own
// bounded queue on a dedicated goroutine, so a full queue blocks the writer.
type Bus struct {
	logger    *zap.Logger
	queueSize int
	drop      DropFilter

	mu     sync.Mutex
	topics map[string]*memTopic
	closed bool
}

type memTopic struct {
	pubs map[*memEndpoint]struct{}
	subs map[*memEndpoint]struct{}
}

// NewBus returns an empty in-memory bus.
func NewBus(logger *zap.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		logger:    logger,
		queueSize: DefaultQueueSize,
		topics:    make(map[string]*memTopic),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Name() string { return string(config.TransportMemory) }

// CreateEndpoint attaches a new endpoint to the topic.
func (b *Bus) CreateEndpoint(ctx context.Context, opts EndpointOptions) (Endpoint, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := topicKey(opts)
	ep := &memEndpoint{
		bus:  b,
		key:  key,
		role: opts.Role,
		done: make(chan struct{}),
	}
	if opts.Role == config.RoleSubscriber {
		ep.queue = make(chan memMessage, b.queueSize)
		ep.idle = sync.NewCond(&ep.pendingMu)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	t := b.topics[key]
	if t == nil {
		t = &memTopic{pubs: map[*memEndpoint]struct{}{}, subs: map[*memEndpoint]struct{}{}}
		b.topics[key] = t
	}
	if opts.Role == config.RolePublisher {
		t.pubs[ep] = struct{}{}
	} else {
		t.subs[ep] = struct{}{}
		ep.wg.Add(1)
		go ep.drain()
	}
	b.logger.Debug("memory endpoint attached",
		zap.String("topic", key),
		zap.String("role", string(opts.Role)),
		zap.Int("publishers", len(t.pubs)),
		zap.Int("subscribers", len(t.subs)),
	)
	return ep, nil
}

// Close shuts down every endpoint still attached.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var eps []*memEndpoint
	for _, t := range b.topics {
		for ep := range t.pubs {
			eps = append(eps, ep)
		}
		for ep := range t.subs {
			eps = append(eps, ep)
		}
	}
	b.mu.Unlock()

	for _, ep := range eps {
		_ = ep.Shutdown()
	}
	return nil
}

func (b *Bus) detach(ep *memEndpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topics[ep.key]
	if t == nil {
		return
	}
	delete(t.pubs, ep)
	delete(t.subs, ep)
	if len(t.pubs) == 0 && len(t.subs) == 0 {
		delete(b.topics, ep.key)
	}
}

func (b *Bus) peers(ep *memEndpoint) []*memEndpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topics[ep.key]
	if t == nil {
		return nil
	}
	set := t.subs
	if ep.role == config.RoleSubscriber {
		set = t.pubs
	}
	out := make([]*memEndpoint, 0, len(set))
	for peer := range set {
		out = append(out, peer)
	}
	return out
}

type memMessage struct {
	data []byte
}

type memEndpoint struct {
	bus  *Bus
	key  string
	role config.Role

	queue chan memMessage
	in    inbound

	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond

	closed   atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (e *memEndpoint) MatchCount() int {
	if e.closed.Load() {
		return 0
	}
	return len(e.bus.peers(e))
}

func (e *memEndpoint) Write(msg []byte) error {
	if e.role != config.RolePublisher {
		return ErrWrongRole
	}
	if e.closed.Load() {
		return ErrClosed
	}
	subs := e.bus.peers(e)
	if len(subs) == 0 {
		return nil
	}

	if drop := e.bus.drop; drop != nil {
		if h, err := packet.Decode(msg); err == nil && drop(h) {
			return nil
		}
	}

	for _, sub := range subs {
		data := make([]byte, len(msg))
		copy(data, msg)
		sub.enqueue(data)
	}
	return nil
}

func (e *memEndpoint) enqueue(data []byte) {
	e.pendingMu.Lock()
	e.pending++
	e.pendingMu.Unlock()

	select {
	case e.queue <- memMessage{data: data}:
	case <-e.done:
		e.settle()
	}
}

func (e *memEndpoint) settle() {
	e.pendingMu.Lock()
	e.pending--
	if e.pending == 0 {
		e.idle.Broadcast()
	}
	e.pendingMu.Unlock()
}

func (e *memEndpoint) drain() {
	defer e.wg.Done()
	for {
		select {
		case msg := <-e.queue:
			e.in.deliver(msg.data, time.Now())
			e.settle()
		case <-e.done:
			for {
				select {
				case <-e.queue:
					e.settle()
				default:
					return
				}
			}
		}
	}
}

// waitIdle blocks until the subscriber queue is empty or ctx ends.
func (e *memEndpoint) waitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		e.pendingMu.Lock()
		e.idle.Broadcast()
		e.pendingMu.Unlock()
	})
	defer stop()

	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	for e.pending > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.idle.Wait()
	}
	return nil
}

func (e *memEndpoint) WaitForAcknowledgment(ctx context.Context, timeout time.Duration) error {
	if e.role != config.RolePublisher {
		return ErrWrongRole
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for _, sub := range e.bus.peers(e) {
		if err := sub.waitIdle(ctx); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return ErrAckTimeout
			}
			return err
		}
	}
	return nil
}

func (e *memEndpoint) RegisterInbound(h packet.Handlers) error {
	if e.role != config.RoleSubscriber {
		return ErrWrongRole
	}
	e.in.register(h, e.bus.logger)
	return nil
}

func (e *memEndpoint) InboundStats() packet.DispatchStats {
	return e.in.stats()
}

func (e *memEndpoint) Shutdown() error {
	e.stopOnce.Do(func() {
		e.closed.Store(true)
		e.bus.detach(e)
		close(e.done)
		e.wg.Wait()
		if e.idle != nil {
			e.pendingMu.Lock()
			e.pending = 0
			e.idle.Broadcast()
			e.pendingMu.Unlock()
		}
	})
	return nil
}
