package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/packet"
	"github.com/torosent/tpbench/internal/relay"
)

// RelayTransport connects endpoints to a websocket relay hub, one connection
// per endpoint.
type RelayTransport struct {
	url    string
	logger *zap.Logger

	mu     sync.Mutex
	eps    map[*relayEndpoint]struct{}
	closed bool
}

// NewRelayTransport returns a transport for the relay at url.
func NewRelayTransport(url string, logger *zap.Logger) *RelayTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayTransport{url: url, logger: logger, eps: make(map[*relayEndpoint]struct{})}
}

func (t *RelayTransport) Name() string { return string(config.TransportWebSocket) }

func (t *RelayTransport) CreateEndpoint(ctx context.Context, opts EndpointOptions) (Endpoint, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	id := uuid.NewString()
	target, err := relay.TopicURL(t.url, topicKey(opts), string(opts.Role), id)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	client := relay.NewClient(relay.ClientConfig{URL: target, WriteTimeout: 10 * time.Second})
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	ep := &relayEndpoint{
		owner:   t,
		client:  client,
		role:    opts.Role,
		logger:  t.logger.With(zap.String("topic", opts.Topic), zap.String("role", string(opts.Role)), zap.String("id", id)),
		waiters: make(map[uint64]chan struct{}),
		done:    make(chan struct{}),
	}
	t.mu.Lock()
	t.eps[ep] = struct{}{}
	t.mu.Unlock()

	go ep.readLoop()
	return ep, nil
}

// Close shuts down every endpoint created by this transport.
func (t *RelayTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	eps := make([]*relayEndpoint, 0, len(t.eps))
	for ep := range t.eps {
		eps = append(eps, ep)
	}
	t.mu.Unlock()
	for _, ep := range eps {
		_ = ep.Shutdown()
	}
	return nil
}

type relayEndpoint struct {
	owner  *RelayTransport
	client *relay.Client
	role   config.Role
	logger *zap.Logger

	matches atomic.Int64
	in      inbound

	mu      sync.Mutex
	token   uint64
	waiters map[uint64]chan struct{}

	closed   atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func (e *relayEndpoint) readLoop() {
	defer close(e.done)
	for {
		f, err := e.client.Receive()
		if err != nil {
			if !e.closed.Load() {
				e.logger.Warn("relay connection lost", zap.Error(err))
			}
			e.matches.Store(0)
			return
		}
		switch f.Type {
		case websocket.BinaryMessage:
			e.in.deliver(f.Data, time.Now())
		case websocket.TextMessage:
			ctrl, err := relay.DecodeControl(f.Data)
			if err != nil {
				e.logger.Debug("bad control frame", zap.Error(err))
				continue
			}
			switch ctrl.Op {
			case relay.OpMatch:
				e.matches.Store(int64(ctrl.Count))
			case relay.OpFlushed:
				e.mu.Lock()
				if ch, ok := e.waiters[ctrl.Token]; ok {
					close(ch)
					delete(e.waiters, ctrl.Token)
				}
				e.mu.Unlock()
			}
		}
	}
}

func (e *relayEndpoint) MatchCount() int {
	if e.closed.Load() {
		return 0
	}
	return int(e.matches.Load())
}

func (e *relayEndpoint) Write(msg []byte) error {
	if e.role != config.RolePublisher {
		return ErrWrongRole
	}
	if e.closed.Load() {
		return ErrClosed
	}
	return e.client.Send(relay.Frame{Type: websocket.BinaryMessage, Data: msg})
}

// WaitForAcknowledgment asks the hub to confirm that every frame written so
// far has been passed on to the subscribers' connections.
func (e *relayEndpoint) WaitForAcknowledgment(ctx context.Context, timeout time.Duration) error {
	if e.role != config.RolePublisher {
		return ErrWrongRole
	}
	if e.closed.Load() {
		return ErrClosed
	}

	e.mu.Lock()
	e.token++
	token := e.token
	ch := make(chan struct{})
	e.waiters[token] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.waiters, token)
		e.mu.Unlock()
	}()

	if err := e.client.Send(relay.Frame{Type: websocket.TextMessage, Data: relay.EncodeControl(relay.Control{Op: relay.OpFlush, Token: token})}); err != nil {
		return err
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	select {
	case <-ch:
		return nil
	case <-timeoutC:
		return ErrAckTimeout
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *relayEndpoint) RegisterInbound(h packet.Handlers) error {
	if e.role != config.RoleSubscriber {
		return ErrWrongRole
	}
	e.in.register(h, e.logger)
	return nil
}

func (e *relayEndpoint) InboundStats() packet.DispatchStats {
	return e.in.stats()
}

func (e *relayEndpoint) Shutdown() error {
	var err error
	e.stopOnce.Do(func() {
		e.closed.Store(true)
		err = e.client.Close()
		<-e.done
		e.owner.mu.Lock()
		delete(e.owner.eps, e)
		e.owner.mu.Unlock()
	})
	return err
}
