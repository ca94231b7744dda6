package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/packet"
)

const (
	subjectPrefix           = "tpbench"
	defaultPresenceInterval = 250 * time.Millisecond
	minPresenceTTL          = time.Second
)

// NATS publishes benchmark messages on core NATS subjects. Peers discover
// each other through periodic presence announcements on a side subject.
type NATS struct {
	conn     *nats.Conn
	logger   *zap.Logger
	interval time.Duration
}

// NewNATS connects to the server at cfg.URL.
func NewNATS(cfg config.NATSConfig, logger *zap.Logger) (*NATS, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "tpbench"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	interval := cfg.PresenceInterval
	if interval <= 0 {
		interval = defaultPresenceInterval
	}
	logger.Info("connected to NATS", zap.String("url", nc.ConnectedUrl()), zap.String("name", name))
	return &NATS{conn: nc, logger: logger, interval: interval}, nil
}

func (n *NATS) Name() string { return string(config.TransportNATS) }

// Close drops the connection. Endpoints still attached stop working.
func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

type presence struct {
	ID    string      `json:"id"`
	Role  config.Role `json:"role"`
	Leave bool        `json:"leave,omitempty"`
}

// CreateEndpoint subscribes to the presence subject and, for subscribers, to
// the data subject, then starts announcing the endpoint.
func (n *NATS) CreateEndpoint(ctx context.Context, opts EndpointOptions) (Endpoint, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.conn.IsClosed() {
		return nil, ErrClosed
	}

	base := subjectPrefix + "." + topicKey(opts)
	ep := &natsEndpoint{
		conn:     n.conn,
		logger:   n.logger.With(zap.String("subject", base), zap.String("role", string(opts.Role))),
		id:       uuid.NewString(),
		role:     opts.Role,
		data:     base + ".data",
		presence: base + ".presence",
		interval: n.interval,
		ttl:      max(4*n.interval, minPresenceTTL),
		peers:    make(map[string]time.Time),
		stop:     make(chan struct{}),
	}

	presenceSub, err := n.conn.Subscribe(ep.presence, ep.onPresence)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ep.presence, err)
	}
	ep.subs = append(ep.subs, presenceSub)

	if opts.Role == config.RoleSubscriber {
		dataSub, err := n.conn.Subscribe(ep.data, func(m *nats.Msg) {
			ep.in.deliver(m.Data, time.Now())
		})
		if err != nil {
			ep.unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", ep.data, err)
		}
		if err := dataSub.SetPendingLimits(-1, -1); err != nil {
			ep.logger.Warn("could not lift pending limits", zap.Error(err))
		}
		ep.subs = append(ep.subs, dataSub)
	}

	if err := ep.announce(false); err != nil {
		ep.unsubscribe()
		return nil, err
	}
	ep.wg.Add(1)
	go ep.heartbeat()
	return ep, nil
}

type natsEndpoint struct {
	conn     *nats.Conn
	logger   *zap.Logger
	id       string
	role     config.Role
	data     string
	presence string
	interval time.Duration
	ttl      time.Duration

	subs []*nats.Subscription
	in   inbound

	mu    sync.Mutex
	peers map[string]time.Time

	closed   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (e *natsEndpoint) announce(leave bool) error {
	payload, err := json.Marshal(presence{ID: e.id, Role: e.role, Leave: leave})
	if err != nil {
		return err
	}
	return e.conn.Publish(e.presence, payload)
}

func (e *natsEndpoint) heartbeat() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.announce(false); err != nil {
				e.logger.Debug("presence announce failed", zap.Error(err))
			}
		}
	}
}

func (e *natsEndpoint) onPresence(m *nats.Msg) {
	var p presence
	if err := json.Unmarshal(m.Data, &p); err != nil {
		e.logger.Debug("ignoring malformed presence message", zap.Error(err))
		return
	}
	if p.ID == e.id || p.Role == e.role {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.Leave {
		delete(e.peers, p.ID)
		return
	}
	e.peers[p.ID] = time.Now()
}

func (e *natsEndpoint) MatchCount() int {
	if e.closed.Load() {
		return 0
	}
	cutoff := time.Now().Add(-e.ttl)
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for id, seen := range e.peers {
		if seen.Before(cutoff) {
			delete(e.peers, id)
			continue
		}
		count++
	}
	return count
}

func (e *natsEndpoint) Write(msg []byte) error {
	if e.role != config.RolePublisher {
		return ErrWrongRole
	}
	if e.closed.Load() {
		return ErrClosed
	}
	return e.conn.Publish(e.data, msg)
}

// WaitForAcknowledgment flushes the connection: it returns once the server
// has processed every message published before the call.
func (e *natsEndpoint) WaitForAcknowledgment(ctx context.Context, timeout time.Duration) error {
	if e.role != config.RolePublisher {
		return ErrWrongRole
	}
	if timeout <= 0 {
		return e.conn.Flush()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.conn.FlushWithContext(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return ErrAckTimeout
		}
		return err
	}
	return nil
}

func (e *natsEndpoint) RegisterInbound(h packet.Handlers) error {
	if e.role != config.RoleSubscriber {
		return ErrWrongRole
	}
	e.in.register(h, e.logger)
	return nil
}

func (e *natsEndpoint) InboundStats() packet.DispatchStats {
	return e.in.stats()
}

func (e *natsEndpoint) unsubscribe() {
	for _, sub := range e.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			e.logger.Debug("unsubscribe failed", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	e.subs = nil
}

func (e *natsEndpoint) Shutdown() error {
	var err error
	e.stopOnce.Do(func() {
		e.closed.Store(true)
		close(e.stop)
		e.wg.Wait()
		if e.conn.IsClosed() {
			return
		}
		if aerr := e.announce(true); aerr != nil {
			e.logger.Debug("leave announce failed", zap.Error(aerr))
		}
		e.unsubscribe()
		err = e.conn.Flush()
	})
	return err
}
