// Package transport abstracts the publish/subscribe fabric a benchmark runs
// over. A Transport creates Endpoints; a publisher endpoint writes raw
// messages and a subscriber endpoint delivers them to packet handlers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/packet"
)

var (
	// ErrAckTimeout is returned by WaitForAcknowledgment when subscribers
	// did not confirm delivery in time.
	ErrAckTimeout = errors.New("acknowledgment timeout")
	// ErrClosed is returned for operations on a shut down endpoint or a
	// closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrWrongRole is returned when an operation does not apply to the
	// endpoint's role.
	ErrWrongRole = errors.New("operation not valid for endpoint role")
)

// EndpointOptions describe the endpoint to create.
type EndpointOptions struct {
	Role     config.Role
	Topic    string
	DomainID int
	QoS      config.QoS
}

// Endpoint is one publisher or subscriber attached to a topic.
type Endpoint interface {
	// MatchCount returns the number of peers of the opposite role
	// currently attached to the topic.
	MatchCount() int
	// Write publishes one message. The transport does not retain msg.
	Write(msg []byte) error
	// WaitForAcknowledgment blocks until every message written so far has
	// been handed to the matched subscribers, or timeout elapses.
	WaitForAcknowledgment(ctx context.Context, timeout time.Duration) error
	// RegisterInbound installs the handlers inbound messages are
	// dispatched to. Subscriber endpoints only.
	RegisterInbound(h packet.Handlers) error
	// InboundStats reports messages the subscriber discarded.
	InboundStats() packet.DispatchStats
	// Shutdown detaches the endpoint. It is safe to call more than once.
	Shutdown() error
}

// Transport creates endpoints over one fabric.
type Transport interface {
	Name() string
	CreateEndpoint(ctx context.Context, opts EndpointOptions) (Endpoint, error)
	Close() error
}

// New returns the transport selected by cfg.Transport.
func New(cfg *config.Config, logger *zap.Logger) (Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Transport {
	case config.TransportMemory, "":
		return NewBus(logger), nil
	case config.TransportNATS:
		return NewNATS(cfg.NATS, logger)
	case config.TransportWebSocket:
		return NewRelayTransport(cfg.Relay.URL, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func validateOptions(opts EndpointOptions) error {
	if opts.Topic == "" {
		return fmt.Errorf("endpoint topic is required")
	}
	if opts.Role != config.RolePublisher && opts.Role != config.RoleSubscriber {
		return fmt.Errorf("endpoint role %q is invalid", opts.Role)
	}
	return nil
}

// topicKey scopes a topic name to its domain.
func topicKey(opts EndpointOptions) string {
	return fmt.Sprintf("d%d.%s", opts.DomainID, opts.Topic)
}

// inbound holds the dispatcher of a subscriber endpoint. Messages that arrive
// before handlers are registered are counted as invalid.
type inbound struct {
	dispatcher atomic.Pointer[packet.Dispatcher]
	dropped    atomic.Int64
}

func (in *inbound) register(h packet.Handlers, logger *zap.Logger) {
	in.dispatcher.Store(packet.NewDispatcher(h, logger))
}

func (in *inbound) deliver(data []byte, at time.Time) {
	d := in.dispatcher.Load()
	if d == nil {
		in.dropped.Add(1)
		return
	}
	d.Deliver(data, at)
}

func (in *inbound) stats() packet.DispatchStats {
	var s packet.DispatchStats
	if d := in.dispatcher.Load(); d != nil {
		s = d.Stats()
	}
	s.Invalid += in.dropped.Load()
	return s
}
