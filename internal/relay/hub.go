package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultQueueSize    = 4096
	defaultFlushTimeout = 30 * time.Second
	writeWait           = 10 * time.Second
)

// Hub relays publisher frames to subscribers of the same topic.
type Hub struct {
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	mux          *http.ServeMux
	queueSize    int
	flushTimeout time.Duration

	mu      sync.Mutex
	topics  map[string]*hubTopic
	closed  bool
	matchMu sync.Mutex
}

type hubTopic struct {
	pubs map[*member]struct{}
	subs map[*member]struct{}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithQueueSize sets the per-subscriber outbound queue length.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithFlushTimeout bounds how long a flush waits for subscriber writers.
func WithFlushTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.flushTimeout = d
		}
	}
}

// NewHub returns a hub ready to serve.
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		queueSize:    defaultQueueSize,
		flushTimeout: defaultFlushTimeout,
		topics:       make(map[string]*hubTopic),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc("GET /topics/{topic...}", h.handleTopic)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, hub *Hub) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: hub, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	hub.logger.Info("relay listening", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		hub.Close()
		return err
	}
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects every member and rejects new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var members []*member
	for _, t := range h.topics {
		for m := range t.pubs {
			members = append(members, m)
		}
		for m := range t.subs {
			members = append(members, m)
		}
	}
	h.mu.Unlock()
	for _, m := range members {
		m.close()
	}
}

// Members reports the publisher and subscriber counts on topic.
func (h *Hub) Members(topic string) (pubs, subs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t := h.topics[topic]; t != nil {
		return len(t.pubs), len(t.subs)
	}
	return 0, 0
}

func (h *Hub) handleTopic(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	role := r.URL.Query().Get("role")
	if topic == "" || (role != rolePublisher && role != roleSubscriber) {
		http.Error(w, "topic and role=publisher|subscriber are required", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(DefaultMaxFrameSize)

	m := &member{
		hub:   h,
		conn:  conn,
		topic: topic,
		role:  role,
		id:    r.URL.Query().Get("id"),
		out:   make(chan outItem, h.queueSize),
		done:  make(chan struct{}),
	}
	h.join(m)
	go m.writeLoop()
	m.readLoop()
	h.leave(m)
	m.close()
}

const (
	rolePublisher  = "publisher"
	roleSubscriber = "subscriber"
)

func (h *Hub) join(m *member) {
	h.mu.Lock()
	t := h.topics[m.topic]
	if t == nil {
		t = &hubTopic{pubs: map[*member]struct{}{}, subs: map[*member]struct{}{}}
		h.topics[m.topic] = t
	}
	if m.role == rolePublisher {
		t.pubs[m] = struct{}{}
	} else {
		t.subs[m] = struct{}{}
	}
	h.mu.Unlock()
	h.logger.Debug("member joined", zap.String("topic", m.topic), zap.String("role", m.role), zap.String("id", m.id))
	h.broadcastMatch(m.topic)
}

func (h *Hub) leave(m *member) {
	h.mu.Lock()
	if t := h.topics[m.topic]; t != nil {
		delete(t.pubs, m)
		delete(t.subs, m)
		if len(t.pubs) == 0 && len(t.subs) == 0 {
			delete(h.topics, m.topic)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("member left", zap.String("topic", m.topic), zap.String("role", m.role), zap.String("id", m.id))
	h.broadcastMatch(m.topic)
}

func (h *Hub) subscribers(topic string) []*member {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[topic]
	if t == nil {
		return nil
	}
	out := make([]*member, 0, len(t.subs))
	for m := range t.subs {
		out = append(out, m)
	}
	return out
}

// broadcastMatch tells every member how many peers of the opposite role
// share its topic.
func (h *Hub) broadcastMatch(topic string) {
	h.matchMu.Lock()
	defer h.matchMu.Unlock()

	type update struct {
		m     *member
		count int
	}
	var updates []update
	h.mu.Lock()
	if t := h.topics[topic]; t != nil {
		for m := range t.pubs {
			updates = append(updates, update{m, len(t.subs)})
		}
		for m := range t.subs {
			updates = append(updates, update{m, len(t.pubs)})
		}
	}
	h.mu.Unlock()

	for _, u := range updates {
		u.m.send(outItem{typ: websocket.TextMessage, data: EncodeControl(Control{Op: OpMatch, Count: u.count})})
	}
}

// flush waits until every frame queued to the topic's subscribers before
// the call has been written to their connections.
func (h *Hub) flush(m *member, token uint64) {
	type pending struct {
		sub     *member
		barrier chan struct{}
	}
	var waits []pending
	for _, sub := range h.subscribers(m.topic) {
		b := make(chan struct{})
		if sub.send(outItem{barrier: b}) {
			waits = append(waits, pending{sub, b})
		}
	}

	timer := time.NewTimer(h.flushTimeout)
	defer timer.Stop()
	for _, w := range waits {
		select {
		case <-w.barrier:
		case <-w.sub.done:
		case <-timer.C:
			h.logger.Warn("flush timed out", zap.String("topic", m.topic), zap.String("id", m.id))
			return
		case <-m.done:
			return
		}
	}
	m.send(outItem{typ: websocket.TextMessage, data: EncodeControl(Control{Op: OpFlushed, Token: token})})
}

type outItem struct {
	typ     int
	data    []byte
	barrier chan struct{}
}

type member struct {
	hub   *Hub
	conn  *websocket.Conn
	topic string
	role  string
	id    string

	out       chan outItem
	done      chan struct{}
	closeOnce sync.Once
}

func (m *member) send(item outItem) bool {
	select {
	case m.out <- item:
		return true
	case <-m.done:
		return false
	}
}

func (m *member) close() {
	m.closeOnce.Do(func() {
		close(m.done)
		_ = m.conn.Close()
	})
}

// Barriers still queued when a member goes away are released so flushes
// waiting on them do not stall.
func (m *member) releaseBarriers() {
	for {
		select {
		case item := <-m.out:
			if item.barrier != nil {
				close(item.barrier)
			}
		default:
			return
		}
	}
}

func (m *member) writeLoop() {
	defer m.releaseBarriers()
	for {
		select {
		case <-m.done:
			return
		case item := <-m.out:
			if item.barrier != nil {
				close(item.barrier)
				continue
			}
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteMessage(item.typ, item.data); err != nil {
				m.hub.logger.Debug("relay write failed", zap.String("id", m.id), zap.Error(err))
				m.close()
				return
			}
		}
	}
}

func (m *member) readLoop() {
	for {
		typ, data, err := m.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-m.done:
				default:
					m.hub.logger.Debug("relay read ended", zap.String("id", m.id), zap.Error(err))
				}
			}
			return
		}
		if m.role != rolePublisher {
			continue
		}
		switch typ {
		case websocket.BinaryMessage:
			for _, sub := range m.hub.subscribers(m.topic) {
				sub.send(outItem{typ: websocket.BinaryMessage, data: data})
			}
		case websocket.TextMessage:
			ctrl, err := DecodeControl(data)
			if err != nil {
				m.hub.logger.Debug("bad control frame", zap.String("id", m.id), zap.Error(err))
				continue
			}
			if ctrl.Op == OpFlush {
				m.hub.flush(m, ctrl.Token)
			}
		}
	}
}
