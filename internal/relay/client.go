package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one websocket message exchanged with the relay.
type Frame struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Metrics captures per-connection traffic counters.
type Metrics struct {
	ConnectionDuration time.Duration
	FramesSent         int64
	FramesReceived     int64
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// Client is one connection to a relay hub. Send may be called from one
// goroutine while another goroutine calls Receive.
type Client struct {
	url          string
	headers      http.Header
	dialer       *websocket.Dialer
	maxFrameSize int64
	writeTimeout time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	connectTime time.Time

	framesSent atomic.Int64
	framesRecv atomic.Int64
	bytesSent  atomic.Int64
	bytesRecv  atomic.Int64
	errors     atomic.Int64
}

// ClientConfig configures a relay client.
type ClientConfig struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrameSize     int64
}

// NewClient creates a client; Connect dials it.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}

	return &Client{
		url:          cfg.URL,
		headers:      cfg.Headers,
		dialer:       dialer,
		maxFrameSize: cfg.MaxFrameSize,
		writeTimeout: cfg.WriteTimeout,
	}
}

// Connect dials the relay.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		c.errors.Add(1)
		if resp != nil {
			return fmt.Errorf("relay dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("relay dial failed: %w", err)
	}
	conn.SetReadLimit(c.maxFrameSize)

	c.conn = conn
	c.connectTime = time.Now()
	return nil
}

// Send writes one frame.
func (c *Client) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(f.Type, f.Data); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("write frame: %w", err)
	}

	c.framesSent.Add(1)
	c.bytesSent.Add(int64(len(f.Data)))
	return nil
}

// Receive blocks for the next frame. It returns an error once the
// connection is closed.
func (c *Client) Receive() (Frame, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return Frame{}, fmt.Errorf("not connected")
	}

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		c.errors.Add(1)
		return Frame{}, fmt.Errorf("read frame: %w", err)
	}

	c.framesRecv.Add(1)
	c.bytesRecv.Add(int64(len(data)))
	return Frame{Type: msgType, Data: data}, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)

	closeErr := c.conn.Close()
	c.conn = nil

	if err != nil {
		return err
	}
	return closeErr
}

// Metrics returns the current counters.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	connected := c.connectTime
	c.mu.Unlock()

	duration := time.Duration(0)
	if !connected.IsZero() {
		duration = time.Since(connected)
	}

	return Metrics{
		ConnectionDuration: duration,
		FramesSent:         c.framesSent.Load(),
		FramesReceived:     c.framesRecv.Load(),
		BytesSent:          c.bytesSent.Load(),
		BytesReceived:      c.bytesRecv.Load(),
		Errors:             c.errors.Load(),
	}
}
