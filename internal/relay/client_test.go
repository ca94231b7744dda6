package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// createEchoServer starts a websocket server that echoes every frame.
func createEchoServer() *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientSendReceiveBinary(t *testing.T) {
	server := createEchoServer()
	defer server.Close()

	client := NewClient(ClientConfig{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	payload := []byte{0x00, 0x01, 0xfe, 0xff}
	if err := client.Send(Frame{Type: websocket.BinaryMessage, Data: payload}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if got.Type != websocket.BinaryMessage {
		t.Errorf("Expected binary frame, got type %d", got.Type)
	}
	if string(got.Data) != string(payload) {
		t.Errorf("Expected %v, got %v", payload, got.Data)
	}
}

func TestClientMetricsTracking(t *testing.T) {
	server := createEchoServer()
	defer server.Close()

	client := NewClient(ClientConfig{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	frames := 5
	for i := 0; i < frames; i++ {
		msg := fmt.Sprintf("frame-%d", i)
		if err := client.Send(Frame{Type: websocket.TextMessage, Data: []byte(msg)}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		if _, err := client.Receive(); err != nil {
			t.Fatalf("Receive %d failed: %v", i, err)
		}
	}

	m := client.Metrics()
	if m.FramesSent != int64(frames) {
		t.Errorf("Expected %d frames sent, got %d", frames, m.FramesSent)
	}
	if m.FramesReceived != int64(frames) {
		t.Errorf("Expected %d frames received, got %d", frames, m.FramesReceived)
	}
	if m.BytesSent != m.BytesReceived || m.BytesSent == 0 {
		t.Errorf("Expected matching non-zero byte counts, got sent=%d received=%d", m.BytesSent, m.BytesReceived)
	}
	if m.ConnectionDuration <= 0 {
		t.Errorf("Expected positive connection duration")
	}
}

func TestClientConnectionError(t *testing.T) {
	client := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/nowhere"})
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("Expected connection error")
	}
	if client.Metrics().Errors != 1 {
		t.Errorf("Expected 1 error, got %d", client.Metrics().Errors)
	}
}

func TestClientNotConnected(t *testing.T) {
	client := NewClient(ClientConfig{URL: "ws://unused"})
	if err := client.Send(Frame{Type: websocket.TextMessage, Data: []byte("x")}); err == nil {
		t.Error("Expected error sending without connection")
	}
	if _, err := client.Receive(); err == nil {
		t.Error("Expected error receiving without connection")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close without connection should be a no-op, got %v", err)
	}
}

func TestClientDoubleConnect(t *testing.T) {
	server := createEchoServer()
	defer server.Close()

	client := NewClient(ClientConfig{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Connect(context.Background()); err == nil {
		t.Error("Expected error on second Connect")
	}
}

func TestClientCloseUnblocksReceive(t *testing.T) {
	server := createEchoServer()
	defer server.Close()

	client := NewClient(ClientConfig{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Receive()
		errCh <- err
	}()

	_ = client.Close()
	if err := <-errCh; err == nil {
		t.Error("Expected Receive to fail after Close")
	}
}

func TestTopicURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"ws://relay:7070", "ws://relay:7070/topics/d0.bench?id=abc&role=publisher"},
		{"http://relay:7070/", "ws://relay:7070/topics/d0.bench?id=abc&role=publisher"},
		{"https://relay/base", "wss://relay/base/topics/d0.bench?id=abc&role=publisher"},
	}
	for _, tt := range tests {
		got, err := TopicURL(tt.base, "d0.bench", "publisher", "abc")
		if err != nil {
			t.Fatalf("TopicURL(%q) error: %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("TopicURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
