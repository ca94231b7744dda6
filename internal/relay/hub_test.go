package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTopic(t *testing.T, server *httptest.Server, topic, role, id string) *Client {
	t.Helper()
	target, err := TopicURL(server.URL, topic, role, id)
	if err != nil {
		t.Fatalf("TopicURL failed: %v", err)
	}
	client := NewClient(ClientConfig{URL: target})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect(%s) failed: %v", role, err)
	}
	return client
}

// nextControl skips binary frames until a control frame with op arrives.
func nextControl(t *testing.T, c *Client, op string) Control {
	t.Helper()
	for {
		f, err := c.Receive()
		if err != nil {
			t.Fatalf("Receive failed waiting for %q: %v", op, err)
		}
		if f.Type != websocket.TextMessage {
			continue
		}
		ctrl, err := DecodeControl(f.Data)
		if err != nil {
			t.Fatalf("DecodeControl failed: %v", err)
		}
		if ctrl.Op == op {
			return ctrl
		}
	}
}

func TestHubRelaysFramesAndMatches(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	sub := dialTopic(t, server, "d0.bench", "subscriber", "s1")
	defer sub.Close()
	if got := nextControl(t, sub, OpMatch); got.Count != 0 {
		t.Errorf("Expected initial match count 0, got %d", got.Count)
	}

	pub := dialTopic(t, server, "d0.bench", "publisher", "p1")
	defer pub.Close()
	if got := nextControl(t, pub, OpMatch); got.Count != 1 {
		t.Errorf("Expected publisher match count 1, got %d", got.Count)
	}
	if got := nextControl(t, sub, OpMatch); got.Count != 1 {
		t.Errorf("Expected subscriber match count 1, got %d", got.Count)
	}

	for i := 0; i < 3; i++ {
		if err := pub.Send(Frame{Type: websocket.BinaryMessage, Data: []byte{byte(i)}}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if err := pub.Send(Frame{Type: websocket.TextMessage, Data: EncodeControl(Control{Op: OpFlush, Token: 7})}); err != nil {
		t.Fatalf("flush Send failed: %v", err)
	}
	if got := nextControl(t, pub, OpFlushed); got.Token != 7 {
		t.Errorf("Expected flushed token 7, got %d", got.Token)
	}

	for i := 0; i < 3; i++ {
		f, err := sub.Receive()
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if f.Type != websocket.BinaryMessage || len(f.Data) != 1 || f.Data[0] != byte(i) {
			t.Errorf("frame %d = type %d data %v", i, f.Type, f.Data)
		}
	}

	pubs, subs := hub.Members("d0.bench")
	if pubs != 1 || subs != 1 {
		t.Errorf("Members = %d/%d, want 1/1", pubs, subs)
	}
}

func TestHubIsolatesTopics(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	sub := dialTopic(t, server, "d0.a", "subscriber", "s1")
	defer sub.Close()
	pub := dialTopic(t, server, "d0.b", "publisher", "p1")
	defer pub.Close()

	if got := nextControl(t, pub, OpMatch); got.Count != 0 {
		t.Errorf("Expected no match across topics, got %d", got.Count)
	}
}

func TestHubLeaveUpdatesMatch(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	pub := dialTopic(t, server, "d0.bench", "publisher", "p1")
	defer pub.Close()
	nextControl(t, pub, OpMatch)

	sub := dialTopic(t, server, "d0.bench", "subscriber", "s1")
	if got := nextControl(t, pub, OpMatch); got.Count != 1 {
		t.Fatalf("Expected match count 1, got %d", got.Count)
	}
	_ = sub.Close()

	deadline := time.After(5 * time.Second)
	for {
		got := nextControl(t, pub, OpMatch)
		if got.Count == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("match count never dropped to 0")
		default:
		}
	}
}

func TestHubRejectsBadRequests(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	resp, err := http.Get(server.URL + "/topics/bench?role=observer")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /healthz, got %d", resp.StatusCode)
	}

	hub.Close()
	target := "ws" + strings.TrimPrefix(server.URL, "http") + "/topics/bench?role=publisher"
	if _, _, err := websocket.DefaultDialer.Dial(target, nil); err == nil {
		t.Error("Expected dial to fail after hub Close")
	}
}
