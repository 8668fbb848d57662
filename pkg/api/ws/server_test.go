package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestServer starts a Server on an httptest.Server so tests don't need a
// fixed port.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer(Config{
		Path:            "/ws/events",
		PingInterval:    time.Hour,
		WriteTimeout:    time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		AllowedOrigins:  []string{"*"},
	})

	// Route directly to the server's upgrade handler instead of going
	// through Start/Stop's own net/http.Server, which binds a fixed address.
	hts := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	t.Cleanup(hts.Close)

	wsURL := "ws" + strings.TrimPrefix(hts.URL, "http") + "/ws/events"
	return s, wsURL
}

func TestBroadcastDeliversToClient(t *testing.T) {
	s, url := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give handleUpgrade's goroutine time to register the client.
	waitForClients(t, s, 1)

	s.Broadcast(Event{Type: EventPose, Data: json.RawMessage(`{"x":1}`)})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != EventPose {
		t.Errorf("event type = %q, want %q", got.Type, EventPose)
	}
}

func TestReadOnlyFeedIgnoresInboundMessages(t *testing.T) {
	s, url := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, s, 1)

	// The feed never reads application-level meaning from client frames —
	// readPump only drains them to detect disconnects — so sending one must
	// not crash the server or close the connection.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ignored")); err != nil {
		t.Fatalf("write: %v", err)
	}

	s.Broadcast(Event{Type: EventCommand, Data: json.RawMessage(`{}`)})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("expected broadcast to still arrive after inbound message: %v", err)
	}
}

func TestBroadcastDropsSlowClientRatherThanBlocking(t *testing.T) {
	s, url := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, s, 1)

	// Flood past the client's send buffer without ever reading; Broadcast
	// must not block the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Broadcast(Event{Type: EventLifecycle, Data: json.RawMessage(`{}`)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast blocked on a slow client instead of dropping it")
	}
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		count := len(s.clients)
		s.mu.RUnlock()
		if count >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d client(s) to register", n)
}
