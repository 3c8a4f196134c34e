package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	constants "github.com/CodeAndHammer/duelqueue/internal/constants"
)

type recordingQueue struct {
	hub *Hub

	mu     sync.Mutex
	joins  []string
	leaves []string
	left   chan string
}

func (q *recordingQueue) Join(_ context.Context, connectionID, token, mode string) error {
	q.mu.Lock()
	q.joins = append(q.joins, token+"/"+mode)
	q.mu.Unlock()
	q.hub.Emit(connectionID, constants.EventQueueJoined, map[string]string{"mode": mode})
	return nil
}

func (q *recordingQueue) Leave(connectionID string) {
	q.mu.Lock()
	q.leaves = append(q.leaves, connectionID)
	q.mu.Unlock()
	select {
	case q.left <- connectionID:
	default:
	}
}

func newTestServer(t *testing.T, cfg Config) (*Hub, *recordingQueue, string) {
	t.Helper()
	hub := NewHub(cfg)
	q := &recordingQueue{hub: hub, left: make(chan string, 8)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, q)
	}))
	t.Cleanup(srv.Close)
	return hub, q, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f received
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestJoinUsesHeaderToken(t *testing.T) {
	hub, q, url := newTestServer(t, Config{})
	conn := dial(t, url, http.Header{"Authorization": {"Bearer header-token"}})

	if err := conn.WriteJSON(map[string]string{"type": constants.MessageJoinQueue, "mode": "RANKED"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn)
	if f.Type != constants.EventQueueJoined {
		t.Fatalf("frame type = %q, want %q", f.Type, constants.EventQueueJoined)
	}

	q.mu.Lock()
	joins := append([]string(nil), q.joins...)
	q.mu.Unlock()
	if len(joins) != 1 || joins[0] != "header-token/RANKED" {
		t.Fatalf("joins = %v", joins)
	}
	if hub.Count() != 1 {
		t.Fatalf("open connections = %d, want 1", hub.Count())
	}
}

func TestDisconnectLeavesQueue(t *testing.T) {
	hub, q, url := newTestServer(t, Config{})
	conn := dial(t, url, nil)
	if err := conn.WriteJSON(map[string]string{"type": constants.MessageJoinQueue, "token": "t", "mode": "CASUAL"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readFrame(t, conn)
	conn.Close()

	select {
	case id := <-q.left:
		if hub.Connected(id) {
			t.Fatalf("connection %s still registered after close", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for leave on disconnect")
	}
}

func TestUnknownMessageType(t *testing.T) {
	_, _, url := newTestServer(t, Config{})
	conn := dial(t, url, nil)
	if err := conn.WriteJSON(map[string]string{"type": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn)
	if f.Type != constants.EventQueueError || !strings.Contains(string(f.Payload), constants.ErrorCodeInvalidMessage) {
		t.Fatalf("unexpected frame %s %s", f.Type, f.Payload)
	}
}

func TestMessageRateLimit(t *testing.T) {
	_, _, url := newTestServer(t, Config{MessageRate: 0.001, MessageBurst: 1})
	conn := dial(t, url, nil)
	for range 2 {
		if err := conn.WriteJSON(map[string]string{"type": constants.MessageLeaveQueue}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	f := readFrame(t, conn)
	if f.Type != constants.EventQueueError || !strings.Contains(string(f.Payload), constants.ErrorCodeRateLimited) {
		t.Fatalf("unexpected frame %s %s", f.Type, f.Payload)
	}
}

func TestEmitUnknownConnection(t *testing.T) {
	hub := NewHub(Config{})
	hub.Emit("missing", constants.EventQueueLeft, nil)
	if hub.Connected("missing") {
		t.Fatal("unknown connection reported as connected")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
	}
	for header, want := range cases {
		if got := bearerToken(header); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
