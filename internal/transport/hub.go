// Package transport owns the WebSocket connections. Each connection gets an id
// that the rest of the service uses to address it.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	constants "github.com/CodeAndHammer/duelqueue/internal/constants"
	models "github.com/CodeAndHammer/duelqueue/internal/models"
	util "github.com/CodeAndHammer/duelqueue/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 32
)

// Queue receives the client's queue requests.
type Queue interface {
	Join(ctx context.Context, connectionID, token, mode string) error
	Leave(connectionID string)
}

type Config struct {
	MessageRate  rate.Limit
	MessageBurst int
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	upgrader websocket.Upgrader
	cfg      Config
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	token   string
}

// frame is the envelope of every server-to-client message.
type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type clientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

func NewHub(cfg Config) *Hub {
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = 5
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 10
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		cfg: cfg,
	}
}

// Emit queues a frame for the connection. Unknown ids are ignored; a client
// that cannot keep up is disconnected.
func (h *Hub) Emit(connectionID, event string, payload any) {
	data, err := json.Marshal(frame{Type: event, Payload: payload})
	if err != nil {
		util.LogError("[conn=%s] Failed to marshal %s: %v", connectionID, event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connectionID]
	if !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		util.LogWarn("[conn=%s] Send buffer full, dropping connection", connectionID)
		go c.conn.Close()
	}
}

func (h *Hub) Connected(connectionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[connectionID]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and runs the connection until it closes. A bearer
// token in the Authorization header is used for joins that carry none.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, q Queue) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarn("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(h.cfg.MessageRate, h.cfg.MessageBurst),
		token:   bearerToken(r.Header.Get("Authorization")),
	}
	h.register(c)
	util.LogInfo("[conn=%s] Connected from %s, %d open", c.id, r.RemoteAddr, h.Count())

	go h.writePump(c)
	h.readPump(r.Context(), c, q)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
}

func (h *Hub) readPump(ctx context.Context, c *client, q Queue) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		q.Leave(c.id)
		util.LogInfo("[conn=%s] Disconnected", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogWarn("[conn=%s] Read failed: %v", c.id, err)
			}
			return
		}
		if !c.limiter.Allow() {
			h.Emit(c.id, constants.EventQueueError, models.ErrorPayload{Code: constants.ErrorCodeRateLimited, Message: "too many messages"})
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			util.LogWarn("[conn=%s] Discarding malformed message: %v", c.id, err)
			h.Emit(c.id, constants.EventQueueError, models.ErrorPayload{Code: constants.ErrorCodeInvalidMessage, Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case constants.MessageJoinQueue:
			token := msg.Token
			if token == "" {
				token = c.token
			}
			if err := q.Join(ctx, c.id, token, msg.Mode); err != nil {
				util.LogInfo("[conn=%s] Join rejected: %v", c.id, err)
			}
		case constants.MessageLeaveQueue:
			q.Leave(c.id)
		default:
			h.Emit(c.id, constants.EventQueueError, models.ErrorPayload{Code: constants.ErrorCodeInvalidMessage, Message: "unknown message type " + msg.Type})
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
