package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"redubstream/internal/metrics"
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsRequest is a client action such as {"action":"cancel"}.
type wsRequest struct {
	Action string `json:"action"`
}

type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
}

type wsDirect struct {
	client  *wsClient
	payload []byte
}

// wsHub owns every client's send channel; only run() writes to or closes them.
type wsHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	direct     chan wsDirect
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	count      atomic.Int64
	onAction   func(c *wsClient, req wsRequest)
	logger     *slog.Logger
}

func newWSHub(logger *slog.Logger, onAction func(c *wsClient, req wsRequest)) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		direct:     make(chan wsDirect, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		onAction:   onAction,
		logger:     logger,
	}
}

func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				h.drop(client)
			}
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.logger.Debug("ws client connected", slog.Int("total", len(h.clients)))
		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.logger.Debug("ws client disconnected", slog.Int("total", len(h.clients)))
			}
		case msg := <-h.direct:
			if h.clients[msg.client] {
				h.deliver(msg.client, msg.payload)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, msg)
			}
		}
	}
}

// deliver drops clients that cannot keep up.
func (h *wsHub) deliver(client *wsClient, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.drop(client)
	}
}

func (h *wsHub) drop(client *wsClient) {
	close(client.send)
	delete(h.clients, client)
	h.setCount()
}

func (h *wsHub) setCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.WSClients.Set(float64(len(h.clients)))
}

func (h *wsHub) Close() {
	close(h.done)
}

func (h *wsHub) clientCount() int {
	return int(h.count.Load())
}

func (h *wsHub) join(client *wsClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *wsHub) leave(client *wsClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends a typed JSON message to all connected clients. Updates are
// skipped when the hub is backed up.
func (h *wsHub) Broadcast(msgType string, data any) {
	if h.clientCount() == 0 {
		return
	}
	payload, ok := h.encode(msgType, data)
	if !ok {
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

// SendTo queues a typed JSON message for a single client.
func (h *wsHub) SendTo(client *wsClient, msgType string, data any) {
	payload, ok := h.encode(msgType, data)
	if !ok {
		return
	}
	select {
	case h.direct <- wsDirect{client: client, payload: payload}:
	case <-h.done:
	}
}

func (h *wsHub) encode(msgType string, data any) ([]byte, bool) {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return nil, false
	}
	return payload, true
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.hub.SendTo(c, "error", errorPayload{Code: "invalid_message", Message: "expected {\"action\": ...}"})
			continue
		}
		if c.hub.onAction != nil {
			c.hub.onAction(c, req)
		}
	}
}
