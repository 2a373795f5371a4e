// Package notify pushes member events over websocket connections.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 70 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

const (
	EventNewReferral = "new-referral"
	EventActivated   = "activated"
)

type Event struct {
	Type     string    `json:"type"`
	MemberID string    `json:"member_id"`
	Data     any       `json:"data,omitempty"`
	At       time.Time `json:"at"`
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	memberID  string
	closeOnce sync.Once
}

func (c *client) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub keeps one live connection per member. A new connection for the same
// member replaces the old one.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	nowFn   func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		nowFn:   time.Now,
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old := h.clients[c.memberID]; old != nil {
		_ = old.conn.Close()
		old.closeSend()
	}
	h.clients[c.memberID] = c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[c.memberID]; ok && current == c {
		delete(h.clients, c.memberID)
	}
	c.closeSend()
}

func (h *Hub) Online(memberID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[memberID]
	return ok
}

// Notify delivers ev to memberID if connected. Offline members miss the
// event; the dashboard shows the same data on the next load.
func (h *Hub) Notify(memberID string, ev Event) bool {
	h.mu.Lock()
	c := h.clients[memberID]
	h.mu.Unlock()

	if c == nil {
		return false
	}

	if ev.At.IsZero() {
		ev.At = h.nowFn()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Default().Warn("notify: encode event", "type", ev.Type, "error", err)
		return false
	}

	if !c.trySend(payload) {
		_ = c.conn.Close()
		return false
	}
	return true
}

// Serve registers conn for memberID and blocks until the connection closes.
func (h *Hub) Serve(conn *websocket.Conn, memberID string) {
	c := &client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		memberID: memberID,
	}
	h.add(c)
	slog.Default().Debug("ws connected", "member_id", memberID)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		slog.Default().Debug("ws disconnect", "member_id", c.memberID)
		_ = c.conn.Close()
		h.remove(c)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Clients only listen; anything they send is a keepalive.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Hub) writePump(c *client) {
	defer func() {
		_ = c.conn.Close()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// Close drops every connection, used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
		c.closeSend()
	}
}
