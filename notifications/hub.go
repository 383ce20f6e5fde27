package notifications

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventNewNotification is the websocket event name used when a notification is pushed
const EventNewNotification = "new_notification"

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub keeps track of connected websocket clients keyed by recipient.
// A connection can listen on several keys, e.g. its user id and its role.
type Hub struct {
	clients map[string]map[*client]struct{}
	mutex   sync.Mutex
}

// NewHub returns an empty Hub
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

// Serve registers conn under keys and blocks until the peer goes away
func (h *Hub) Serve(conn *websocket.Conn, keys ...string) {
	c := &client{conn: conn}
	h.mutex.Lock()
	for _, k := range keys {
		if h.clients[k] == nil {
			h.clients[k] = make(map[*client]struct{})
		}
		h.clients[k][c] = struct{}{}
	}
	h.mutex.Unlock()
	zap.S().Debugw("websocket client connected", "keys", keys)

	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	h.remove(c)
	conn.Close()
	zap.S().Debugw("websocket client disconnected", "keys", keys)
}

// Push sends an event to every client listening on recipient
func (h *Hub) Push(recipient, event string, data interface{}) {
	h.mutex.Lock()
	targets := make([]*client, 0, len(h.clients[recipient]))
	for c := range h.clients[recipient] {
		targets = append(targets, c)
	}
	h.mutex.Unlock()

	msg := map[string]interface{}{"event": event, "data": data}
	for _, c := range targets {
		if err := c.write(msg); err != nil {
			zap.S().Warnw("error sending to websocket client", "recipient", recipient, "error", err)
			h.remove(c)
			c.conn.Close()
		}
	}
}

// Connected is the number of clients listening on key
func (h *Hub) Connected(key string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients[key])
}

func (h *Hub) remove(c *client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for k, set := range h.clients {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, k)
		}
	}
}
