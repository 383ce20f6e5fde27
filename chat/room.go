// Package chat runs the public chat room. When redis is configured every
// message goes through a pub/sub channel so all API processes see it.
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civix/civix-api/models"
)

// Channel is the redis channel chat messages are published on
const Channel = "civix:chat"

// Events sent to clients
const (
	EventReceiveMessage = "receiveMessage"
	EventUserCount      = "userCount"
)

const (
	sendMessage      = "sendMessage"
	maxMessageLength = 1000
	writeWait        = 10 * time.Second
)

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(v)
}

type incoming struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Room holds the peers connected to this process
type Room struct {
	mu    sync.Mutex
	peers map[*peer]struct{}
	rdb   *redis.Client
	Now   func() time.Time
}

// NewRoom returns an empty room. rdb may be nil for a single process deployment.
func NewRoom(rdb *redis.Client) *Room {
	return &Room{
		peers: make(map[*peer]struct{}),
		rdb:   rdb,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run relays messages published on the redis channel to local peers until ctx is done
func (rm *Room) Run(ctx context.Context) {
	if rm.rdb == nil {
		return
	}
	sub := rm.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg models.ChatMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				zap.S().Warnw("dropping malformed chat message", "error", err)
				continue
			}
			rm.broadcast(EventReceiveMessage, msg)
		}
	}
}

// Join adds conn to the room and relays what it sends until it disconnects
func (rm *Room) Join(ctx context.Context, conn *websocket.Conn, sender, senderID string) {
	p := &peer{conn: conn}
	rm.mu.Lock()
	rm.peers[p] = struct{}{}
	rm.mu.Unlock()
	rm.broadcast(EventUserCount, rm.Count())

	defer func() {
		rm.mu.Lock()
		delete(rm.peers, p)
		rm.mu.Unlock()
		conn.Close()
		rm.broadcast(EventUserCount, rm.Count())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in incoming
		if err := json.Unmarshal(data, &in); err != nil || in.Type != sendMessage {
			continue
		}
		text := strings.TrimSpace(in.Text)
		if text == "" {
			continue
		}
		if r := []rune(text); len(r) > maxMessageLength {
			text = string(r[:maxMessageLength])
		}
		msg := models.ChatMessage{
			ID:        uuid.NewString(),
			Text:      text,
			Sender:    sender,
			SenderID:  senderID,
			CreatedAt: rm.Now(),
		}
		if err := rm.Publish(ctx, msg); err != nil {
			zap.S().Warnw("failed to publish chat message", "error", err)
		}
	}
}

// Publish sends msg to everyone in the room
func (rm *Room) Publish(ctx context.Context, msg models.ChatMessage) error {
	if rm.rdb == nil {
		rm.broadcast(EventReceiveMessage, msg)
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return rm.rdb.Publish(ctx, Channel, b).Err()
}

// Count is the number of peers connected to this process
func (rm *Room) Count() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.peers)
}

func (rm *Room) broadcast(event string, data interface{}) {
	rm.mu.Lock()
	targets := make([]*peer, 0, len(rm.peers))
	for p := range rm.peers {
		targets = append(targets, p)
	}
	rm.mu.Unlock()

	msg := map[string]interface{}{"event": event, "data": data}
	for _, p := range targets {
		if err := p.write(msg); err != nil {
			zap.S().Debugw("error writing to chat peer", "error", err)
		}
	}
}
