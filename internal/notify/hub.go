// Package notify pushes in-app call events to users over websockets, fanned out
// across instances through Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/pkg/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
	sendBuffer   = 64
)

// Publisher publishes a user event for every instance.
type Publisher interface {
	PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload []byte) error
}

// Subscriber delivers a user's events published by any instance.
type Subscriber interface {
	SubscribeUser(userID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains user_id -> open connections.
type Hub struct {
	users  map[uuid.UUID]map[string]*Client
	subs   map[uuid.UUID]func()
	mu     sync.RWMutex
	logger *zap.Logger
	pub    Publisher
	sub    Subscriber
}

// NewHub creates a hub. With nil pub/sub events only reach connections on this instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:  make(map[uuid.UUID]map[string]*Client),
		subs:   make(map[uuid.UUID]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Register adds a connection. The first connection of a user subscribes to the user's channel.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
		if h.sub != nil {
			userID := c.UserID
			cancel, err := h.sub.SubscribeUser(userID, func(event string, payload []byte) {
				h.deliver(userID, event, payload)
			})
			if err != nil {
				h.logger.Warn("user channel subscribe failed", zap.String("user_id", userID.String()), zap.Error(err))
			} else {
				h.subs[userID] = cancel
			}
		}
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	metrics.ConnectedClients.Inc()
	h.logger.Debug("notification client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister removes a connection. The last connection of a user cancels the subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	m, ok := h.users[c.UserID]
	if ok {
		if _, present := m[c.ID]; !present {
			h.mu.Unlock()
			return
		}
		delete(m, c.ID)
		close(c.send)
		if len(m) == 0 {
			delete(h.users, c.UserID)
			if cancel, ok := h.subs[c.UserID]; ok {
				cancel()
				delete(h.subs, c.UserID)
			}
		}
	}
	h.mu.Unlock()
	if ok {
		metrics.ConnectedClients.Dec()
	}
	h.logger.Debug("notification client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Notify sends event to every connection of userID on any instance. With a publisher the
// event goes through Redis only, so the subscription delivers it exactly once here too.
func (h *Hub) Notify(ctx context.Context, userID uuid.UUID, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("notification payload not encodable", zap.String("event", event), zap.Error(err))
		return
	}
	if h.pub != nil {
		if err := h.pub.PublishUserEvent(ctx, userID, event, payload); err != nil {
			h.logger.Warn("notification publish failed; delivering locally",
				zap.String("event", event), zap.String("user_id", userID.String()), zap.Error(err))
			h.deliver(userID, event, payload)
		}
		return
	}
	h.deliver(userID, event, payload)
}

// deliver sends to local connections only. Slow connections drop the message.
func (h *Hub) deliver(userID uuid.UUID, event string, payload []byte) {
	msg := Message{Event: event, Data: json.RawMessage(payload)}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.users[userID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("notification dropped; client buffer full", zap.String("client_id", c.ID))
		}
	}
}

// Connected returns the number of open connections of a user on this instance.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
