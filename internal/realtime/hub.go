package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
	// MaxMessageSize is the read limit for one inbound frame.
	MaxMessageSize = 65536
	// DefaultSendBuffer is the per-client outbound queue length.
	DefaultSendBuffer = 256
)

// Subscriber is one connection attached to the hub.
type Subscriber interface {
	ID() string
	// Enqueue queues msg without blocking; false means the queue is full or closed.
	Enqueue(msg WSMessage) bool
	// Close stops the connection after its queued messages are written.
	Close()
}

// EventMirror receives a copy of every broadcast (e.g. Redis for external observers).
type EventMirror interface {
	Mirror(event string, data []byte)
}

// Hub maintains the classroom's connections and fans events out to them.
type Hub struct {
	clients map[string]Subscriber
	mu      sync.RWMutex
	logger  *zap.Logger
	mirror  EventMirror
}

// NewHub creates a new WebSocket hub. mirror may be nil.
func NewHub(logger *zap.Logger, mirror EventMirror) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]Subscriber),
		logger:  logger,
		mirror:  mirror,
	}
}

// Subscribe attaches a connection.
func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.clients[s.ID()] = s
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("conn_id", s.ID()), zap.Int("connections", count))
}

// Unsubscribe detaches a connection. It reports whether the connection was attached.
func (h *Hub) Unsubscribe(id string) bool {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("client disconnected", zap.String("conn_id", id), zap.Int("connections", count))
	}
	return ok
}

// Count returns the number of attached connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every connection. A connection whose queue is full is dropped.
func (h *Hub) Broadcast(event string, payload interface{}) {
	msg, ok := h.encode(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	clients := make([]Subscriber, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.Enqueue(msg) {
			h.drop(c, event)
		}
	}
	if h.mirror != nil {
		h.mirror.Mirror(event, msg.Data)
	}
}

// SendTo sends an event to a single connection. It reports whether the event was queued.
func (h *Hub) SendTo(id, event string, payload interface{}) bool {
	msg, ok := h.encode(event, payload)
	if !ok {
		return false
	}
	h.mu.RLock()
	c, found := h.clients[id]
	h.mu.RUnlock()
	if !found {
		return false
	}
	if !c.Enqueue(msg) {
		h.drop(c, event)
		return false
	}
	return true
}

// Disconnect detaches a connection and closes it once its queue drains.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
}

func (h *Hub) drop(c Subscriber, event string) {
	h.logger.Warn("client send buffer full, dropping connection", zap.String("conn_id", c.ID()), zap.String("event", event))
	h.Disconnect(c.ID())
}

func (h *Hub) encode(event string, payload interface{}) (WSMessage, bool) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Error("encode event failed", zap.String("event", event), zap.Error(err))
			return WSMessage{}, false
		}
	}
	return WSMessage{Event: event, Data: data}, true
}
