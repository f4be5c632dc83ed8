package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// IntentHandler processes inbound events. Handle is called synchronously from the
// connection's read loop, so events from one connection are handled in arrival order.
type IntentHandler interface {
	Handle(connID string, msg WSMessage)
	ConnectionClosed(connID string)
}

// ServeOptions configures the WebSocket endpoint.
type ServeOptions struct {
	SendBuffer int
	// AllowedOrigins is "*" or a comma-separated list of origins.
	AllowedOrigins string
}

// Client represents a single WebSocket connection in the classroom.
type Client struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger

	mu     sync.Mutex
	send   chan WSMessage
	closed bool
}

// NewClient wraps conn with an outbound queue of the given length.
func NewClient(id string, conn *websocket.Conn, sendBuffer int, logger *zap.Logger) *Client {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Client{id: id, conn: conn, send: make(chan WSMessage, sendBuffer), logger: logger}
}

func (c *Client) ID() string { return c.id }

// Enqueue queues msg for the write loop without blocking.
func (c *Client) Enqueue(msg WSMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close closes the outbound queue; the write loop flushes what is queued, then sends a close frame.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func newUpgrader(allowedOrigins string) *websocket.Upgrader {
	origins := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(origins) == 0 || origins["*"] || origin == "" || origins[origin]
		},
	}
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, intents IntentHandler, logger *zap.Logger, opts ServeOptions) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	upgrader := newUpgrader(opts.AllowedOrigins)
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(uuid.NewString(), conn, opts.SendBuffer, logger)
		hub.Subscribe(client)
		go client.writePump()
		client.readPump(hub, intents)
	}
}

func (c *Client) readPump(hub *Hub, intents IntentHandler) {
	defer func() {
		hub.Unsubscribe(c.id)
		c.Close()
		intents.ConnectionClosed(c.id)
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msg.Event == "" {
			continue
		}
		intents.Handle(c.id, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
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
