package notify

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the websocket envelope.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one websocket connection of a user.
type Client struct {
	ID     string
	UserID uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	logger *zap.Logger
}

// TokenValidator resolves a bearer token to a user.
type TokenValidator func(token string) (uuid.UUID, error)

// ServeWs handles GET /ws?token=.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "token required"})
			return
		}
		userID, err := validate(token)
		if err != nil || userID == uuid.Nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.NewString(),
			UserID: userID,
			hub:    hub,
			conn:   conn,
			send:   make(chan Message, sendBuffer),
			logger: logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// readPump keeps the connection alive and answers "ping" events with "pong".
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msg.Event == "ping" {
			select {
			case c.send <- Message{Event: "pong"}:
			default:
			}
		}
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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
