package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// Handler receives the lifecycle and inbound events of registered clients.
type Handler interface {
	Connect(ctx context.Context, c *Client)
	Disconnect(ctx context.Context, c *Client)
	Handle(ctx context.Context, c *Client, msg IncomingMessage)
}

// Client represents a WebSocket client connection
type Client struct {
	Username string
	Conn     *websocket.Conn
	Hub      *Hub
	Send     chan []byte

	limiter *rate.Limiter

	mu     sync.Mutex
	role   string
	closed bool
}

// NewClient creates a new WebSocket client. A nil limiter disables flood
// control and a nil conn gives a client whose queue is only read by tests.
func NewClient(username, role string, conn *websocket.Conn, hub *Hub, limiter *rate.Limiter) *Client {
	return &Client{
		Username: username,
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan []byte, sendBuffer),
		limiter:  limiter,
		role:     role,
	}
}

// Role is the global role the session was authenticated with.
func (c *Client) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// SetRole updates the global role after an admin action.
func (c *Client) SetRole(role string) {
	c.mu.Lock()
	c.role = role
	c.mu.Unlock()
}

// Emit queues an event for the client. It returns false when the client is
// gone or its queue is full; a full queue closes the client.
func (c *Client) Emit(t EventType, payload interface{}) bool {
	data, err := json.Marshal(NewMessage(t, payload))
	if err != nil {
		log.Error().Err(err).Str("event", string(t)).Msg("marshal event")
		return false
	}
	return c.enqueue(data)
}

// Error emits an inline error event.
func (c *Client) Error(msg string) bool {
	return c.Emit(EventError, ErrorPayload{Msg: msg})
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		log.Warn().Str("user", c.Username).Msg("send queue full, dropping client")
		c.closed = true
		close(c.Send)
		return false
	}
}

// Close stops delivery. WritePump answers with a close frame.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Closed reports whether the client stopped accepting events.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ReadPump handles incoming messages from the client
func (c *Client) ReadPump(ctx context.Context, handler Handler) {
	defer func() {
		if c.Hub.Unregister(c) {
			handler.Disconnect(ctx, c)
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user", c.Username).Msg("websocket read error")
			}
			break
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.Error("Too many events, slow down")
			continue
		}

		var incoming IncomingMessage
		if err := json.Unmarshal(message, &incoming); err != nil {
			log.Debug().Err(err).Str("user", c.Username).Msg("failed to parse message")
			continue
		}

		handler.Handle(ctx, c, incoming)
	}
}

// WritePump handles outgoing messages to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("user", c.Username).Msg("write error")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
