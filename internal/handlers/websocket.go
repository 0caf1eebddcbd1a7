package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"connect/server/internal/repository"
	"connect/server/internal/utils"
	ws "connect/server/internal/websocket"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// authenticateWait bounds how long an unauthenticated socket may stay open.
const authenticateWait = 10 * time.Second

type authenticatePayload struct {
	Token string `json:"token"`
}

func bearer(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// WebSocketUpgrade checks the upgrade request and, when it carries a token
// in the Authorization header, the token query parameter or the token
// cookie, validates it up front. A request without any token is let
// through and must send an authenticate event first.
func (h *Handler) WebSocketUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fail(c, fiber.StatusUpgradeRequired, "WebSocket upgrade required")
	}

	token := bearer(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		token = c.Cookies("token")
	}
	if token == "" {
		return c.Next()
	}

	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "Unauthorized - Invalid token")
	}
	c.Locals("username", claims.Username)
	return c.Next()
}

// awaitAuthenticate reads the first frame of an anonymous socket.
func (h *Handler) awaitAuthenticate(conn *websocket.Conn) (*utils.Claims, error) {
	conn.SetReadDeadline(time.Now().Add(authenticateWait))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg ws.IncomingMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != ws.EventAuthenticate {
		return nil, errors.New("expected authenticate event")
	}
	var p authenticatePayload
	if err := msg.Decode(&p); err != nil {
		return nil, err
	}
	return h.jwt.ValidateToken(p.Token)
}

func reject(conn *websocket.Conn, event ws.EventType, msg string) {
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteJSON(ws.NewMessage(event, ws.ErrorPayload{Msg: msg}))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg))
}

// WebSocket runs one client connection until it closes
func (h *Handler) WebSocket(conn *websocket.Conn) {
	username, _ := conn.Locals("username").(string)
	if username == "" {
		claims, err := h.awaitAuthenticate(conn)
		if err != nil {
			log.Debug().Err(err).Msg("websocket authentication failed")
			reject(conn, ws.EventError, "Authentication error")
			return
		}
		username = claims.Username
	}

	// the account may have been renamed or deleted since the token was issued
	ctx := context.Background()
	user, err := h.store.GetUser(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		reject(conn, ws.EventForceLogout, "Please sign in again")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user", username).Msg("load websocket user")
		reject(conn, ws.EventError, "Something went wrong, please try again")
		return
	}

	var limiter *rate.Limiter
	if h.eventRate > 0 {
		limiter = rate.NewLimiter(h.eventRate, h.eventBurst)
	}
	client := ws.NewClient(user.Username, user.GlobalRole, conn, h.hub, limiter)
	h.sessions.Connect(ctx, client)

	go client.WritePump()
	client.ReadPump(ctx, h.sessions) // blocks until the connection closes
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"onlineUsers": h.hub.OnlineCount(),
			"usernames":   h.hub.OnlineUsers(),
		},
	})
}
