// Package handlers serves the HTTP side of the server: accounts, uploads,
// push subscriptions, administration and the websocket upgrade.
package handlers

import (
	"connect/server/internal/media"
	"connect/server/internal/repository"
	"connect/server/internal/utils"
	ws "connect/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// Config carries the collaborators of Handler.
type Config struct {
	Store    repository.Store
	JWT      *utils.JWTManager
	Hub      *ws.Hub
	Sessions ws.Handler
	Media    *media.Storage

	VAPIDPublicKey string
	SecureCookies  bool

	// per connection flood control of inbound websocket events
	EventsPerSecond float64
	EventBurst      int
}

// Handler holds the dependencies shared by every HTTP endpoint.
type Handler struct {
	store    repository.Store
	jwt      *utils.JWTManager
	hub      *ws.Hub
	sessions ws.Handler
	media    *media.Storage

	vapidPublicKey string
	secureCookies  bool
	eventRate      rate.Limit
	eventBurst     int
}

// New creates a Handler.
func New(cfg Config) *Handler {
	return &Handler{
		store:          cfg.Store,
		jwt:            cfg.JWT,
		hub:            cfg.Hub,
		sessions:       cfg.Sessions,
		media:          cfg.Media,
		vapidPublicKey: cfg.VAPIDPublicKey,
		secureCookies:  cfg.SecureCookies,
		eventRate:      rate.Limit(cfg.EventsPerSecond),
		eventBurst:     cfg.EventBurst,
	}
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

func ok(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// Health reports liveness.
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "Connect API is running",
	})
}
