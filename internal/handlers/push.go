package handlers

import (
	"strings"

	"connect/server/internal/middleware"
	"connect/server/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// SubscriptionRequest is the PushSubscription JSON produced by browsers
type SubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// VAPIDKey exposes the application server key to service workers
func (h *Handler) VAPIDKey(c *fiber.Ctx) error {
	if h.vapidPublicKey == "" {
		return fail(c, fiber.StatusServiceUnavailable, "Push notifications are not configured")
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"publicKey": h.vapidPublicKey,
	})
}

// Subscribe stores a push subscription for the current user
func (h *Handler) Subscribe(c *fiber.Ctx) error {
	var req SubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if !strings.HasPrefix(req.Endpoint, "https://") || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		return fail(c, fiber.StatusBadRequest, "Invalid subscription")
	}

	sub := &models.PushSubscription{
		Username: middleware.GetUsername(c),
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := h.store.SavePushSubscription(c.UserContext(), sub); err != nil {
		log.Error().Err(err).Str("user", sub.Username).Msg("save push subscription")
		return fail(c, fiber.StatusInternalServerError, "Failed to save subscription")
	}
	return ok(c, fiber.StatusCreated, sub)
}

// Unsubscribe removes one of the current user's push subscriptions
func (h *Handler) Unsubscribe(c *fiber.Ctx) error {
	var req SubscriptionRequest
	if err := c.BodyParser(&req); err != nil || req.Endpoint == "" {
		return fail(c, fiber.StatusBadRequest, "Endpoint is required")
	}
	if err := h.store.DeletePushSubscriptionByEndpoint(c.UserContext(), middleware.GetUsername(c), req.Endpoint); err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to remove subscription")
	}
	return c.JSON(fiber.Map{"success": true})
}
