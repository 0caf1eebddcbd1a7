package handlers

import (
	"errors"
	"strings"

	"connect/server/internal/middleware"
	"connect/server/internal/models"
	"connect/server/internal/repository"
	ws "connect/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Admin actions
const (
	ActionSetRole = "set_role"
	ActionDelete  = "delete"
	ActionAdd     = "add"
	ActionRemove  = "remove"
)

// UserActionRequest is the body of POST /admin/user-action
type UserActionRequest struct {
	Username string `json:"username"`
	Action   string `json:"action"`
	Role     string `json:"role"`
}

// BadgeRequest is the body of POST /admin/badges
type BadgeRequest struct {
	Name string `json:"name"`
	SVG  string `json:"svg"`
}

// AssignBadgeRequest is the body of POST /admin/assign-badge
type AssignBadgeRequest struct {
	Username string `json:"username"`
	BadgeID  int64  `json:"badgeId"`
	Action   string `json:"action"`
}

// ListUsers returns every account with its online state
func (h *Handler) ListUsers(c *fiber.Ctx) error {
	users, err := h.store.ListUsers(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Database error")
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	display, err := h.store.DisplayNames(c.UserContext(), names)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Database error")
	}

	out := make([]models.UserSummary, len(users))
	for i, u := range users {
		out[i] = models.UserSummary{
			Username:    u.Username,
			DisplayName: display[u.Username],
			GlobalRole:  u.GlobalRole,
			IsOnline:    h.hub.IsOnline(u.Username),
		}
	}
	return ok(c, fiber.StatusOK, out)
}

// UserAction changes the global role of an account or deletes it
func (h *Handler) UserAction(c *fiber.Ctx) error {
	var req UserActionRequest
	if err := c.BodyParser(&req); err != nil || req.Username == "" {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	actor := middleware.GetUsername(c)
	if req.Username == actor {
		return fail(c, fiber.StatusBadRequest, "You cannot change your own account here")
	}
	ctx := c.UserContext()

	var err error
	switch req.Action {
	case ActionSetRole:
		if req.Role != models.RoleMember && req.Role != models.RoleMod {
			return fail(c, fiber.StatusBadRequest, "Role must be member or mod")
		}
		err = h.store.SetGlobalRole(ctx, req.Username, req.Role)
		if err == nil {
			if client := h.hub.Lookup(req.Username); client != nil {
				client.SetRole(req.Role)
			}
		}
	case ActionDelete:
		err = h.store.DeleteUser(ctx, req.Username)
		if err == nil {
			if client := h.hub.Lookup(req.Username); client != nil {
				client.Emit(ws.EventForceLogout, ws.ErrorPayload{Msg: "Your account was removed"})
				client.Close()
			}
		}
	default:
		return fail(c, fiber.StatusBadRequest, "Unknown action")
	}

	if errors.Is(err, repository.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "User not found")
	}
	if err != nil {
		log.Error().Err(err).Str("user", req.Username).Str("action", req.Action).Msg("admin action failed")
		return fail(c, fiber.StatusInternalServerError, "Database error")
	}

	log.Info().Str("by", actor).Str("user", req.Username).Str("action", req.Action).Str("role", req.Role).Msg("admin action")
	return c.JSON(fiber.Map{"success": true})
}

// ListBadges returns every badge
func (h *Handler) ListBadges(c *fiber.Ctx) error {
	badges, err := h.store.ListBadges(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Database error")
	}
	return ok(c, fiber.StatusOK, badges)
}

// CreateBadge adds a badge
func (h *Handler) CreateBadge(c *fiber.Ctx) error {
	var req BadgeRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || !strings.Contains(req.SVG, "<svg") {
		return fail(c, fiber.StatusBadRequest, "Name and SVG markup are required")
	}

	badge, err := h.store.CreateBadge(c.UserContext(), req.Name, req.SVG)
	if errors.Is(err, repository.ErrConflict) {
		return fail(c, fiber.StatusConflict, "Badge already exists")
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Database error")
	}
	return ok(c, fiber.StatusCreated, badge)
}

// DeleteBadge removes a badge and every grant of it
func (h *Handler) DeleteBadge(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fail(c, fiber.StatusBadRequest, "Invalid badge id")
	}
	err = h.store.DeleteBadge(c.UserContext(), int64(id))
	if errors.Is(err, repository.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "Badge not found")
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Database error")
	}
	return c.JSON(fiber.Map{"success": true})
}

// AssignBadge grants or revokes a badge
func (h *Handler) AssignBadge(c *fiber.Ctx) error {
	var req AssignBadgeRequest
	if err := c.BodyParser(&req); err != nil || req.Username == "" || req.BadgeID <= 0 {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	ctx := c.UserContext()

	var err error
	switch req.Action {
	case ActionAdd, "":
		err = h.store.AssignBadge(ctx, req.Username, req.BadgeID)
	case ActionRemove:
		err = h.store.RevokeBadge(ctx, req.Username, req.BadgeID)
	default:
		return fail(c, fiber.StatusBadRequest, "Unknown action")
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "User or badge not found")
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Database error")
	}
	return c.JSON(fiber.Map{"success": true})
}
