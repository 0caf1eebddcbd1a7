package handlers

import (
	"errors"
	"strings"

	"connect/server/internal/middleware"
	"connect/server/internal/models"
	"connect/server/internal/repository"
	"connect/server/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const minPasswordLength = 6

// Credentials is the body of register and login requests
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned after a successful register or login
type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *Handler) setTokenCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     "token",
		Value:    token,
		HTTPOnly: true,
		Secure:   h.secureCookies,
		SameSite: "Lax",
		MaxAge:   int(h.jwt.TTL().Seconds()),
	})
}

// Register handles user registration
func (h *Handler) Register(c *fiber.Ctx) error {
	var req Credentials
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.Username = strings.TrimSpace(req.Username)

	if !utils.ValidUsername(req.Username) {
		return fail(c, fiber.StatusBadRequest, "Username may only contain latin letters and digits, at least 3 characters")
	}
	if len(req.Password) < minPasswordLength {
		return fail(c, fiber.StatusBadRequest, "Password must be at least 6 characters")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		log.Error().Err(err).Msg("hash password")
		return fail(c, fiber.StatusInternalServerError, "Failed to hash password")
	}

	user, err := h.store.CreateUser(c.UserContext(), req.Username, hash)
	if errors.Is(err, repository.ErrConflict) {
		return fail(c, fiber.StatusConflict, "Username already taken")
	}
	if err != nil {
		log.Error().Err(err).Str("user", req.Username).Msg("create user")
		return fail(c, fiber.StatusInternalServerError, "Failed to create user")
	}

	token, err := h.jwt.GenerateToken(user.Username, user.GlobalRole)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to generate token")
	}
	h.setTokenCookie(c, token)

	log.Info().Str("user", user.Username).Msg("user registered")
	return ok(c, fiber.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login handles user login
func (h *Handler) Login(c *fiber.Ctx) error {
	var req Credentials
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return fail(c, fiber.StatusBadRequest, "Username and password are required")
	}

	user, err := h.store.GetUser(c.UserContext(), strings.TrimSpace(req.Username))
	if errors.Is(err, repository.ErrNotFound) {
		return fail(c, fiber.StatusUnauthorized, "Invalid username or password")
	}
	if err != nil {
		log.Error().Err(err).Msg("load user")
		return fail(c, fiber.StatusInternalServerError, "Database error")
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return fail(c, fiber.StatusUnauthorized, "Invalid username or password")
	}

	token, err := h.jwt.GenerateToken(user.Username, user.GlobalRole)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to generate token")
	}
	h.setTokenCookie(c, token)

	return ok(c, fiber.StatusOK, AuthResponse{Token: token, User: user})
}

// GetMe returns the current account and its profile
func (h *Handler) GetMe(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user, err := h.store.GetUser(ctx, middleware.GetUsername(c))
	if errors.Is(err, repository.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "User not found")
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Database error")
	}
	profile, err := h.store.GetOrCreateProfile(ctx, user.Username)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Database error")
	}
	return ok(c, fiber.StatusOK, fiber.Map{
		"user":    user,
		"profile": profile,
	})
}

// Logout clears the token cookie
func (h *Handler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "token",
		Value:    "",
		HTTPOnly: true,
		Secure:   h.secureCookies,
		SameSite: "Lax",
		MaxAge:   -1,
	})
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out successfully",
	})
}
