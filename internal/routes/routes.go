package routes

import (
	"connect/server/internal/handlers"
	"connect/server/internal/metrics"
	"connect/server/internal/middleware"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// Config carries what SetupRoutes needs besides the handlers.
type Config struct {
	JWTSecret []byte
	Users     middleware.UserLookup
	UploadDir string
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, h *handlers.Handler, cfg Config) {
	protected := middleware.Protected(cfg.JWTSecret)
	modOnly := middleware.ModOnly(cfg.Users)

	app.Get("/metrics", metrics.Handler())

	// Serve uploaded files (public)
	app.Static("/uploads", cfg.UploadDir, fiber.Static{MaxAge: 86400})

	// API v1 group
	api := app.Group("/api/v1")

	// Health check (public)
	api.Get("/health", handlers.Health)

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", middleware.StrictRateLimiter(), h.Register)
	auth.Post("/login", middleware.StrictRateLimiter(), h.Login)
	auth.Post("/logout", protected, h.Logout)
	auth.Get("/me", protected, h.GetMe)

	// Upload routes (protected)
	api.Post("/upload", protected, middleware.UploadRateLimiter(), h.UploadFile)
	api.Post("/upload-multiple", protected, middleware.UploadRateLimiter(), h.UploadMultiple)
	api.Post("/upload-avatar", protected, middleware.UploadRateLimiter(), h.UploadAvatar)

	// Push subscriptions
	api.Get("/vapid-key", h.VAPIDKey)
	api.Post("/subscribe", protected, middleware.ModerateRateLimiter(), h.Subscribe)
	api.Delete("/subscribe", protected, h.Unsubscribe)

	// Admin routes (global mods)
	admin := api.Group("/admin", protected, modOnly)
	admin.Get("/users", h.ListUsers)
	admin.Post("/user-action", h.UserAction)
	admin.Get("/badges", h.ListBadges)
	admin.Post("/badges", h.CreateBadge)
	admin.Delete("/badges/:id", h.DeleteBadge)
	admin.Post("/assign-badge", h.AssignBadge)
	api.Get("/monitor", protected, modOnly, monitor.New(monitor.Config{Title: "Connect Monitor"}))

	// WebSocket route; the token is checked during the upgrade or by the first event
	api.Get("/ws", h.WebSocketUpgrade, websocket.New(h.WebSocket))

	// WebSocket stats (protected, for debugging)
	api.Get("/ws/stats", protected, h.GetWebSocketStats)
}
