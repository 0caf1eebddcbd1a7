package middleware

import (
	"time"

	"connect/server/internal/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/rs/zerolog/log"
)

// RateLimiter allows max requests per key within expiration. Requests are
// keyed by account once authenticated and by client IP before that.
func RateLimiter(name string, max int, expiration time.Duration) fiber.Handler {
	rejected := metrics.RateLimitedTotal.WithLabelValues(name)
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if username := GetUsername(c); username != "" {
				return "u:" + username
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			rejected.Inc()
			log.Warn().Str("limiter", name).Str("ip", c.IP()).Str("user", GetUsername(c)).Str("path", c.Path()).Msg("rate limit reached")
			c.Set(fiber.HeaderRetryAfter, "60")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests, please try again later",
			})
		},
	})
}

// StrictRateLimiter guards login and registration
func StrictRateLimiter() fiber.Handler {
	return RateLimiter("auth", 10, 15*time.Minute)
}

// ModerateRateLimiter guards push subscription changes
func ModerateRateLimiter() fiber.Handler {
	return RateLimiter("push", 30, time.Minute)
}

// UploadRateLimiter guards file uploads
func UploadRateLimiter() fiber.Handler {
	return RateLimiter("upload", 20, 5*time.Minute)
}
