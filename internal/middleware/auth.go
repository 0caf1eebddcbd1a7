package middleware

import (
	"context"

	"connect/server/internal/models"
	"connect/server/internal/utils"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// UserLookup resolves an account by username.
type UserLookup interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
}

// Protected validates the JWT from the Authorization header or the token
// cookie and stores the username in Locals.
func Protected(secret []byte) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: jwtware.HS256,
			Key:    secret,
		},
		Claims:      &utils.Claims{},
		TokenLookup: "header:Authorization,cookie:token",
		AuthScheme:  "Bearer",
		SuccessHandler: func(c *fiber.Ctx) error {
			token, ok := c.Locals("user").(*jwt.Token)
			if !ok {
				return unauthorized(c, "Unauthorized - Invalid token")
			}
			claims, ok := token.Claims.(*utils.Claims)
			if !ok || claims.Username == "" {
				return unauthorized(c, "Unauthorized - Invalid token")
			}
			c.Locals("username", claims.Username)
			return c.Next()
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return unauthorized(c, "Unauthorized - "+err.Error())
		},
	})
}

// ModOnly lets through accounts whose current global role is mod. The role
// is read from the store so a demotion takes effect before the token expires.
func ModOnly(users UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := users.GetUser(c.UserContext(), GetUsername(c))
		if err != nil || !user.IsMod() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   "Moderator role required",
			})
		}
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

// GetUsername gets the username from context
func GetUsername(c *fiber.Ctx) string {
	username, ok := c.Locals("username").(string)
	if !ok {
		return ""
	}
	return username
}
