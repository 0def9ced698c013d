package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"schoolmail/config"
	"schoolmail/models"
	"schoolmail/utils"
)

// Protected authenticates the request and scopes it to the user's
// school. Handlers downstream read the school from locals and must
// never query across tenants.
func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization format",
				})
			}
			token = tokenParts[1]
		} else {
			// Fall back to cookie if header not present
			token = c.Cookies("access_token")
			if token == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authorization required",
				})
			}
		}

		claims, err := utils.ParseJWTToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		var user models.User
		if err := config.DB.First(&user, claims.UserID).Error; err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "User not found",
			})
		}

		if !user.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Account is not active",
			})
		}

		// Verify token version so revoked sessions stop working
		if claims.TokenVersion != user.TokenVersion {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token version",
			})
		}

		c.Locals("user", &user)
		c.Locals("userID", user.ID)
		if user.SchoolID != nil {
			var school models.School
			if err := config.DB.First(&school, *user.SchoolID).Error; err == nil {
				c.Locals("school", &school)
			}
		}

		return c.Next()
	}
}

// RequireSchoolAdmin allows only school admins past. Must run after
// Protected.
func RequireSchoolAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := c.Locals("user").(*models.User)
		if !ok || !user.IsSchoolAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "School admin role required",
			})
		}
		return c.Next()
	}
}
