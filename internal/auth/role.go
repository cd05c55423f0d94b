package auth

import (
	"github.com/gofiber/fiber/v2"

	"clinic-backend/internal/model"
)

// RequireRole 최소 역할 이상인 사용자만 통과 (AuthMiddleware 이후에 사용)
func RequireRole(min model.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := GetClaimsFromContext(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}
		if model.UserRole(claims.Role).Rank() < min.Rank() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient role",
			})
		}
		return c.Next()
	}
}
