package middleware

import (
	"slices"

	common_models "go-ptw/internal/common/models"
	"go-ptw/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

// RequireRoles rejects callers whose token role is not one of roles.
func RequireRoles(roles ...common_models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		if !slices.Contains(roles, claims.Role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Forbidden: Insufficient permissions",
			})
		}

		return c.Next()
	}
}
