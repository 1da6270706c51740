package middleware

import "github.com/gofiber/fiber/v2"

// UserID returns the authenticated caller stored by JWTProtected, or 0 for anonymous requests.
func UserID(c *fiber.Ctx) uint {
	switch v := c.Locals("user_id").(type) {
	case uint:
		return v
	case int:
		if v < 0 {
			return 0
		}
		return uint(v)
	default:
		return 0
	}
}
