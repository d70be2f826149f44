package middleware

import (
	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v2"
	"github.com/golang-jwt/jwt/v4"
)

const IdentityKey = "identity"

func Authorize(signKey []byte) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:   signKey,
		ErrorHandler: jwtError,
		ContextKey:   IdentityKey,
	})
}

func jwtError(c *fiber.Ctx, err error) error {
	if err.Error() == "Missing or malformed JWT" {
		return c.Status(fiber.StatusUnauthorized).
			JSON(fiber.Map{"status": "error", "message": "Missing or malformed JWT", "data": nil})
	}
	return c.Status(fiber.StatusUnauthorized).
		JSON(fiber.Map{"status": "error", "message": "Invalid or expired JWT", "data": nil})
}

// Claims returns the verified token claims, or nil outside Authorize.
func Claims(c *fiber.Ctx) jwt.MapClaims {
	token, ok := c.Locals(IdentityKey).(*jwt.Token)
	if !ok || token == nil {
		return nil
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	return claims
}

// UserId is the authenticated caller's id, empty when there is none.
func UserId(c *fiber.Ctx) string {
	sub, _ := Claims(c)["sub"].(string)
	return sub
}

func IsAdmin(c *fiber.Ctx) bool {
	role, _ := Claims(c)["role"].(string)
	return role == "admin"
}
