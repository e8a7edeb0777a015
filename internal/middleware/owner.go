package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
)

const ownerKey = "ownerID"

func CORS(allowOrigins string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	})
}

// Owner pins every request to the configured owner. It is the single place a
// real identity would be resolved.
func Owner(ownerID uuid.UUID) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(ownerKey, ownerID)
		return c.Next()
	}
}

func GetOwnerID(c *fiber.Ctx) (uuid.UUID, bool) {
	ownerID, ok := c.Locals(ownerKey).(uuid.UUID)
	if !ok || ownerID == uuid.Nil {
		return uuid.Nil, false
	}
	return ownerID, true
}
