package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	userIDHeader = "X-User-ID"
	userIDLocal  = "user_id"
)

// Identity reads the authenticated user id injected by the upstream
// gateway. Credential verification happens there; this service only
// requires the id to be present and well-formed.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get(userIDHeader)
		if userID == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing "+userIDHeader+" header")
		}
		if _, err := uuid.Parse(userID); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "malformed "+userIDHeader+" header")
		}

		c.Locals(userIDLocal, userID)
		return c.Next()
	}
}
