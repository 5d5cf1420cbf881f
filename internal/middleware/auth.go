package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"keepto/internal/auth"
	"keepto/internal/models"
	"keepto/internal/observability"
)

// BearerToken extracts the token from "Authorization: Bearer <token>". When
// allowQuery is set, a "token" query parameter is accepted as a fallback for
// clients that cannot set headers, such as browser websockets.
func BearerToken(c *fiber.Ctx, allowQuery bool) string {
	parts := strings.Fields(c.Get(fiber.HeaderAuthorization))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	if allowQuery {
		return c.Query("token")
	}
	return ""
}

// AuthRequired rejects requests without a token accepted by one of
// verifiers. The uid is stored in Locals under UserIDLocal and on the user
// context for logging.
func AuthRequired(allowQuery bool, verifiers ...auth.TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := BearerToken(c, allowQuery)
		if token == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		for _, v := range verifiers {
			if v == nil {
				continue
			}
			uid, err := v.VerifyToken(c.UserContext(), token)
			if err != nil {
				continue
			}
			c.Locals(UserIDLocal, uid)
			c.SetUserContext(observability.WithUserID(c.UserContext(), uid))
			return c.Next()
		}

		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid or expired token"))
	}
}

// UserID returns the uid set by AuthRequired.
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(UserIDLocal).(string)
	return uid
}
