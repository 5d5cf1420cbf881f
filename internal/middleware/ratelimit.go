// Package middleware provides the fiber middleware shared by every route.
package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"keepto/internal/models"
)

// CheckRateLimit counts one hit of id against resource and reports whether
// it is still within limit for the current window. A nil client allows
// everything.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	if rdb == nil || limit <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if cnt == 1 {
		rdb.Expire(ctx, key, window)
	}
	return cnt <= int64(limit), nil
}

// RateKey identifies the caller: the authenticated uid when there is one,
// otherwise the remote IP.
func RateKey(c *fiber.Ctx) string {
	if uid, ok := c.Locals(UserIDLocal).(string); ok && uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.IP()
}

// RateLimit returns a middleware enforcing limit requests per window under
// the resource name. Redis failures fail open.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, err := CheckRateLimit(c.UserContext(), rdb, name, RateKey(c), limit, window)
		if err != nil {
			Logger(c).Warn("rate limit check failed, allowing request",
				"resource", name,
				"error", err.Error(),
			)
			return c.Next()
		}
		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
				Code:  "RATE_LIMITED",
			})
		}
		return c.Next()
	}
}
