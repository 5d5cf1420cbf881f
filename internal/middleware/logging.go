package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"keepto/internal/observability"
)

// Locals keys set by the middleware chain.
const (
	UserIDLocal    = "userID"
	RequestIDLocal = "requestid"
	TraceIDLocal   = "traceID"
)

// ContextMiddleware copies the request id onto the user context so that
// every log record written with it carries the id.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rid := c.Locals(RequestIDLocal); rid != nil {
			c.SetUserContext(observability.WithRequestID(c.UserContext(), fmt.Sprintf("%v", rid)))
		}
		return c.Next()
	}
}

// Logger returns the request-scoped logger.
func Logger(c *fiber.Ctx) *slog.Logger {
	l := observability.Component(nil, "http")
	if rid := c.Locals(RequestIDLocal); rid != nil {
		l = l.With(slog.Any("request_id", rid))
	}
	return l
}

// StructuredLogger logs one record per request.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		fields := []any{
			slog.Int("status", status),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
			slog.String("user_agent", c.Get("User-Agent")),
		}
		if uid, ok := c.Locals(UserIDLocal).(string); ok {
			fields = append(fields, slog.String("user_id", uid))
		}
		if rid := c.Locals(RequestIDLocal); rid != nil {
			fields = append(fields, slog.Any("request_id", rid))
		}
		if tid, ok := c.Locals(TraceIDLocal).(string); ok {
			fields = append(fields, slog.String("trace_id", tid))
		}

		logger := observability.Component(nil, "http")
		switch {
		case err != nil:
			fields = append(fields, slog.String("error", err.Error()))
			logger.Error("request failed", fields...)
		case status >= fiber.StatusInternalServerError:
			logger.Error("request failed", fields...)
		default:
			logger.Info("request processed", fields...)
		}
		return err
	}
}
