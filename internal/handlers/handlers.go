// Package handlers implements the REST endpoints. Every request runs as a
// short-lived, command-only app client bound to the caller's uid.
package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"keepto/internal/app"
	"keepto/internal/auth"
	"keepto/internal/middleware"
	"keepto/internal/models"
	"keepto/internal/upload"
)

// Handlers holds the dependencies of the REST endpoints.
type Handlers struct {
	Services *app.Services
	Tokens   *auth.Tokens
	Redis    *redis.Client
}

// New returns the REST handlers.
func New(svc *app.Services, tokens *auth.Tokens, rdb *redis.Client) *Handlers {
	return &Handlers{Services: svc, Tokens: tokens, Redis: rdb}
}

// fail writes err with the status it maps to.
func fail(c *fiber.Ctx, err error) error {
	status := models.StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger(c).Error("request error", "error", err.Error())
	}
	return models.RespondWithError(c, status, err)
}

func badBody(c *fiber.Ctx) error {
	return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
}

// asUser runs fn with a client resumed as the authenticated caller.
func (h *Handlers) asUser(c *fiber.Ctx, fn func(ctx context.Context, client *app.Client) error) error {
	ctx := c.UserContext()
	client := h.Services.NewClient(ctx, nil)
	defer client.Close()
	if err := client.Resume(ctx, middleware.UserID(c)); err != nil {
		return fail(c, err)
	}
	return fn(ctx, client)
}

// Health reports liveness and, when redis is configured, whether it answers.
func (h *Handlers) Health(c *fiber.Ctx) error {
	checks := fiber.Map{}
	status := fiber.StatusOK
	overall := "ok"
	if h.Redis != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		checks["redis"] = "healthy"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy"
			status = fiber.StatusServiceUnavailable
			overall = "unhealthy"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"status":  overall,
		"service": "keepto",
		"checks":  checks,
		"time":    time.Now(),
	})
}

// formImage opens the multipart file under field, or returns nil when the
// request carries none.
func formImage(c *fiber.Ctx, field string) (*upload.Image, func(), error) {
	fh, err := c.FormFile(field)
	if err != nil {
		// Not multipart, or no such part.
		return nil, func() {}, nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil, func() {}, models.NewValidationError("Could not read uploaded file")
	}
	return &upload.Image{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Body:        f,
	}, func() { _ = f.Close() }, nil
}
