package handlers

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"keepto/internal/app"
	"keepto/internal/middleware"
	"keepto/internal/models"
)

func (h *Handlers) loadProfile(ctx context.Context, uid string) (models.Profile, error) {
	snap, err := h.Services.Store.Get(ctx, models.ProfilePath(uid))
	if err != nil {
		return models.Profile{}, models.NewInternalError(fmt.Errorf("load profile: %w", err))
	}
	if !snap.Exists {
		return models.Profile{}, models.NewNotFoundError("User", uid)
	}
	return models.ProfileFromSnapshot(snap), nil
}

// GetProfile returns the profile of :uid, or the caller's own on /profile.
func (h *Handlers) GetProfile(c *fiber.Ctx) error {
	uid := c.Params("uid")
	if uid == "" {
		uid = middleware.UserID(c)
	}
	p, err := h.loadProfile(c.UserContext(), uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(p)
}

// UpdateProfile merges the given fields into the caller's profile.
func (h *Handlers) UpdateProfile(c *fiber.Ctx) error {
	var req models.ProfileUpdate
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	return h.asUser(c, func(ctx context.Context, client *app.Client) error {
		if err := client.Session.UpdateProfile(ctx, req); err != nil {
			return fail(c, err)
		}
		p, err := h.loadProfile(ctx, client.UID())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(p)
	})
}

// ChangePhoto uploads the "photo" part and makes it the caller's photo.
func (h *Handlers) ChangePhoto(c *fiber.Ctx) error {
	img, closeImg, err := formImage(c, "photo")
	if err != nil {
		return fail(c, err)
	}
	defer closeImg()
	if img == nil {
		return fail(c, models.NewValidationError("photo file is required"))
	}
	return h.asUser(c, func(ctx context.Context, client *app.Client) error {
		url, err := client.Session.ChangePhoto(ctx, *img)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"photo_url": url})
	})
}

// RemovePhoto clears the caller's photo.
func (h *Handlers) RemovePhoto(c *fiber.Ctx) error {
	return h.asUser(c, func(ctx context.Context, client *app.Client) error {
		if err := client.Session.RemovePhoto(ctx); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
