package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"keepto/internal/app"
	"keepto/internal/interaction"
	"keepto/internal/models"
)

// CreatePostRequest is the JSON body of POST /api/posts. Multipart requests
// send "content" as a form value and the picture as the "image" part.
type CreatePostRequest struct {
	Content  string `json:"content" form:"content"`
	ImageURL string `json:"image_url" form:"image_url"`
}

// CommentRequest is the body of POST /api/posts/:id/comments and of
// POST /api/chats/:uid/messages.
type CommentRequest struct {
	Text string `json:"text"`
}

// CreatePost publishes a post, uploading the attached image first.
func (h *Handlers) CreatePost(c *fiber.Ctx) error {
	var req CreatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	img, closeImg, err := formImage(c, "image")
	if err != nil {
		return fail(c, err)
	}
	defer closeImg()

	return h.asUser(c, func(ctx context.Context, client *app.Client) error {
		post, err := client.CreatePost(ctx, interaction.PostInput{
			Content:  req.Content,
			ImageURL: req.ImageURL,
			Image:    img,
		})
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(post)
	})
}

// ToggleLike flips the caller's like on :id.
func (h *Handlers) ToggleLike(c *fiber.Ctx) error {
	postID := c.Params("id")
	return h.asUser(c, func(ctx context.Context, client *app.Client) error {
		liked, err := client.ToggleLike(ctx, postID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"post_id": postID, "liked": liked})
	})
}

// AddComment comments on :id.
func (h *Handlers) AddComment(c *fiber.Ctx) error {
	var req CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	postID := c.Params("id")
	return h.asUser(c, func(ctx context.Context, client *app.Client) error {
		comment, err := client.AddComment(ctx, postID, req.Text)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(comment)
	})
}

// SendMessage sends a chat message to :uid.
func (h *Handlers) SendMessage(c *fiber.Ctx) error {
	var req CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	peer := c.Params("uid")
	return h.asUser(c, func(ctx context.Context, client *app.Client) error {
		msg, err := client.SendMessage(ctx, peer, req.Text)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(msg)
	})
}

// NotFound is the fallback for unknown routes.
func NotFound(c *fiber.Ctx) error {
	return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("Route", c.Path()))
}
