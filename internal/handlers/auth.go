package handlers

import (
	"github.com/gofiber/fiber/v2"

	"keepto/internal/auth"
	"keepto/internal/models"
)

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	models.Registration
}

// SigninRequest is the body of POST /api/auth/signin.
type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries the session token.
type AuthResponse struct {
	Token string         `json:"token"`
	User  *auth.Identity `json:"user"`
}

func (h *Handlers) respondWithToken(c *fiber.Ctx, status int, id *auth.Identity) error {
	token, err := h.Tokens.Issue(id.UID)
	if err != nil {
		return fail(c, models.NewInternalError(err))
	}
	return c.Status(status).JSON(AuthResponse{Token: token, User: id})
}

// Signup creates an account with its profile and returns a session token.
func (h *Handlers) Signup(c *fiber.Ctx) error {
	var req SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	ctx := c.UserContext()
	client := h.Services.NewClient(ctx, nil)
	defer client.Close()

	id, err := client.Session.SignUp(ctx, req.Email, req.Password, req.Registration)
	if err != nil {
		return fail(c, err)
	}
	return h.respondWithToken(c, fiber.StatusCreated, id)
}

// Signin checks the credentials and returns a session token.
func (h *Handlers) Signin(c *fiber.Ctx) error {
	var req SigninRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	ctx := c.UserContext()
	client := h.Services.NewClient(ctx, nil)
	defer client.Close()

	id, err := client.Session.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return h.respondWithToken(c, fiber.StatusOK, id)
}
