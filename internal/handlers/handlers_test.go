package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"keepto/internal/app"
	"keepto/internal/auth"
	"keepto/internal/docstore/memstore"
	"keepto/internal/handlers"
	"keepto/internal/middleware"
	"keepto/internal/models"
)

func newHandlers(rdb *redis.Client) *handlers.Handlers {
	store := memstore.New()
	svc := app.NewServices(store, auth.NewStoreDirectory(store, bcrypt.MinCost), nil, nil)
	return handlers.New(svc, auth.NewTokens("test-secret", time.Hour), rdb)
}

// asCaller sets the uid from the X-Test-User header, standing in for the
// JWT middleware.
func asCaller(c *fiber.Ctx) error {
	if uid := c.Get("X-Test-User"); uid != "" {
		c.Locals(middleware.UserIDLocal, uid)
	}
	return c.Next()
}

func TestHealth(t *testing.T) {
	t.Parallel()

	up := miniredis.RunT(t)
	down := miniredis.RunT(t)
	downClient := redis.NewClient(&redis.Options{Addr: down.Addr()})
	down.Close()

	tests := []struct {
		name       string
		rdb        *redis.Client
		wantStatus int
		wantRedis  any
	}{
		{"no redis", nil, http.StatusOK, nil},
		{"redis up", redis.NewClient(&redis.Options{Addr: up.Addr()}), http.StatusOK, "healthy"},
		{"redis down", downClient, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := fiber.New()
			srv.Get("/health", newHandlers(tt.rdb).Health)

			resp, err := srv.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body struct {
				Status string         `json:"status"`
				Checks map[string]any `json:"checks"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantRedis, body.Checks["redis"])
		})
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	srv := fiber.New()
	srv.Use(handlers.NotFound)

	resp, err := srv.Test(httptest.NewRequest(http.MethodGet, "/nope", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, models.CodeNotFound, body.Code)
}

func TestSignupThenProfile(t *testing.T) {
	t.Parallel()
	h := newHandlers(nil)
	srv := fiber.New()
	srv.Post("/signup", h.Signup)
	srv.Get("/profile", asCaller, h.GetProfile)
	srv.Get("/users/:uid", h.GetProfile)
	srv.Patch("/profile", asCaller, h.UpdateProfile)

	send := func(method, path, uid string, body any) *http.Response {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if uid != "" {
			req.Header.Set("X-Test-User", uid)
		}
		resp, err := srv.Test(req, -1)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := send(http.MethodPost, "/signup", "", handlers.SignupRequest{
		Email:        "ada@example.com",
		Password:     "secret1",
		Registration: models.Registration{FirstName: "Ada", LastName: "Lovelace"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created handlers.AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.Token)
	require.NotNil(t, created.User)
	uid := created.User.UID

	resp = send(http.MethodGet, "/users/"+uid, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p models.Profile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, "Ada Lovelace", p.DisplayName)

	resp = send(http.MethodGet, "/users/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	bio := "Poet of numbers"
	resp = send(http.MethodPatch, "/profile", uid, models.ProfileUpdate{Bio: &bio})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, bio, p.Bio)

	resp = send(http.MethodGet, "/profile", uid, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(http.MethodPatch, "/profile", "ghost", models.ProfileUpdate{Bio: &bio})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
