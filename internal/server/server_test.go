package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	gorilla "github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"keepto/internal/app"
	"keepto/internal/auth"
	"keepto/internal/config"
	"keepto/internal/docstore/memstore"
	"keepto/internal/handlers"
	"keepto/internal/models"
	"keepto/internal/upload"
)

type uploaderFunc func(context.Context, upload.Image) (string, error)

func (f uploaderFunc) Upload(ctx context.Context, img upload.Image) (string, error) {
	return f(ctx, img)
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                   "test",
		JWTSecret:             "test-secret",
		JWTTTLHours:           1,
		ImageMaxUploadMB:      1,
		PostRateLimit:         2,
		PostRateWindowSeconds: 60,
	}
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	store := memstore.New()
	uploader := uploaderFunc(func(_ context.Context, img upload.Image) (string, error) {
		_, _ = io.Copy(io.Discard, img.Body)
		return "https://cdn.example.com/" + img.Name, nil
	})
	svc := app.NewServices(store, auth.NewStoreDirectory(store, bcrypt.MinCost), uploader, nil)
	return New(testConfig(), svc, opts...)
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func signup(t *testing.T, s *Server, email, first string) (token, uid string) {
	t.Helper()
	status, body := doJSON(t, s, http.MethodPost, "/api/auth/signup", "", handlers.SignupRequest{
		Email:    email,
		Password: "secret1",
		Registration: models.Registration{
			FirstName: first,
			LastName:  "Test",
			DOB:       "1990-01-01",
		},
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	user := body["user"].(map[string]any)
	return body["token"].(string), user["uid"].(string)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	status, body := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = doJSON(t, s, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAuthFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token, uid := signup(t, s, "ada@example.com", "Ada")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"duplicate signup", http.MethodPost, "/api/auth/signup", "", handlers.SignupRequest{
			Email: "ada@example.com", Password: "secret1",
			Registration: models.Registration{FirstName: "Ada", LastName: "Test"},
		}, fiber.StatusConflict},
		{"invalid signup", http.MethodPost, "/api/auth/signup", "", handlers.SignupRequest{Email: "nope", Password: "1"}, fiber.StatusBadRequest},
		{"wrong password", http.MethodPost, "/api/auth/signin", "", handlers.SigninRequest{Email: "ada@example.com", Password: "wrong!"}, fiber.StatusUnauthorized},
		{"signin", http.MethodPost, "/api/auth/signin", "", handlers.SigninRequest{Email: "ada@example.com", Password: "secret1"}, fiber.StatusOK},
		{"profile without token", http.MethodGet, "/api/profile", "", nil, fiber.StatusUnauthorized},
		{"profile with bad token", http.MethodGet, "/api/profile", "garbage", nil, fiber.StatusUnauthorized},
		{"profile", http.MethodGet, "/api/profile", token, nil, fiber.StatusOK},
		{"unknown user", http.MethodGet, "/api/users/ghost", token, nil, fiber.StatusNotFound},
		{"known user", http.MethodGet, "/api/users/" + uid, token, nil, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := doJSON(t, s, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestProfileEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token, _ := signup(t, s, "ada@example.com", "Ada")

	bio := "Analytical engines"
	status, body := doJSON(t, s, http.MethodPatch, "/api/profile", token, models.ProfileUpdate{Bio: &bio})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, bio, body["bio"])
	assert.Equal(t, "Ada Test", body["display_name"])

	empty := ""
	status, _ = doJSON(t, s, http.MethodPatch, "/api/profile", token, models.ProfileUpdate{FirstName: &empty})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = doJSON(t, s, http.MethodDelete, "/api/profile/photo", token, nil)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, _ = doJSON(t, s, http.MethodPost, "/api/profile/photo", token, nil)
	assert.Equal(t, fiber.StatusBadRequest, status, "photo part is required")
}

func TestPostInteractions(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token, uid := signup(t, s, "ada@example.com", "Ada")

	status, post := doJSON(t, s, http.MethodPost, "/api/posts", token, handlers.CreatePostRequest{Content: "hello"})
	require.Equal(t, fiber.StatusCreated, status, post)
	assert.Equal(t, uid, post["user_id"])
	assert.Equal(t, "Ada Test", post["author_name"])
	postID := post["id"].(string)

	status, body := doJSON(t, s, http.MethodPost, "/api/posts/"+postID+"/like", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["liked"])
	status, body = doJSON(t, s, http.MethodPost, "/api/posts/"+postID+"/like", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["liked"])

	status, body = doJSON(t, s, http.MethodPost, "/api/posts/"+postID+"/comments", token, handlers.CommentRequest{Text: "nice"})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, "nice", body["text"])

	snap, err := s.services.Store.Get(context.Background(), models.PostPath(postID))
	require.NoError(t, err)
	stored := models.PostFromSnapshot(snap)
	assert.Zero(t, stored.LikesCount)
	assert.EqualValues(t, 1, stored.CommentsCount)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"empty post", "/api/posts", handlers.CreatePostRequest{}, fiber.StatusBadRequest},
		{"like missing post", "/api/posts/missing/like", nil, fiber.StatusNotFound},
		{"blank comment", "/api/posts/" + postID + "/comments", handlers.CommentRequest{Text: " "}, fiber.StatusBadRequest},
		{"comment on missing post", "/api/posts/missing/comments", handlers.CommentRequest{Text: "hi"}, fiber.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := doJSON(t, s, http.MethodPost, tt.path, token, tt.body)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestCreatePostWithImage(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token, _ := signup(t, s, "ada@example.com", "Ada")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("content", "look"))
	part, err := w.CreateFormFile("image", "cat.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake image bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/posts", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var post models.Post
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&post))
	assert.Equal(t, "look", post.Content)
	require.NotNil(t, post.Image)
	assert.Equal(t, "https://cdn.example.com/cat.png", *post.Image)
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	adaToken, adaUID := signup(t, s, "ada@example.com", "Ada")
	_, graceUID := signup(t, s, "grace@example.com", "Grace")

	status, body := doJSON(t, s, http.MethodPost, "/api/chats/"+graceUID+"/messages", adaToken, handlers.CommentRequest{Text: "hi grace"})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, adaUID, body["sender_id"])

	status, _ = doJSON(t, s, http.MethodPost, "/api/chats/"+adaUID+"/messages", adaToken, handlers.CommentRequest{Text: "me"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = doJSON(t, s, http.MethodPost, "/api/chats/ghost/messages", adaToken, handlers.CommentRequest{Text: "hi"})
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestPostRateLimit(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := newTestServer(t, WithRedis(rdb))
	token, _ := signup(t, s, "ada@example.com", "Ada")

	for i, want := range []int{fiber.StatusCreated, fiber.StatusCreated, fiber.StatusTooManyRequests} {
		status, _ := doJSON(t, s, http.MethodPost, "/api/posts", token, handlers.CreatePostRequest{Content: "spam"})
		assert.Equal(t, want, status, "post %d", i+1)
	}

	status, body := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["checks"].(map[string]any)["redis"])
}

func readFrame(t *testing.T, ws *gorilla.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f Frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

// waitFrame reads until match accepts a frame.
func waitFrame(t *testing.T, ws *gorilla.Conn, match func(Frame) bool) Frame {
	t.Helper()
	for i := 0; i < 100; i++ {
		if f := readFrame(t, ws); match(f) {
			return f
		}
	}
	t.Fatal("no matching frame")
	return Frame{}
}

func TestViewStream(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token, uid := signup(t, s, "ada@example.com", "Ada")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.App().Listener(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	base := "ws://" + ln.Addr().String() + "/api/ws"
	_, resp, err := gorilla.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	}

	ws, _, err := gorilla.DefaultDialer.Dial(base+"?token="+token, nil)
	require.NoError(t, err)
	defer ws.Close()

	waitFrame(t, ws, func(f Frame) bool {
		if f.Type != app.EventSession {
			return false
		}
		st, _ := f.Data.(map[string]any)
		user, _ := st["user"].(map[string]any)
		return user != nil && user["uid"] == uid
	})

	require.NoError(t, ws.WriteJSON(app.Command{ID: "c1", Type: app.CmdPost, Text: "live post"}))
	res := waitFrame(t, ws, func(f Frame) bool { return f.Type == FrameResult && f.ID == "c1" })
	post := res.Data.(map[string]any)
	assert.Equal(t, "live post", post["content"])

	waitFrame(t, ws, func(f Frame) bool {
		items, _ := f.Data.([]any)
		return f.Type == app.EventFeed && len(items) == 1
	})

	require.NoError(t, ws.WriteJSON(app.Command{ID: "c2", Type: app.CmdLike, PostID: "missing"}))
	errFrame := waitFrame(t, ws, func(f Frame) bool { return f.ID == "c2" })
	assert.Equal(t, FrameError, errFrame.Type)
	assert.Equal(t, models.CodeNotFound, errFrame.Code)

	hostile := []app.Command{
		{Type: app.CmdOpenThread, PostID: "a/b"},
		{Type: app.CmdOpenThread, PostID: ""},
		{Type: app.CmdOpenChat, UserID: "a/b"},
		{Type: app.CmdOpenChat, UserID: ""},
		{Type: app.CmdOpenChat, UserID: uid},
		{Type: app.CmdShowProfile, UserID: "x/y/z"},
		{Type: app.CmdComment, PostID: "a/b", Text: "hi"},
	}
	for i, cmd := range hostile {
		cmd.ID = fmt.Sprintf("h%d", i)
		require.NoError(t, ws.WriteJSON(cmd))
		f := waitFrame(t, ws, func(f Frame) bool { return f.ID == cmd.ID })
		assert.Equal(t, FrameError, f.Type, "%s %q%q", cmd.Type, cmd.PostID, cmd.UserID)
		assert.Equal(t, models.CodeValidation, f.Code, "%s %q%q", cmd.Type, cmd.PostID, cmd.UserID)
	}

	// The connection survives and keeps serving commands.
	require.NoError(t, ws.WriteJSON(app.Command{ID: "c3", Type: app.CmdPost, Text: "still here"}))
	ok := waitFrame(t, ws, func(f Frame) bool { return f.ID == "c3" })
	assert.Equal(t, FrameResult, ok.Type)

	require.NoError(t, ws.WriteMessage(gorilla.TextMessage, []byte("{not json")))
	bad := waitFrame(t, ws, func(f Frame) bool { return f.Type == FrameError && f.ID == "" })
	assert.Equal(t, models.CodeValidation, bad.Code)
}
