// Package server builds the fiber application: middleware, REST routes and
// the websocket view stream.
package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"

	"keepto/internal/app"
	"keepto/internal/auth"
	"keepto/internal/config"
	"keepto/internal/handlers"
	"keepto/internal/middleware"
	"keepto/internal/models"
	"keepto/internal/observability"
)

// Server holds the fiber app and everything its routes need.
type Server struct {
	config    *config.Config
	services  *app.Services
	tokens    *auth.Tokens
	verifiers []auth.TokenVerifier
	redis     *redis.Client
	handlers  *handlers.Handlers
	prom      *fiberprometheus.FiberPrometheus
	logger    *slog.Logger
	app       *fiber.App

	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
}

// Option customizes a Server.
type Option func(*Server)

// WithRedis enables readiness checks and rate limiting backed by rdb.
func WithRedis(rdb *redis.Client) Option {
	return func(s *Server) { s.redis = rdb }
}

// WithVerifier accepts tokens from an extra issuer, such as Firebase ID
// tokens, in addition to the server's own.
func WithVerifier(v auth.TokenVerifier) Option {
	return func(s *Server) { s.verifiers = append(s.verifiers, v) }
}

// WithMetrics exposes request metrics at /metrics.
func WithMetrics(serviceName string) Option {
	return func(s *Server) { s.prom = fiberprometheus.New(serviceName) }
}

// New builds the server and its routes.
func New(cfg *config.Config, svc *app.Services, opts ...Option) *Server {
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL())
	s := &Server{
		config:    cfg,
		services:  svc,
		tokens:    tokens,
		verifiers: []auth.TokenVerifier{tokens},
		logger:    observability.Component(svc.Logger, "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = handlers.New(svc, tokens, s.redis)
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())

	bodyLimit := int(cfg.ImageMaxBytes()) + 1<<20
	if bodyLimit < 4<<20 {
		bodyLimit = 4 << 20
	}
	s.app = fiber.New(fiber.Config{
		AppName:      "keepto",
		BodyLimit:    bodyLimit,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			return models.RespondWithError(c, models.StatusFor(err), err)
		},
	})
	s.SetupMiddleware(s.app)
	s.SetupRoutes(s.app)
	return s
}

// App returns the fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Tokens returns the session token service.
func (s *Server) Tokens() *auth.Tokens {
	return s.tokens
}

// SetupMiddleware installs the middleware chain.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.Tracing())
	if s.prom != nil {
		s.prom.RegisterAt(app, "/metrics")
		app.Use(s.prom.Middleware)
	}
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := strings.Join(s.config.Origins(), ",")
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		MaxAge:       86400,
	}))
}

// SetupRoutes registers every route.
func (s *Server) SetupRoutes(app *fiber.App) {
	h := s.handlers
	app.Get("/health", h.Health)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/signup", middleware.RateLimit(s.redis, 5, 10*time.Minute, "signup"), h.Signup)
	authGroup.Post("/signin", middleware.RateLimit(s.redis, 10, 5*time.Minute, "signin"), h.Signin)

	protected := api.Group("", middleware.AuthRequired(false, s.verifiers...))

	profile := protected.Group("/profile")
	profile.Get("/", h.GetProfile)
	profile.Patch("/", h.UpdateProfile)
	profile.Post("/photo", h.ChangePhoto)
	profile.Delete("/photo", h.RemovePhoto)
	protected.Get("/users/:uid", h.GetProfile)

	posts := protected.Group("/posts")
	posts.Post("/", middleware.RateLimit(s.redis, s.config.PostRateLimit, s.config.PostRateWindow(), "create_post"), h.CreatePost)
	posts.Post("/:id/like", h.ToggleLike)
	posts.Post("/:id/comments", h.AddComment)

	protected.Post("/chats/:uid/messages", h.SendMessage)

	api.Get("/ws", s.upgradeRequired, middleware.AuthRequired(true, s.verifiers...), s.StreamHandler())

	app.Use(handlers.NotFound)
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("server starting", slog.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections, ends open view streams and waits
// for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownFn()
	return s.app.ShutdownWithContext(ctx)
}
