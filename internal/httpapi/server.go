// Package httpapi implements the HTTP long-poll protocol (§4.5): request
// parsing, Session construction, response framing (single or streamed),
// and the surrounding Fiber middleware stack.
package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/yousty/message-bus/internal/bus"
	"github.com/yousty/message-bus/internal/config"
	"github.com/yousty/message-bus/internal/middleware"
	"github.com/yousty/message-bus/internal/observability"
)

// Server wraps the Fiber app exposing the long-poll endpoints and the
// Prometheus metrics endpoint.
type Server struct {
	app     *fiber.App
	engine  *bus.Engine
	cfg     *config.Config
	metrics *observability.Metrics
}

// NewServer builds the Fiber app, wires its middleware stack, and mounts
// the routes under cfg.Server.BasePath.
func NewServer(cfg *config.Config, engine *bus.Engine, metrics *observability.Metrics) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "message-bus",
		AppName:               "message-bus",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
	})

	s := &Server{app: app, engine: engine, cfg: cfg, metrics: metrics}
	s.setupMiddlewares()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddlewares() {
	logger := s.engine.Log()
	s.app.Use(requestid.New())
	s.app.Use(middleware.SecurityHeaders())
	s.app.Use(recover.New())
	s.app.Use(middleware.StructuredLogger(middleware.StructuredLoggerConfig{
		SkipPaths: []string{"/health", s.cfg.Metrics.Path},
		Logger:    &logger,
		// A long-poll request legitimately blocks for up to
		// LongPollTimeout; that is not a slow-request symptom, so the
		// threshold stays disabled rather than warning on every poll.
		SlowRequestThreshold: 0,
	}))
	if s.metrics != nil {
		s.app.Use(s.metrics.MetricsMiddleware())
	}
	s.app.Use(compress.New(compress.Config{Level: compress.LevelDefault}))
}

func (s *Server) setupRoutes() {
	base := s.app.Group(s.cfg.Server.BasePath)
	base.Post("/:client_id/poll", s.handlePoll)
	base.Get("/:client_id/poll", s.handlePoll)

	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.app.Get(s.cfg.Metrics.Path, s.metrics.Handler())
	}

	s.app.Get("/health", s.handleHealth)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Start blocks serving on cfg.Server.Address.
func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Server.Address)
}

// Shutdown gracefully stops the HTTP server, letting in-flight long-polls
// and streaming responses drain up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
