// Package ops serves the operational HTTP surface of the cadence agent:
// liveness and readiness probes plus a small engine stats snapshot.
package ops

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/cadence-agent/internal/health"
)

// StatsProvider supplies the counters rendered at /stats.
type StatsProvider interface {
	Stats() map[string]interface{}
}

// Server is the ops Fiber application.
type Server struct {
	app    *fiber.App
	addr   string
	logger zerolog.Logger
}

// NewServer creates and configures the ops server.
func NewServer(addr string, checker *health.Checker, stats StatsProvider, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:    app,
		addr:   addr,
		logger: logger.With().Str("component", "ops").Logger(),
	}

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/readyz", func(c *fiber.Ctx) error {
		results := checker.RunAll(c.Context())
		ready := true
		for _, st := range results {
			if st == health.StatusDown {
				ready = false
				break
			}
		}
		resp := fiber.Map{"checks": results}
		if !ready {
			resp["status"] = "not_ready"
			return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
		}
		resp["status"] = "ready"
		return c.JSON(resp)
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		if stats == nil {
			return c.JSON(fiber.Map{})
		}
		return c.JSON(stats.Stats())
	})

	return s
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("ops server starting")
	return s.app.Listen(s.addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("ops server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}
		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Msg("unhandled error")
		return c.Status(code).JSON(fiber.Map{"error": "internal error"})
	}
}
