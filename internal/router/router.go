package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/config"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/handler"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/middleware"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	RoomHandler         *handler.RoomHandler
	NotificationHandler *handler.NotificationHandler
	PresenceHandler     *handler.PresenceHandler
	StreamHandler       *handler.StreamHandler
	HealthHandler       fiber.Handler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})

	if deps.HealthHandler != nil {
		api.Get("/health", deps.HealthHandler)
	}
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	protected := app.Group("/api", jwtMiddleware)

	if deps.RoomHandler != nil {
		rooms := protected.Group("/rooms")
		deps.RoomHandler.Register(rooms, middleware.RateLimit("join", 30, time.Minute))

		if deps.PresenceHandler != nil {
			deps.PresenceHandler.Register(rooms, middleware.RateLimit("typing", 120, time.Minute))
		}
	}

	if deps.NotificationHandler != nil {
		notifications := protected.Group("/notifications")
		deps.NotificationHandler.Register(notifications)
	}

	if deps.StreamHandler != nil {
		deps.StreamHandler.Register(protected)
	}
}
