package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/middleware"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/session"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/utils"
)

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

// sessionEngine resolves the caller's session engine, starting it on first
// use. When it returns a nil engine the error response has already been
// written and should be returned as-is.
func sessionEngine(c *fiber.Ctx, sessions *session.Manager) (*session.Engine, error) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		return nil, utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	engine, err := sessions.Get(requestContext(c), userID)
	if err != nil {
		return nil, utils.SendError(c, fiber.StatusBadGateway, "session could not be started")
	}
	return engine, nil
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}
