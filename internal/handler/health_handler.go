package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/config"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/session"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Service        string    `json:"service"`
	Environment    string    `json:"environment"`
	ActiveSessions int       `json:"active_sessions"`
}

// HealthCheck returns a handler that reports daemon health information.
func HealthCheck(cfg config.Config, sessions *session.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:         "ok",
			Timestamp:      time.Now().UTC(),
			Service:        cfg.AppName,
			Environment:    cfg.AppEnv,
			ActiveSessions: sessions.Count(),
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
