package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/dto"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/session"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/utils"
)

// PresenceHandler exposes room presence snapshots and typing signals.
type PresenceHandler struct {
	sessions *session.Manager
	logger   zerolog.Logger
}

// NewPresenceHandler creates a presence handler instance.
func NewPresenceHandler(sessions *session.Manager, logger zerolog.Logger) *PresenceHandler {
	return &PresenceHandler{
		sessions: sessions,
		logger:   logger.With().Str("component", "presence_handler").Logger(),
	}
}

// Register binds presence and typing routes under the rooms group.
// typingLimiter throttles the typing signal endpoints, which fire on every
// keystroke burst from the frontends.
func (h *PresenceHandler) Register(router fiber.Router, typingLimiter fiber.Handler) {
	router.Get("/:id/presence", h.presence)
	router.Get("/:id/typing", h.typists)
	router.Post("/:id/typing", typingLimiter, h.typing)
	router.Delete("/:id/typing", h.stopTyping)
}

func (h *PresenceHandler) presence(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	roomID := strings.TrimSpace(c.Params("id"))
	if _, ok := engine.Rooms().Room(roomID); !ok {
		return utils.SendError(c, fiber.StatusNotFound, "room not found")
	}

	snap := engine.Presence().Snapshot(roomID)
	return utils.SendSuccess(c, "presence", dto.PresenceResponse{
		RoomID:        roomID,
		OnlineCount:   snap.OnlineCount,
		OnlineUserIDs: snap.OnlineUserIDs,
	})
}

func (h *PresenceHandler) typists(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	roomID := strings.TrimSpace(c.Params("id"))
	return utils.SendSuccess(c, "typing", dto.TypingResponse{
		RoomID:  roomID,
		UserIDs: engine.Typing().Typists(roomID),
	})
}

func (h *PresenceHandler) typing(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	roomID := strings.TrimSpace(c.Params("id"))
	if _, ok := engine.Rooms().Room(roomID); !ok {
		return utils.SendError(c, fiber.StatusNotFound, "room not found")
	}

	engine.Typing().HandleTyping(requestContext(c), roomID)
	return utils.SendSuccess(c, "typing signalled", fiber.Map{"room_id": roomID})
}

func (h *PresenceHandler) stopTyping(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	roomID := strings.TrimSpace(c.Params("id"))
	engine.Typing().StopTyping(requestContext(c), roomID)
	return utils.SendSuccess(c, "typing stopped", fiber.Map{"room_id": roomID})
}
