package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/dto"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/session"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/store"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/utils"
)

// RoomHandler exposes room membership operations over HTTP.
type RoomHandler struct {
	sessions  *session.Manager
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRoomHandler creates a room handler instance.
func NewRoomHandler(sessions *session.Manager, validator *validator.Validate, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		sessions:  sessions,
		validator: validator,
		logger:    logger.With().Str("component", "room_handler").Logger(),
	}
}

// Register binds room routes under the provided router group. joinLimiter is
// applied to the endpoints that hit the backend on every call.
func (h *RoomHandler) Register(router fiber.Router, joinLimiter fiber.Handler) {
	router.Get("/", h.list)
	router.Post("/", h.create)
	router.Post("/switch", joinLimiter, h.switchRoom)
	router.Post("/:id/join", joinLimiter, h.join)
	router.Post("/:id/leave", h.leave)
	router.Post("/:id/select", h.selectRoom)
	router.Post("/:id/transfer", h.transfer)
	router.Post("/:id/messages", h.sendMessage)
}

func (h *RoomHandler) list(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	if c.QueryBool("refresh") {
		if err := engine.Rooms().FetchRooms(requestContext(c)); err != nil {
			requestLogger(h.logger, c).Warn().Err(err).Msg("room refresh failed, serving cached state")
		}
	}

	return utils.SendSuccess(c, "rooms", engine.RoomList())
}

func (h *RoomHandler) create(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	var req dto.CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	room, err := engine.Rooms().CreateRoom(requestContext(c), req.Name, req.IsPrivate)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRoomName) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("room creation failed")
		return utils.SendError(c, fiber.StatusBadGateway, "room creation failed")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "room created", dto.NewRoomResponse(room, engine.Presence().OnlineCount(room.ID)))
}

func (h *RoomHandler) join(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	roomID := strings.TrimSpace(c.Params("id"))
	result, err := engine.Rooms().JoinRoom(requestContext(c), roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "room not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", roomID).Msg("room join failed")
		return utils.SendError(c, fiber.StatusBadGateway, "room join failed")
	}

	return utils.SendSuccess(c, "join processed", result)
}

func (h *RoomHandler) leave(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	roomID := strings.TrimSpace(c.Params("id"))
	result, err := engine.Rooms().LeaveRoomByID(requestContext(c), roomID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRoomNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "room not found")
		case errors.Is(err, store.ErrOwnershipTransferRequired):
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", roomID).Msg("room leave failed")
		return utils.SendError(c, fiber.StatusBadGateway, "room leave failed")
	}

	return utils.SendSuccess(c, "room left", result)
}

func (h *RoomHandler) switchRoom(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	var req dto.SwitchRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := engine.Rooms().SwitchRoom(requestContext(c), req.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "room not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", req.RoomID).Msg("room switch failed")
		return utils.SendError(c, fiber.StatusBadGateway, "room switch failed")
	}

	return utils.SendSuccess(c, "room switched", result)
}

func (h *RoomHandler) selectRoom(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	roomID := strings.TrimSpace(c.Params("id"))
	if _, ok := engine.Rooms().Room(roomID); !ok {
		return utils.SendError(c, fiber.StatusNotFound, "room not found")
	}

	engine.Rooms().SelectRoom(roomID)
	return utils.SendSuccess(c, "room selected", fiber.Map{"selected_room_id": roomID})
}

func (h *RoomHandler) transfer(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	var req dto.TransferOwnershipRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	roomID := strings.TrimSpace(c.Params("id"))
	if err := engine.Rooms().TransferOwnership(requestContext(c), roomID, req.NewOwnerID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "room not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", roomID).Msg("ownership transfer failed")
		return utils.SendError(c, fiber.StatusBadGateway, "ownership transfer failed")
	}

	return utils.SendSuccess(c, "ownership transferred", fiber.Map{"room_id": roomID, "new_owner_id": req.NewOwnerID})
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,min=1,max=4000"`
}

func (h *RoomHandler) sendMessage(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	roomID := strings.TrimSpace(c.Params("id"))
	if _, ok := engine.Rooms().Room(roomID); !ok {
		return utils.SendError(c, fiber.StatusNotFound, "room not found")
	}

	message, err := engine.SendMessage(requestContext(c), roomID, req.Content)
	if err != nil {
		if errors.Is(err, session.ErrMessageEmpty) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", roomID).Msg("message send failed")
		return utils.SendError(c, fiber.StatusBadGateway, "message send failed")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}
