package handler

import (
	"bufio"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/dto"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/session"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/store"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/utils"
)

// NotificationHandler exposes the notification inbox over HTTP, including a
// server-sent event stream for inbox and toast updates.
type NotificationHandler struct {
	sessions *session.Manager
	logger   zerolog.Logger
}

// NewNotificationHandler creates a notification handler instance.
func NewNotificationHandler(sessions *session.Manager, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		sessions: sessions,
		logger:   logger.With().Str("component", "notification_handler").Logger(),
	}
}

// Register binds notification routes under the provided router group.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Get("/stream", h.stream)
	router.Post("/:id/accept", h.accept)
	router.Post("/:id/reject", h.reject)
	router.Patch("/:id/read", h.markRead)
	router.Delete("/:id", h.remove)
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	if c.QueryBool("refresh") {
		if err := engine.Notifications().FetchNotifications(requestContext(c)); err != nil {
			requestLogger(h.logger, c).Warn().Err(err).Msg("notification refresh failed, serving cached state")
		}
	}

	payload := fiber.Map{
		"notifications": dto.NewNotificationResponseSlice(engine.Notifications().Notifications()),
		"unread_count":  engine.Notifications().UnreadCount(),
	}
	return utils.SendSuccess(c, "notifications", payload)
}

func (h *NotificationHandler) accept(c *fiber.Ctx) error {
	return h.resolve(c, true)
}

func (h *NotificationHandler) reject(c *fiber.Ctx) error {
	return h.resolve(c, false)
}

func (h *NotificationHandler) resolve(c *fiber.Ctx, accept bool) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	notification, ok := engine.Notifications().Notification(id)
	if !ok {
		return utils.SendError(c, fiber.StatusNotFound, "notification not found")
	}
	if notification.RoomID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "notification has no room attached")
	}

	var result dto.AcceptJoinRequestResponse
	if accept {
		result, err = engine.Notifications().AcceptJoinRequest(requestContext(c), id, notification.RoomID)
	} else {
		result, err = engine.Notifications().RejectJoinRequest(requestContext(c), id, notification.RoomID)
	}
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("notification_id", id).Bool("accept", accept).Msg("join request resolution failed")
		return utils.SendError(c, fiber.StatusBadGateway, "join request resolution failed")
	}

	return utils.SendSuccess(c, "join request resolved", result)
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := engine.Notifications().MarkAsRead(requestContext(c), id); err != nil {
		if errors.Is(err, store.ErrNotificationNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "notification not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Str("notification_id", id).Msg("mark as read failed")
		return utils.SendError(c, fiber.StatusBadGateway, "mark as read failed")
	}

	return utils.SendSuccess(c, "notification read", fiber.Map{"id": id})
}

func (h *NotificationHandler) remove(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := engine.Notifications().DeleteNotification(requestContext(c), id); err != nil {
		if errors.Is(err, store.ErrNotificationNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "notification not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Str("notification_id", id).Msg("notification delete failed")
		return utils.SendError(c, fiber.StatusBadGateway, "notification delete failed")
	}

	return utils.SendSuccess(c, "notification deleted", fiber.Map{"id": id})
}

// stream pushes notification and toast events as server-sent events. The
// connection is kept alive with comment pings so intermediaries do not cut
// idle streams.
func (h *NotificationHandler) stream(c *fiber.Ctx) error {
	engine, err := sessionEngine(c, h.sessions)
	if engine == nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	events, cancel := engine.Subscribe(64)
	logger := requestLogger(h.logger, c)

	initial := dto.NewNotificationResponseSlice(engine.Notifications().Notifications())

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		if err := writeSSE(w, session.EventNotifications, initial); err != nil {
			return
		}

		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if event.Type != session.EventNotifications && event.Type != session.EventToast {
					continue
				}
				if err := writeSSE(w, event.Type, event.Payload); err != nil {
					logger.Debug().Err(err).Msg("notification stream closed")
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}

func writeSSE(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("event: " + event + "\ndata: " + string(data) + "\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
