package handler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/dto"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/middleware"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/observability"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/session"
)

// StreamHandler upgrades frontends to a websocket carrying the full session
// event stream: room list updates, notifications, presence, typing and
// toasts.
type StreamHandler struct {
	sessions *session.Manager
	logger   zerolog.Logger
}

// NewStreamHandler creates a stream handler instance.
func NewStreamHandler(sessions *session.Manager, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		sessions: sessions,
		logger:   logger.With().Str("component", "stream_handler").Logger(),
	}
}

// Register binds the websocket upgrade route under the provided group.
func (h *StreamHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

// clientFrame is a command sent by an attached frontend over the socket.
type clientFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

func (h *StreamHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	engine, err := h.sessions.Get(baseCtx, userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("session start failed for websocket")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadGateway, "session unavailable"))
		_ = conn.Close()
		return
	}

	observability.StreamViewers().Inc()
	defer observability.StreamViewers().Dec()

	h.logger.Info().Str("user_id", userID).Msg("event stream connected")

	events, cancel := engine.Subscribe(64)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(conn, engine, events)
	}()

	h.readLoop(baseCtx, conn, engine)
	cancel()
	<-done

	h.logger.Info().Str("user_id", userID).Msg("event stream disconnected")
}

// writeLoop sends the initial snapshot followed by live events until the
// subscription is cancelled or the socket write fails.
func (h *StreamHandler) writeLoop(conn *websocket.Conn, engine *session.Engine, events <-chan session.Event) {
	snapshot := []session.Event{
		{Type: session.EventRooms, Payload: engine.RoomList()},
		{Type: session.EventNotifications, Payload: dto.NewNotificationResponseSlice(engine.Notifications().Notifications())},
	}
	for _, event := range snapshot {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// readLoop consumes client frames until the connection drops. Unknown frame
// types are ignored so older frontends stay compatible.
func (h *StreamHandler) readLoop(ctx context.Context, conn *websocket.Conn, engine *session.Engine) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "typing":
			engine.Typing().HandleTyping(ctx, frame.RoomID)
		case "stop_typing":
			engine.Typing().StopTyping(ctx, frame.RoomID)
		case "select_room":
			if _, ok := engine.Rooms().Room(frame.RoomID); ok {
				engine.Rooms().SelectRoom(frame.RoomID)
			}
		}
	}
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		if id, ok := value.(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}
