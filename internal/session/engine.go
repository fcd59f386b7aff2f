// Package session wires the per-user singleton stores, trackers and
// reconciler into one engine with a defined lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/dto"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/presence"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/realtime"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/store"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/typing"
)

// Event is a state update pushed to attached frontends.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Event types published by the engine.
const (
	EventRooms         = "rooms"
	EventNotifications = "notifications"
	EventPresence      = "presence"
	EventTyping        = "typing"
	EventToast         = "toast"
)

// ErrMessageEmpty rejects message sends whose content is blank after
// sanitization.
var ErrMessageEmpty = errors.New("message content is empty")

// Options tunes a session engine.
type Options struct {
	PresenceTimeout      time.Duration
	PresenceExcludeSelf  bool
	TypingDebounce       time.Duration
	TypingTTL            time.Duration
	NotificationPageSize int
	Username             string
	OptimisticCap        int
}

// Engine is the process-wide singleton for one authenticated session. All
// state mutation funnels through its stores; attached frontends observe via
// selectors and the event stream.
type Engine struct {
	gw     gateway.Gateway
	opts   Options
	logger zerolog.Logger

	userID        string
	rooms         *store.RoomStore
	notifications *store.NotificationStore
	optimistic    *store.OptimisticSet
	presence      *presence.Tracker
	typing        *typing.Tracker
	reconciler    *realtime.Reconciler
	sanitizer     *bluemonday.Policy

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	onEvent func(Event)
	subs    map[uint64]chan Event
	nextSub uint64
}

// NewEngine constructs an engine bound to one user.
func NewEngine(gw gateway.Gateway, userID string, opts Options, logger zerolog.Logger) *Engine {
	logger = logger.With().Str("component", "session_engine").Str("user_id", userID).Logger()

	e := &Engine{
		gw:        gw,
		opts:      opts,
		logger:    logger,
		userID:    userID,
		sanitizer: bluemonday.UGCPolicy(),
		subs:      make(map[uint64]chan Event),
	}

	e.rooms = store.NewRoomStore(userID, gw, logger)
	e.notifications = store.NewNotificationStore(userID, gw, opts.NotificationPageSize, logger)
	e.optimistic = store.NewOptimisticSet(opts.OptimisticCap)
	e.presence = presence.NewTracker(gw, userID, presence.Options{
		OfflineTimeout: opts.PresenceTimeout,
		ExcludeSelf:    opts.PresenceExcludeSelf,
		Username:       opts.Username,
	}, logger)
	e.typing = typing.NewTracker(gw, userID, typing.Options{
		Debounce: opts.TypingDebounce,
		TTL:      opts.TypingTTL,
		Username: opts.Username,
	}, logger)
	e.reconciler = realtime.NewReconciler(gw, gw, e.rooms, e.notifications, e.optimistic, logger)

	return e
}

// SetOnEvent registers the frontend push callback.
func (e *Engine) SetOnEvent(fn func(Event)) {
	e.mu.Lock()
	e.onEvent = fn
	e.mu.Unlock()
}

// Subscribe attaches an event stream for one frontend connection. The
// returned cancel func detaches it; events that arrive while the channel is
// full are dropped for that subscriber rather than blocking the engine.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	e.mu.Lock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) emit(event Event) {
	e.mu.Lock()
	fn := e.onEvent
	for _, ch := range e.subs {
		select {
		case ch <- event:
		default:
		}
	}
	e.mu.Unlock()

	if fn != nil {
		fn(event)
	}
}

// UserID returns the session user.
func (e *Engine) UserID() string {
	return e.userID
}

// Rooms exposes the room store.
func (e *Engine) Rooms() *store.RoomStore {
	return e.rooms
}

// Notifications exposes the notification store.
func (e *Engine) Notifications() *store.NotificationStore {
	return e.notifications
}

// Presence exposes the presence tracker.
func (e *Engine) Presence() *presence.Tracker {
	return e.presence
}

// Typing exposes the typing tracker.
func (e *Engine) Typing() *typing.Tracker {
	return e.typing
}

// Start performs the initial fetches, registers realtime subscriptions and
// begins following the joined room set with presence and typing channels.
// Idempotent: a second Start for the same session is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	e.rooms.SetOnChange(func() {
		e.followRooms(runCtx)
		e.emit(Event{Type: EventRooms, Payload: e.RoomList()})
	})
	e.notifications.SetOnChange(func() {
		e.emit(Event{Type: EventNotifications, Payload: dto.NewNotificationResponseSlice(e.notifications.Notifications())})
	})
	e.notifications.SetOnRoomsStale(func(ctx context.Context) {
		if err := e.rooms.FetchRooms(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("room refetch after join request resolution failed")
		}
	})
	e.presence.SetOnUpdate(func(roomID string, snap presence.Snapshot) {
		e.emit(Event{Type: EventPresence, Payload: dto.PresenceResponse{
			RoomID:        roomID,
			OnlineCount:   snap.OnlineCount,
			OnlineUserIDs: snap.OnlineUserIDs,
		}})
	})
	e.typing.SetOnUpdate(func(roomID string, userIDs []string) {
		e.emit(Event{Type: EventTyping, Payload: dto.TypingResponse{RoomID: roomID, UserIDs: userIDs}})
	})
	e.reconciler.SetOnToast(func(toast dto.Toast) {
		e.emit(Event{Type: EventToast, Payload: toast})
	})

	if err := e.rooms.FetchRooms(ctx); err != nil {
		return fmt.Errorf("initial room fetch failed: %w", err)
	}
	if err := e.notifications.FetchNotifications(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("initial notification fetch failed")
	}
	if err := e.reconciler.Start(runCtx, e.userID); err != nil {
		return err
	}

	e.followRooms(runCtx)
	e.logger.Info().Msg("session engine started")
	return nil
}

// followRooms keeps presence and typing subscriptions aligned with the
// rooms the user belongs to plus the selected one.
func (e *Engine) followRooms(ctx context.Context) {
	ids := e.rooms.JoinedRoomIDs()
	if selected := e.rooms.SelectedRoomID(); selected != "" {
		found := false
		for _, id := range ids {
			if id == selected {
				found = true
				break
			}
		}
		if !found {
			ids = append(ids, selected)
		}
	}

	e.presence.SetRooms(ctx, ids)
	e.typing.SetRooms(ctx, ids)
}

// RoomList merges room state with live presence counts for the frontends.
func (e *Engine) RoomList() []dto.RoomResponse {
	rooms := e.rooms.Rooms()
	out := make([]dto.RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, dto.NewRoomResponse(room, e.presence.OnlineCount(room.ID)))
	}
	return out
}

type sendMessageArgs struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
}

// SendMessage posts a message with an optimistic locally-generated id. The
// id is registered before the remote call so the realtime echo of our own
// write is recognized and not double-counted; on failure the pending id is
// withdrawn.
func (e *Engine) SendMessage(ctx context.Context, roomID, content string) (models.Message, error) {
	content = strings.TrimSpace(e.sanitizer.Sanitize(content))
	if content == "" {
		return models.Message{}, ErrMessageEmpty
	}

	message := models.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  e.userID,
		Content:   content,
		Status:    "sending",
		CreatedAt: time.Now().UTC(),
	}

	e.optimistic.Add(message.ID)
	e.typing.StopTyping(ctx, roomID)

	args := sendMessageArgs{MessageID: message.ID, RoomID: roomID, UserID: e.userID, Content: content}
	if err := e.gw.Invoke(ctx, gateway.ProcSendMessage, args, nil); err != nil {
		e.optimistic.Confirm(message.ID)
		return models.Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	message.Status = "sent"
	at := message.CreatedAt
	e.rooms.UpdateRoom(roomID, models.RoomPatch{
		LatestMessageText: &message.Content,
		LatestMessageAt:   &at,
	})

	return message, nil
}

// Close tears down subscriptions, trackers and channels. Safe to call more
// than once; a started engine cannot be restarted.
func (e *Engine) Close() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	e.reconciler.Stop()
	e.presence.Close()
	e.typing.Close()
	e.logger.Info().Msg("session engine closed")
}
