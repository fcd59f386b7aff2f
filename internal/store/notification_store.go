package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/dto"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
)

const defaultNotificationPageSize = 50

// ErrNotificationNotFound reports a local lookup miss.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationStore caches the session user's notifications newest-first.
// Status only ever moves unread to read. Accept/reject of join requests are
// remote operations that resynchronize on failure, because the server may
// have already mutated membership state.
type NotificationStore struct {
	userID    string
	invoker   gateway.Invoker
	pageSize  int
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu            sync.RWMutex
	notifications []models.Notification
	index         map[string]int

	onChange func()
	// onRoomsStale asks the owning session to refetch the room list after a
	// join request was accepted or rejected, since counts shifted remotely.
	onRoomsStale func(ctx context.Context)
}

// NewNotificationStore constructs the notification store for one session user.
func NewNotificationStore(userID string, invoker gateway.Invoker, pageSize int, logger zerolog.Logger) *NotificationStore {
	if pageSize <= 0 {
		pageSize = defaultNotificationPageSize
	}

	return &NotificationStore{
		userID:    userID,
		invoker:   invoker,
		pageSize:  pageSize,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "notification_store").Logger(),
		tracer:    otel.Tracer("github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/store/notifications"),
		index:     make(map[string]int),
	}
}

// SetOnChange registers a callback invoked after every state mutation.
func (s *NotificationStore) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// SetOnRoomsStale registers the room refetch trigger.
func (s *NotificationStore) SetOnRoomsStale(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.onRoomsStale = fn
	s.mu.Unlock()
}

func (s *NotificationStore) notifyChange() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (s *NotificationStore) roomsStale(ctx context.Context) {
	s.mu.RLock()
	fn := s.onRoomsStale
	s.mu.RUnlock()
	if fn != nil {
		fn(ctx)
	}
}

type fetchNotificationsArgs struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

// FetchNotifications replaces the cached page with the backend's newest
// notifications. On failure the previous state is left untouched.
func (s *NotificationStore) FetchNotifications(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "notifications.fetch", trace.WithAttributes(
		attribute.String("user_id", s.userID),
	))
	defer span.End()

	var fetched []models.Notification
	args := fetchNotificationsArgs{UserID: s.userID, Limit: s.pageSize}
	if err := s.invoker.Invoke(ctx, gateway.ProcGetNotifications, args, &fetched); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to fetch notifications: %w", err)
	}

	sort.SliceStable(fetched, func(i, j int) bool {
		return fetched[i].CreatedAt.After(fetched[j].CreatedAt)
	})

	s.mu.Lock()
	s.notifications = fetched
	s.rebuildIndexLocked()
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

// AddNotification prepends a notification locally. The display text is
// sanitized; an empty result after sanitization is dropped since message is
// required display text.
func (s *NotificationStore) AddNotification(notification models.Notification) {
	notification.Message = strings.TrimSpace(s.sanitizer.Sanitize(notification.Message))
	if notification.Message == "" {
		s.logger.Warn().Str("id", notification.ID).Msg("dropping notification with empty display text")
		return
	}
	if notification.Status == "" {
		notification.Status = models.NotificationUnread
	}

	s.mu.Lock()
	if _, exists := s.index[notification.ID]; exists {
		s.mu.Unlock()
		return
	}
	s.notifications = append([]models.Notification{notification}, s.notifications...)
	if len(s.notifications) > s.pageSize {
		s.notifications = s.notifications[:s.pageSize]
	}
	s.rebuildIndexLocked()
	s.mu.Unlock()

	s.notifyChange()
}

// UpdateNotification patches a cached notification in place. The read status
// is monotonic: an update can never move a read notification back to unread.
func (s *NotificationStore) UpdateNotification(updated models.Notification) {
	s.mu.Lock()
	pos, ok := s.index[updated.ID]
	if ok {
		current := s.notifications[pos]
		if current.Status == models.NotificationRead {
			updated.Status = models.NotificationRead
		}
		if updated.Message == "" {
			updated.Message = current.Message
		}
		s.notifications[pos] = updated
	}
	s.mu.Unlock()

	if ok {
		s.notifyChange()
	}
}

// RemoveNotification drops a notification locally. Never calls the network.
func (s *NotificationStore) RemoveNotification(id string) {
	s.mu.Lock()
	if pos, ok := s.index[id]; ok {
		s.notifications = append(s.notifications[:pos], s.notifications[pos+1:]...)
		s.rebuildIndexLocked()
	}
	s.mu.Unlock()
	s.notifyChange()
}

type notificationArgs struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
}

// MarkAsRead flips the notification read locally, then confirms remotely in
// the background. A remote failure is logged, not surfaced: the change feed
// will repair any divergence.
func (s *NotificationStore) MarkAsRead(ctx context.Context, id string) error {
	s.mu.Lock()
	pos, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotificationNotFound
	}
	s.notifications[pos].Status = models.NotificationRead
	s.mu.Unlock()
	s.notifyChange()

	go func() {
		args := notificationArgs{NotificationID: id, UserID: s.userID}
		if err := s.invoker.Invoke(context.WithoutCancel(ctx), gateway.ProcMarkNotificationRead, args, nil); err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("failed to persist notification read state")
		}
	}()

	return nil
}

type joinRequestArgs struct {
	NotificationID string `json:"notification_id"`
	RoomID         string `json:"room_id"`
	UserID         string `json:"user_id"`
}

// AcceptJoinRequest approves a pending join request. Success removes the
// notification and triggers a room list refresh; failure resynchronizes the
// notification page from the server.
func (s *NotificationStore) AcceptJoinRequest(ctx context.Context, notificationID, roomID string) (dto.AcceptJoinRequestResponse, error) {
	return s.resolveJoinRequest(ctx, gateway.ProcAcceptJoinRequest, notificationID, roomID)
}

// RejectJoinRequest declines a pending join request with the same
// success/failure semantics as AcceptJoinRequest.
func (s *NotificationStore) RejectJoinRequest(ctx context.Context, notificationID, roomID string) (dto.AcceptJoinRequestResponse, error) {
	return s.resolveJoinRequest(ctx, gateway.ProcRejectJoinRequest, notificationID, roomID)
}

func (s *NotificationStore) resolveJoinRequest(ctx context.Context, procedure, notificationID, roomID string) (dto.AcceptJoinRequestResponse, error) {
	ctx, span := s.tracer.Start(ctx, "notifications."+procedure, trace.WithAttributes(
		attribute.String("notification_id", notificationID),
		attribute.String("room_id", roomID),
	))
	defer span.End()

	var resp dto.AcceptJoinRequestResponse
	args := joinRequestArgs{NotificationID: notificationID, RoomID: roomID, UserID: s.userID}
	if err := s.invoker.Invoke(ctx, procedure, args, &resp); err != nil {
		span.RecordError(err)
		if fetchErr := s.FetchNotifications(ctx); fetchErr != nil {
			s.logger.Warn().Err(fetchErr).Msg("resync after failed join request resolution also failed")
		}
		return dto.AcceptJoinRequestResponse{}, fmt.Errorf("failed to resolve join request: %w", err)
	}

	s.RemoveNotification(notificationID)
	s.roomsStale(ctx)

	return resp, nil
}

// DeleteNotification removes a notification remotely, then locally.
func (s *NotificationStore) DeleteNotification(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "notifications.delete", trace.WithAttributes(
		attribute.String("notification_id", id),
	))
	defer span.End()

	args := notificationArgs{NotificationID: id, UserID: s.userID}
	if err := s.invoker.Invoke(ctx, gateway.ProcDeleteNotification, args, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete notification: %w", err)
	}

	s.RemoveNotification(id)
	return nil
}

// Notifications returns a copy of the cached page, newest first.
func (s *NotificationStore) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// Notification returns one cached notification by id.
func (s *NotificationStore) Notification(id string) (models.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return models.Notification{}, false
	}
	return s.notifications[pos], true
}

// UnreadCount returns how many cached notifications are unread.
func (s *NotificationStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, notification := range s.notifications {
		if notification.Status == models.NotificationUnread {
			count++
		}
	}
	return count
}

func (s *NotificationStore) rebuildIndexLocked() {
	s.index = make(map[string]int, len(s.notifications))
	for i, notification := range s.notifications {
		s.index[notification.ID] = i
	}
}
