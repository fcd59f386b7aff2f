// Package realtime routes backend change feed events into the session's
// in-memory stores, deduplicating against in-flight optimistic writes.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/dto"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/observability"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/store"
)

// Change feed tables consumed by the reconciler.
const (
	TableParticipants  = "room_participants"
	TableMembers       = "room_members"
	TableNotifications = "notifications"
	TableMessages      = "messages"
)

type participantRow struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type memberRow struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// Reconciler owns the session's single change feed subscription set. Start
// is idempotent per user: an internal registry of active subscription keys
// guards against duplicate channels. Events are applied in per-feed arrival
// order; no causal reordering is attempted across feeds.
type Reconciler struct {
	feed          gateway.ChangeFeed
	invoker       gateway.Invoker
	rooms         *store.RoomStore
	notifications *store.NotificationStore
	optimistic    *store.OptimisticSet
	logger        zerolog.Logger

	mu      sync.Mutex
	userID  string
	active  map[string]gateway.CancelFunc
	stopped bool

	onToast func(dto.Toast)
}

// NewReconciler wires the reconciliation layer over the session's stores.
func NewReconciler(feed gateway.ChangeFeed, invoker gateway.Invoker, rooms *store.RoomStore, notifications *store.NotificationStore, optimistic *store.OptimisticSet, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		feed:          feed,
		invoker:       invoker,
		rooms:         rooms,
		notifications: notifications,
		optimistic:    optimistic,
		logger:        logger.With().Str("component", "reconciler").Logger(),
		active:        make(map[string]gateway.CancelFunc),
	}
}

// SetOnToast registers the user-visible notice dispatcher.
func (r *Reconciler) SetOnToast(fn func(dto.Toast)) {
	r.mu.Lock()
	r.onToast = fn
	r.mu.Unlock()
}

// Start registers the session's subscriptions. Calling it again for the same
// user is a no-op; a different user requires Stop first.
func (r *Reconciler) Start(ctx context.Context, userID string) error {
	r.mu.Lock()
	if r.userID == userID && len(r.active) > 0 {
		r.mu.Unlock()
		return nil
	}
	if len(r.active) > 0 {
		r.mu.Unlock()
		return fmt.Errorf("reconciler already started for user %s", r.userID)
	}
	r.userID = userID
	r.stopped = false
	r.mu.Unlock()

	subs := []struct {
		sub gateway.ChangeSubscription
		fn  func(gateway.ChangeEvent)
	}{
		{
			sub: gateway.ChangeSubscription{
				Table:  TableParticipants,
				Types:  []gateway.ChangeType{gateway.ChangeInsert, gateway.ChangeUpdate, gateway.ChangeDelete},
				Filter: &gateway.ColumnFilter{Column: "user_id", Value: userID},
			},
			fn: r.handleParticipant,
		},
		{
			sub: gateway.ChangeSubscription{
				Table: TableMembers,
				Types: []gateway.ChangeType{gateway.ChangeInsert, gateway.ChangeDelete},
			},
			fn: r.handleMember,
		},
		{
			sub: gateway.ChangeSubscription{
				Table:  TableNotifications,
				Types:  []gateway.ChangeType{gateway.ChangeInsert, gateway.ChangeUpdate, gateway.ChangeDelete},
				Filter: &gateway.ColumnFilter{Column: "user_id", Value: userID},
			},
			fn: r.handleNotification,
		},
		{
			sub: gateway.ChangeSubscription{
				Table: TableMessages,
				Types: []gateway.ChangeType{gateway.ChangeInsert},
			},
			fn: r.handleMessage,
		},
	}

	for _, entry := range subs {
		key := entry.sub.Key()

		r.mu.Lock()
		if _, exists := r.active[key]; exists {
			r.mu.Unlock()
			continue
		}
		r.mu.Unlock()

		fn := entry.fn
		cancel, err := r.feed.Subscribe(ctx, entry.sub, func(event gateway.ChangeEvent) {
			if r.isStopped() {
				return
			}
			observability.RealtimeEvents().WithLabelValues(event.Table, string(event.Type)).Inc()
			fn(event)
		})
		if err != nil {
			r.Stop()
			return fmt.Errorf("failed to subscribe %s: %w", key, err)
		}

		r.mu.Lock()
		r.active[key] = cancel
		r.mu.Unlock()
	}

	r.logger.Info().Str("user_id", userID).Int("subscriptions", len(subs)).Msg("reconciler started")
	return nil
}

// Stop cancels every active subscription. Events already in flight become
// no-ops.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancels := make([]gateway.CancelFunc, 0, len(r.active))
	for _, cancel := range r.active {
		cancels = append(cancels, cancel)
	}
	r.active = make(map[string]gateway.CancelFunc)
	r.stopped = true
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (r *Reconciler) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Reconciler) toast(t dto.Toast) {
	r.mu.Lock()
	fn := r.onToast
	r.mu.Unlock()

	observability.ToastsDispatched().WithLabelValues(t.Kind).Inc()
	if fn != nil {
		fn(t)
	}
}

// handleParticipant maintains the viewer's membership fields. A status
// transition observed on UPDATE triggers a full room refetch because counts
// may have shifted server-side during the same transaction.
func (r *Reconciler) handleParticipant(event gateway.ChangeEvent) {
	if event.Type == gateway.ChangeDelete {
		var row participantRow
		if err := event.DecodeOld(&row); err != nil {
			r.logger.Warn().Err(err).Msg("undecodable participant delete")
			return
		}
		member := false
		status := models.ParticipationNone
		r.rooms.UpdateRoom(row.RoomID, models.RoomPatch{
			IsMember:            &member,
			ParticipationStatus: &status,
		})
		return
	}

	var row participantRow
	if err := event.DecodeNew(&row); err != nil {
		r.logger.Warn().Err(err).Msg("undecodable participant event")
		return
	}

	status := models.ParticipationStatus(row.Status)
	member := status == models.ParticipationAccepted
	r.rooms.UpdateRoom(row.RoomID, models.RoomPatch{
		IsMember:            &member,
		ParticipationStatus: &status,
	})

	if event.Type != gateway.ChangeUpdate {
		return
	}

	var old participantRow
	if err := event.DecodeOld(&old); err == nil && old.Status != row.Status {
		if status == models.ParticipationAccepted {
			r.toast(dto.Toast{
				Kind:    string(models.NotificationJoinRequestAccepted),
				Title:   "Join request accepted",
				Message: "Your request to join the room was accepted",
				RoomID:  row.RoomID,
			})
		}
		go func() {
			if err := r.rooms.FetchRooms(context.Background()); err != nil {
				r.logger.Warn().Err(err).Msg("room refetch after participation change failed")
			}
		}()
	}
}

func (r *Reconciler) handleMember(event gateway.ChangeEvent) {
	switch event.Type {
	case gateway.ChangeInsert:
		var row memberRow
		if err := event.DecodeNew(&row); err != nil {
			r.logger.Warn().Err(err).Msg("undecodable member insert")
			return
		}
		r.rooms.AdjustMemberCount(row.RoomID, 1)
	case gateway.ChangeDelete:
		var row memberRow
		if err := event.DecodeOld(&row); err != nil {
			r.logger.Warn().Err(err).Msg("undecodable member delete")
			return
		}
		r.rooms.AdjustMemberCount(row.RoomID, -1)
	}
}

func (r *Reconciler) handleNotification(event gateway.ChangeEvent) {
	switch event.Type {
	case gateway.ChangeInsert:
		var notification models.Notification
		if err := event.DecodeNew(&notification); err != nil {
			r.logger.Warn().Err(err).Msg("undecodable notification insert")
			return
		}

		r.notifications.AddNotification(notification)
		if notification.RoomID != "" {
			r.rooms.BumpUnread(notification.RoomID)
		}
		r.toast(toastFor(notification))
		go r.patchDenormalized(notification.ID)

	case gateway.ChangeUpdate:
		var notification models.Notification
		if err := event.DecodeNew(&notification); err != nil {
			r.logger.Warn().Err(err).Msg("undecodable notification update")
			return
		}
		r.notifications.UpdateNotification(notification)

	case gateway.ChangeDelete:
		var notification models.Notification
		if err := event.DecodeOld(&notification); err != nil {
			r.logger.Warn().Err(err).Msg("undecodable notification delete")
			return
		}
		r.notifications.RemoveNotification(notification.ID)
	}
}

// patchDenormalized fetches the full record with its sender/room joins and
// patches it into the store. The initial insert arrives without them.
func (r *Reconciler) patchDenormalized(id string) {
	args := struct {
		NotificationID string `json:"notification_id"`
		UserID         string `json:"user_id"`
	}{NotificationID: id, UserID: r.userID}

	var full models.Notification
	if err := r.invoker.Invoke(context.Background(), gateway.ProcGetNotification, args, &full); err != nil {
		r.logger.Warn().Err(err).Str("id", id).Msg("failed to fetch denormalized notification")
		return
	}
	if r.isStopped() {
		return
	}
	r.notifications.UpdateNotification(full)
}

// handleMessage updates the room's latest-message fields and unread count.
// An id found in the optimistic set is the server echo of our own write:
// the pending id is confirmed and the unread accounting skipped.
func (r *Reconciler) handleMessage(event gateway.ChangeEvent) {
	var message models.Message
	if err := event.DecodeNew(&message); err != nil {
		r.logger.Warn().Err(err).Msg("undecodable message insert")
		return
	}

	if r.optimistic.Confirm(message.ID) {
		observability.OptimisticConfirms().Inc()
		at := message.CreatedAt
		r.rooms.UpdateRoom(message.RoomID, models.RoomPatch{
			LatestMessageText: &message.Content,
			LatestMessageAt:   &at,
		})
		return
	}

	r.rooms.RecordMessage(message.RoomID, message.Content, message.CreatedAt)
}

func toastFor(notification models.Notification) dto.Toast {
	toast := dto.Toast{
		Kind:    string(notification.Type),
		Message: notification.Message,
		RoomID:  notification.RoomID,
	}

	switch notification.Type {
	case models.NotificationRoomInvite:
		toast.Title = "Room invitation"
	case models.NotificationJoinRequest:
		toast.Title = "Join request"
	case models.NotificationUserJoined:
		toast.Title = "User joined"
	case models.NotificationJoinRequestAccepted:
		toast.Title = "Join request accepted"
	case models.NotificationJoinRequestRejected:
		toast.Title = "Join request rejected"
	case models.NotificationRoomLeft:
		toast.Title = "Room left"
	case models.NotificationMessage:
		toast.Title = "New message"
	default:
		toast.Title = "Notification"
	}

	return toast
}
