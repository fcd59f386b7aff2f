package realtime_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/dto"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/observability"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/realtime"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/store"
)

// fakeFeed captures subscriptions and lets tests push change events into
// their handlers.
type fakeFeed struct {
	mu        sync.Mutex
	handlers  map[string]func(gateway.ChangeEvent)
	cancelled []string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{handlers: make(map[string]func(gateway.ChangeEvent))}
}

func (f *fakeFeed) Subscribe(_ context.Context, sub gateway.ChangeSubscription, fn func(gateway.ChangeEvent)) (gateway.CancelFunc, error) {
	key := sub.Key()
	f.mu.Lock()
	f.handlers[key] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		f.cancelled = append(f.cancelled, key)
		delete(f.handlers, key)
		f.mu.Unlock()
	}, nil
}

func (f *fakeFeed) subscriptionKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.handlers))
	for key := range f.handlers {
		keys = append(keys, key)
	}
	return keys
}

func (f *fakeFeed) push(t *testing.T, key string, event gateway.ChangeEvent) {
	t.Helper()
	f.mu.Lock()
	fn := f.handlers[key]
	f.mu.Unlock()
	require.NotNil(t, fn, "no handler for subscription %s", key)
	fn(event)
}

// stubInvoker responds to rpc calls with canned JSON payloads.
type stubInvoker struct {
	mu      sync.Mutex
	calls   []string
	respond func(procedure string, out any) error
}

func (s *stubInvoker) Invoke(_ context.Context, procedure string, _ any, out any) error {
	s.mu.Lock()
	s.calls = append(s.calls, procedure)
	fn := s.respond
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(procedure, out)
}

func respondJSON(out any, payload any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func mustRaw(t *testing.T, payload any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

type fixture struct {
	feed          *fakeFeed
	invoker       *stubInvoker
	rooms         *store.RoomStore
	notifications *store.NotificationStore
	optimistic    *store.OptimisticSet
	reconciler    *realtime.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	feed := newFakeFeed()
	invoker := &stubInvoker{
		respond: func(procedure string, out any) error {
			if procedure == gateway.ProcGetUserRooms {
				return respondJSON(out, []models.Room{
					{ID: "room-1", Name: "General Chat", IsMember: true, ParticipationStatus: models.ParticipationAccepted, MemberCount: 2},
					{ID: "room-2", Name: "Announcements", MemberCount: 5},
				})
			}
			return nil
		},
	}

	rooms := store.NewRoomStore("user-1", invoker, zerolog.Nop())
	require.NoError(t, rooms.FetchRooms(context.Background()))

	notifications := store.NewNotificationStore("user-1", invoker, 10, zerolog.Nop())
	optimistic := store.NewOptimisticSet(10)

	reconciler := realtime.NewReconciler(feed, invoker, rooms, notifications, optimistic, zerolog.Nop())
	require.NoError(t, reconciler.Start(context.Background(), "user-1"))
	t.Cleanup(reconciler.Stop)

	return &fixture{
		feed:          feed,
		invoker:       invoker,
		rooms:         rooms,
		notifications: notifications,
		optimistic:    optimistic,
		reconciler:    reconciler,
	}
}

func TestStartRegistersExpectedSubscriptions(t *testing.T) {
	f := newFixture(t)

	require.ElementsMatch(t, []string{
		"room_participants:user_id=user-1",
		"room_members",
		"notifications:user_id=user-1",
		"messages",
	}, f.feed.subscriptionKeys())
}

func TestStartIsIdempotentPerUser(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.reconciler.Start(context.Background(), "user-1"))
	require.Len(t, f.feed.subscriptionKeys(), 4)

	require.Error(t, f.reconciler.Start(context.Background(), "user-2"))
}

func TestMemberEventsAdjustCount(t *testing.T) {
	f := newFixture(t)

	f.feed.push(t, "room_members", gateway.ChangeEvent{
		Table: realtime.TableMembers,
		Type:  gateway.ChangeInsert,
		New:   mustRaw(t, map[string]string{"room_id": "room-2", "user_id": "user-9"}),
	})
	room, _ := f.rooms.Room("room-2")
	require.Equal(t, 6, room.MemberCount)

	f.feed.push(t, "room_members", gateway.ChangeEvent{
		Table: realtime.TableMembers,
		Type:  gateway.ChangeDelete,
		Old:   mustRaw(t, map[string]string{"room_id": "room-2", "user_id": "user-9"}),
	})
	room, _ = f.rooms.Room("room-2")
	require.Equal(t, 5, room.MemberCount)
}

func TestParticipantDeleteClearsMembership(t *testing.T) {
	f := newFixture(t)

	f.feed.push(t, "room_participants:user_id=user-1", gateway.ChangeEvent{
		Table: realtime.TableParticipants,
		Type:  gateway.ChangeDelete,
		Old:   mustRaw(t, map[string]string{"room_id": "room-1", "user_id": "user-1", "status": "accepted"}),
	})

	room, _ := f.rooms.Room("room-1")
	require.False(t, room.IsMember)
	require.Equal(t, models.ParticipationNone, room.ParticipationStatus)
}

func TestParticipantAcceptanceToastsAndRefetches(t *testing.T) {
	f := newFixture(t)

	// The background refetch after acceptance must observe the new state,
	// otherwise it would race the local patch below.
	f.invoker.mu.Lock()
	f.invoker.respond = func(procedure string, out any) error {
		if procedure == gateway.ProcGetUserRooms {
			return respondJSON(out, []models.Room{
				{ID: "room-1", Name: "General Chat", IsMember: true, ParticipationStatus: models.ParticipationAccepted, MemberCount: 2},
				{ID: "room-2", Name: "Announcements", IsMember: true, ParticipationStatus: models.ParticipationAccepted, MemberCount: 6},
			})
		}
		return nil
	}
	f.invoker.mu.Unlock()

	var toasts []dto.Toast
	var toastMu sync.Mutex
	f.reconciler.SetOnToast(func(toast dto.Toast) {
		toastMu.Lock()
		toasts = append(toasts, toast)
		toastMu.Unlock()
	})

	f.feed.push(t, "room_participants:user_id=user-1", gateway.ChangeEvent{
		Table: realtime.TableParticipants,
		Type:  gateway.ChangeUpdate,
		Old:   mustRaw(t, map[string]string{"room_id": "room-2", "user_id": "user-1", "status": "pending"}),
		New:   mustRaw(t, map[string]string{"room_id": "room-2", "user_id": "user-1", "status": "accepted"}),
	})

	room, _ := f.rooms.Room("room-2")
	require.True(t, room.IsMember)
	require.Equal(t, models.ParticipationAccepted, room.ParticipationStatus)

	toastMu.Lock()
	require.Len(t, toasts, 1)
	require.Equal(t, string(models.NotificationJoinRequestAccepted), toasts[0].Kind)
	toastMu.Unlock()
}

func TestNotificationInsertBumpsUnreadAndToasts(t *testing.T) {
	f := newFixture(t)

	var toasts []dto.Toast
	var toastMu sync.Mutex
	f.reconciler.SetOnToast(func(toast dto.Toast) {
		toastMu.Lock()
		toasts = append(toasts, toast)
		toastMu.Unlock()
	})

	counter := observability.ToastsDispatched().WithLabelValues(string(models.NotificationMessage))
	dispatched := testutil.ToFloat64(counter)

	f.feed.push(t, "notifications:user_id=user-1", gateway.ChangeEvent{
		Table: realtime.TableNotifications,
		Type:  gateway.ChangeInsert,
		New: mustRaw(t, models.Notification{
			ID:      "n-1",
			Type:    models.NotificationMessage,
			RoomID:  "room-2",
			Message: "new message in Announcements",
		}),
	})

	_, ok := f.notifications.Notification("n-1")
	require.True(t, ok)

	// room-2 is not selected, so its unread count grows.
	room, _ := f.rooms.Room("room-2")
	require.Equal(t, 1, room.UnreadCount)

	toastMu.Lock()
	require.Len(t, toasts, 1)
	require.Equal(t, "New message", toasts[0].Title)
	toastMu.Unlock()

	require.Equal(t, dispatched+1, testutil.ToFloat64(counter))
}

func TestNotificationInsertForSelectedRoomSkipsUnread(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "room-1", f.rooms.SelectedRoomID())

	f.feed.push(t, "notifications:user_id=user-1", gateway.ChangeEvent{
		Table: realtime.TableNotifications,
		Type:  gateway.ChangeInsert,
		New: mustRaw(t, models.Notification{
			ID:      "n-1",
			Type:    models.NotificationMessage,
			RoomID:  "room-1",
			Message: "message in the room being viewed",
		}),
	})

	room, _ := f.rooms.Room("room-1")
	require.Equal(t, 0, room.UnreadCount)
}

func TestNotificationDeleteRemovesLocally(t *testing.T) {
	f := newFixture(t)

	f.notifications.AddNotification(models.Notification{ID: "n-1", Message: "hello"})

	f.feed.push(t, "notifications:user_id=user-1", gateway.ChangeEvent{
		Table: realtime.TableNotifications,
		Type:  gateway.ChangeDelete,
		Old:   mustRaw(t, models.Notification{ID: "n-1"}),
	})

	_, ok := f.notifications.Notification("n-1")
	require.False(t, ok)
}

func TestOwnMessageEchoIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	at := time.Now().UTC()

	f.optimistic.Add("msg-1")

	f.feed.push(t, "messages", gateway.ChangeEvent{
		Table: realtime.TableMessages,
		Type:  gateway.ChangeInsert,
		New: mustRaw(t, models.Message{
			ID:        "msg-1",
			RoomID:    "room-2",
			SenderID:  "user-1",
			Content:   "my own message",
			CreatedAt: at,
		}),
	})

	// Latest-message fields update, unread stays untouched.
	room, _ := f.rooms.Room("room-2")
	require.Equal(t, "my own message", room.LatestMessageText)
	require.Equal(t, 0, room.UnreadCount)
	require.False(t, f.optimistic.Contains("msg-1"))
}

func TestPeerMessageRecordsUnread(t *testing.T) {
	f := newFixture(t)
	at := time.Now().UTC()

	f.feed.push(t, "messages", gateway.ChangeEvent{
		Table: realtime.TableMessages,
		Type:  gateway.ChangeInsert,
		New: mustRaw(t, models.Message{
			ID:        "msg-2",
			RoomID:    "room-2",
			SenderID:  "user-7",
			Content:   "hello there",
			CreatedAt: at,
		}),
	})

	room, _ := f.rooms.Room("room-2")
	require.Equal(t, "hello there", room.LatestMessageText)
	require.Equal(t, 1, room.UnreadCount)
}

func TestStopMakesInFlightEventsNoOps(t *testing.T) {
	f := newFixture(t)

	f.mustKeepHandler(t, "messages")
	f.reconciler.Stop()

	require.Empty(t, f.feed.subscriptionKeys())
}

// mustKeepHandler asserts the handler is registered before Stop removes it.
func (f *fixture) mustKeepHandler(t *testing.T, key string) {
	t.Helper()
	f.feed.mu.Lock()
	defer f.feed.mu.Unlock()
	require.Contains(t, f.feed.handlers, key)
}
