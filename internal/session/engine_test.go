package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/session"
)

// fakeGateway implements the full backend surface in memory: a scriptable
// invoker plus inert change feed, presence and broadcast channels.
type fakeGateway struct {
	mu        sync.Mutex
	calls     []string
	respond   func(procedure string, args any, out any) error
	handlers  map[string]func(gateway.ChangeEvent)
	cancelled []string
	presences map[string]*fakePresenceChannel
	casts     map[string]*fakeBroadcastChannel
}

func newFakeGateway(respond func(procedure string, args any, out any) error) *fakeGateway {
	return &fakeGateway{
		respond:   respond,
		handlers:  make(map[string]func(gateway.ChangeEvent)),
		presences: make(map[string]*fakePresenceChannel),
		casts:     make(map[string]*fakeBroadcastChannel),
	}
}

func (g *fakeGateway) Invoke(_ context.Context, procedure string, args any, out any) error {
	g.mu.Lock()
	g.calls = append(g.calls, procedure)
	fn := g.respond
	g.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(procedure, args, out)
}

func (g *fakeGateway) invoked(procedure string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, call := range g.calls {
		if call == procedure {
			n++
		}
	}
	return n
}

func (g *fakeGateway) Subscribe(_ context.Context, sub gateway.ChangeSubscription, fn func(gateway.ChangeEvent)) (gateway.CancelFunc, error) {
	key := sub.Key()
	g.mu.Lock()
	g.handlers[key] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.handlers, key)
		g.cancelled = append(g.cancelled, key)
		g.mu.Unlock()
	}, nil
}

func (g *fakeGateway) subscriptionKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.handlers))
	for key := range g.handlers {
		keys = append(keys, key)
	}
	return keys
}

func (g *fakeGateway) Presence(roomID, _ string) (gateway.PresenceChannel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.presences[roomID]; ok && !ch.isClosed() {
		return ch, nil
	}
	ch := newFakePresenceChannel()
	g.presences[roomID] = ch
	return ch, nil
}

func (g *fakeGateway) presenceChannel(roomID string) *fakePresenceChannel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.presences[roomID]
}

func (g *fakeGateway) Broadcast(roomID string) (gateway.BroadcastChannel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.casts[roomID]; ok && !ch.isClosed() {
		return ch, nil
	}
	ch := newFakeBroadcastChannel()
	g.casts[roomID] = ch
	return ch, nil
}

func (g *fakeGateway) broadcastChannel(roomID string) *fakeBroadcastChannel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.casts[roomID]
}

type fakePresenceChannel struct {
	mu     sync.Mutex
	state  map[string]models.PresenceBeacon
	events chan gateway.PresenceEvent
	errs   chan error
	closed bool
}

func newFakePresenceChannel() *fakePresenceChannel {
	return &fakePresenceChannel{
		state:  make(map[string]models.PresenceBeacon),
		events: make(chan gateway.PresenceEvent, 8),
		errs:   make(chan error, 8),
	}
}

func (c *fakePresenceChannel) Track(_ context.Context, beacon models.PresenceBeacon) error {
	c.mu.Lock()
	c.state[beacon.UserID] = beacon
	c.mu.Unlock()
	return nil
}

func (c *fakePresenceChannel) Untrack(_ context.Context) error { return nil }

func (c *fakePresenceChannel) State(_ context.Context) (map[string]models.PresenceBeacon, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.PresenceBeacon, len(c.state))
	for id, beacon := range c.state {
		out[id] = beacon
	}
	return out, nil
}

func (c *fakePresenceChannel) setPeer(beacon models.PresenceBeacon) {
	c.mu.Lock()
	c.state[beacon.UserID] = beacon
	c.mu.Unlock()
	c.events <- gateway.PresenceEvent{Type: gateway.PresenceJoin, UserID: beacon.UserID}
}

func (c *fakePresenceChannel) Events() <-chan gateway.PresenceEvent { return c.events }

func (c *fakePresenceChannel) Errors() <-chan error { return c.errs }

func (c *fakePresenceChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
		close(c.errs)
	}
	return nil
}

func (c *fakePresenceChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeBroadcastChannel struct {
	mu     sync.Mutex
	sent   []models.TypingSignal
	closed bool
}

func newFakeBroadcastChannel() *fakeBroadcastChannel { return &fakeBroadcastChannel{} }

func (c *fakeBroadcastChannel) Send(_ context.Context, _ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var signal models.TypingSignal
	if err := json.Unmarshal(data, &signal); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, signal)
	c.mu.Unlock()
	return nil
}

func (c *fakeBroadcastChannel) Receive(string, func(json.RawMessage)) {}

func (c *fakeBroadcastChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeBroadcastChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func sessionFixtures(procedure string, out any) error {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	switch procedure {
	case gateway.ProcGetUserRooms:
		return respondJSON(out, []models.Room{
			{ID: "room-general", Name: "General Chat", CreatedAt: now, IsMember: true, ParticipationStatus: models.ParticipationAccepted, MemberCount: 3},
			{ID: "room-side", Name: "Side Project", CreatedAt: now, IsMember: true, ParticipationStatus: models.ParticipationAccepted, MemberCount: 2},
		})
	case gateway.ProcGetNotifications:
		return respondJSON(out, []models.Notification{
			{ID: "notif-1", UserID: "user-1", Type: models.NotificationMessage, RoomID: "room-side", Message: "new message", Status: models.NotificationUnread, CreatedAt: now},
		})
	default:
		return nil
	}
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

func testOptions() session.Options {
	return session.Options{
		PresenceTimeout:      10 * time.Second,
		TypingDebounce:       2 * time.Second,
		TypingTTL:            3 * time.Second,
		NotificationPageSize: 20,
	}
}

func startEngine(t *testing.T, gw *fakeGateway) *session.Engine {
	t.Helper()
	engine := session.NewEngine(gw, "user-1", testOptions(), zerolog.Nop())
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Close)
	return engine
}

func TestStartLoadsStateAndFollowsRooms(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	engine := startEngine(t, gw)

	require.Equal(t, "room-general", engine.Rooms().SelectedRoomID())
	require.Len(t, engine.Notifications().Notifications(), 1)
	require.Equal(t, []string{"room-general", "room-side"}, engine.Presence().SubscribedRooms())
	require.Len(t, gw.subscriptionKeys(), 4)
}

func TestStartIsIdempotent(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	engine := startEngine(t, gw)

	require.NoError(t, engine.Start(context.Background()))
	require.Equal(t, 1, gw.invoked(gateway.ProcGetUserRooms))
}

func TestStartFailsWhenInitialRoomFetchFails(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		if procedure == gateway.ProcGetUserRooms {
			return errors.New("backend unavailable")
		}
		return sessionFixtures(procedure, out)
	})

	engine := session.NewEngine(gw, "user-1", testOptions(), zerolog.Nop())
	err := engine.Start(context.Background())
	require.ErrorContains(t, err, "initial room fetch failed")
	engine.Close()
}

func TestSubscribeDeliversRoomEvents(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	engine := startEngine(t, gw)

	events, cancel := engine.Subscribe(8)
	engine.Rooms().SelectRoom("room-side")

	select {
	case event := <-events:
		require.Equal(t, session.EventRooms, event.Type)
	case <-time.After(time.Second):
		t.Fatal("no room event delivered")
	}

	cancel()
	_, open := <-events
	require.False(t, open)
}

func TestSubscribeFanOutReachesEverySubscriber(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	engine := startEngine(t, gw)

	first, cancelFirst := engine.Subscribe(8)
	second, cancelSecond := engine.Subscribe(8)
	defer cancelFirst()
	defer cancelSecond()

	engine.Rooms().SelectRoom("room-side")

	for _, events := range []<-chan session.Event{first, second} {
		select {
		case event := <-events:
			require.Equal(t, session.EventRooms, event.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}

func TestRoomListMergesPresenceCounts(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	engine := startEngine(t, gw)

	channel := gw.presenceChannel("room-general")
	require.NotNil(t, channel)
	channel.setPeer(models.PresenceBeacon{UserID: "user-2", RoomID: "room-general", OnlineAt: time.Now()})

	require.Eventually(t, func() bool {
		for _, room := range engine.RoomList() {
			if room.ID == "room-general" && room.OnlineUsers == 2 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendMessageUpdatesRoomPreview(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	engine := startEngine(t, gw)

	message, err := engine.SendMessage(context.Background(), "room-general", "  hello <b>world</b>  ")
	require.NoError(t, err)
	require.Equal(t, "hello <b>world</b>", message.Content)
	require.Equal(t, "sent", message.Status)
	require.NotEmpty(t, message.ID)

	room, ok := engine.Rooms().Room("room-general")
	require.True(t, ok)
	require.Equal(t, "hello <b>world</b>", room.LatestMessageText)
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	engine := startEngine(t, gw)

	_, err := engine.SendMessage(context.Background(), "room-general", "<script>alert(1)</script>")
	require.ErrorIs(t, err, session.ErrMessageEmpty)
	require.Zero(t, gw.invoked(gateway.ProcSendMessage))
}

func TestSendMessageFailureLeavesRoomUntouched(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		if procedure == gateway.ProcSendMessage {
			return errors.New("backend unavailable")
		}
		return sessionFixtures(procedure, out)
	})
	engine := startEngine(t, gw)

	_, err := engine.SendMessage(context.Background(), "room-general", "hello")
	require.ErrorContains(t, err, "failed to send message")

	room, ok := engine.Rooms().Room("room-general")
	require.True(t, ok)
	require.Empty(t, room.LatestMessageText)
}

func TestCloseTearsDownChannelsAndSubscribers(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	engine := session.NewEngine(gw, "user-1", testOptions(), zerolog.Nop())
	require.NoError(t, engine.Start(context.Background()))

	events, _ := engine.Subscribe(8)
	engine.Close()

	_, open := <-events
	require.False(t, open)
	require.Empty(t, gw.subscriptionKeys())
	require.True(t, gw.presenceChannel("room-general").isClosed())
	require.True(t, gw.presenceChannel("room-side").isClosed())

	engine.Close()
}
