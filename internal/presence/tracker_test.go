package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/presence"
)

// fakeChannel is an in-memory presence channel whose state the test mutates
// directly.
type fakeChannel struct {
	mu      sync.Mutex
	state   map[string]models.PresenceBeacon
	tracks  int
	closed  bool
	events  chan gateway.PresenceEvent
	errs    chan error
	trackFn func() error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		state:  make(map[string]models.PresenceBeacon),
		events: make(chan gateway.PresenceEvent, 8),
		errs:   make(chan error, 8),
	}
}

func (c *fakeChannel) Track(_ context.Context, beacon models.PresenceBeacon) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trackFn != nil {
		if err := c.trackFn(); err != nil {
			return err
		}
	}
	c.tracks++
	c.state[beacon.UserID] = beacon
	return nil
}

func (c *fakeChannel) Untrack(context.Context) error {
	return nil
}

func (c *fakeChannel) State(context.Context) (map[string]models.PresenceBeacon, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.PresenceBeacon, len(c.state))
	for id, beacon := range c.state {
		out[id] = beacon
	}
	return out, nil
}

func (c *fakeChannel) Events() <-chan gateway.PresenceEvent { return c.events }
func (c *fakeChannel) Errors() <-chan error                 { return c.errs }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
		close(c.errs)
	}
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) setPeer(userID string, at time.Time) {
	c.mu.Lock()
	c.state[userID] = models.PresenceBeacon{UserID: userID, OnlineAt: at}
	c.mu.Unlock()
}

func (c *fakeChannel) trackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks
}

// fakeProvider hands out one fake channel per room and records releases.
type fakeProvider struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	opened   int
	released []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{channels: make(map[string]*fakeChannel)}
}

func (p *fakeProvider) Presence(roomID, _ string) (gateway.PresenceChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened++
	channel := newFakeChannel()
	p.channels[roomID] = channel
	return channel, nil
}

func (p *fakeProvider) ReleasePresence(roomID, _ string) {
	p.mu.Lock()
	p.released = append(p.released, roomID)
	p.mu.Unlock()
}

func (p *fakeProvider) channel(roomID string) *fakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[roomID]
}

func (p *fakeProvider) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTracker(t *testing.T, provider presence.ChannelProvider, clock *virtualClock) *presence.Tracker {
	t.Helper()
	tracker := presence.NewTracker(provider, "user-1", presence.Options{
		OfflineTimeout: 15 * time.Second,
		Now:            clock.Now,
	}, zerolog.Nop())
	t.Cleanup(tracker.Close)
	return tracker
}

func TestSubscribeTracksOwnBeacon(t *testing.T) {
	clock := &virtualClock{now: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
	provider := newFakeProvider()
	tracker := newTracker(t, provider, clock)

	require.NoError(t, tracker.Subscribe(context.Background(), "room-1"))

	snap := tracker.Snapshot("room-1")
	require.Equal(t, 1, snap.OnlineCount)
	require.Equal(t, []string{"user-1"}, snap.OnlineUserIDs)
	require.Equal(t, 1, provider.channel("room-1").trackCount())
}

func TestSubscribeIsIdempotent(t *testing.T) {
	clock := &virtualClock{now: time.Now()}
	provider := newFakeProvider()
	tracker := newTracker(t, provider, clock)

	require.NoError(t, tracker.Subscribe(context.Background(), "room-1"))
	require.NoError(t, tracker.Subscribe(context.Background(), "room-1"))

	require.Equal(t, 1, provider.openCount())
	require.Equal(t, []string{"room-1"}, tracker.SubscribedRooms())
}

func TestConcurrentSubscribeKeepsSharedChannelOpen(t *testing.T) {
	clock := &virtualClock{now: time.Now()}
	channel := newFakeChannel()
	provider := &sharedChannelProvider{channel: channel, gate: make(chan struct{})}

	tracker := presence.NewTracker(provider, "user-1", presence.Options{
		OfflineTimeout: 15 * time.Second,
		Now:            clock.Now,
	}, zerolog.Nop())
	defer tracker.Close()

	// Park the first subscriber inside the provider so a second one can win
	// the registration race with the same channel.
	done := make(chan error, 1)
	go func() {
		done <- tracker.Subscribe(context.Background(), "room-1")
	}()
	require.Eventually(t, func() bool {
		return provider.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tracker.Subscribe(context.Background(), "room-1"))

	close(provider.gate)
	require.NoError(t, <-done)

	// The loser must not close the channel both subscribers share.
	require.False(t, channel.isClosed())
	require.Equal(t, []string{"room-1"}, tracker.SubscribedRooms())
	require.Equal(t, 1, tracker.OnlineCount("room-1"))
}

func TestStaleBeaconsDecayAfterTimeout(t *testing.T) {
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	clock := &virtualClock{now: start}
	provider := newFakeProvider()
	tracker := newTracker(t, provider, clock)

	require.NoError(t, tracker.Subscribe(context.Background(), "room-1"))
	provider.channel("room-1").setPeer("user-2", start)

	// Force a refresh so the peer lands in the tracker's entry map.
	provider.channel("room-1").events <- gateway.PresenceEvent{Type: gateway.PresenceJoin, UserID: "user-2"}
	require.Eventually(t, func() bool {
		return tracker.OnlineCount("room-1") == 2
	}, 2*time.Second, 10*time.Millisecond)

	clock.Advance(16 * time.Second)

	snap := tracker.Snapshot("room-1")
	require.Equal(t, 0, snap.OnlineCount)
	require.Empty(t, snap.OnlineUserIDs)
}

func TestExcludeSelfOmitsOwnBeacon(t *testing.T) {
	clock := &virtualClock{now: time.Now()}
	provider := newFakeProvider()
	tracker := presence.NewTracker(provider, "user-1", presence.Options{
		OfflineTimeout: 15 * time.Second,
		ExcludeSelf:    true,
		Now:            clock.Now,
	}, zerolog.Nop())
	defer tracker.Close()

	require.NoError(t, tracker.Subscribe(context.Background(), "room-1"))
	provider.channel("room-1").setPeer("user-2", clock.Now())

	provider.channel("room-1").events <- gateway.PresenceEvent{Type: gateway.PresenceJoin, UserID: "user-2"}
	require.Eventually(t, func() bool {
		snap := tracker.Snapshot("room-1")
		return snap.OnlineCount == 1 && snap.OnlineUserIDs[0] == "user-2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetRoomsReconcilesWithoutReopeningKeptRooms(t *testing.T) {
	clock := &virtualClock{now: time.Now()}
	provider := newFakeProvider()
	tracker := newTracker(t, provider, clock)

	tracker.SetRooms(context.Background(), []string{"room-1", "room-2"})
	require.Equal(t, []string{"room-1", "room-2"}, tracker.SubscribedRooms())
	require.Equal(t, 2, provider.openCount())

	keptChannel := provider.channel("room-1")
	droppedChannel := provider.channel("room-2")

	tracker.SetRooms(context.Background(), []string{"room-1", "room-3"})
	require.Equal(t, []string{"room-1", "room-3"}, tracker.SubscribedRooms())

	// room-1 kept its original channel; only room-3 was opened.
	require.Equal(t, 3, provider.openCount())
	require.False(t, keptChannel.isClosed())
	require.True(t, droppedChannel.isClosed())
	require.Equal(t, []string{"room-2"}, provider.released)
}

func TestSubscribeFlagsInitialTrackFailure(t *testing.T) {
	clock := &virtualClock{now: time.Now()}

	channel := newFakeChannel()
	channel.trackFn = func() error { return context.DeadlineExceeded }
	provider := &seededProvider{channels: map[string]*fakeChannel{"room-1": channel}}

	tracker := presence.NewTracker(provider, "user-1", presence.Options{
		OfflineTimeout: 15 * time.Second,
		Now:            clock.Now,
	}, zerolog.Nop())
	defer tracker.Close()

	// The subscription stays open with its soft error flag raised so the
	// sweep can retry the heartbeat.
	require.NoError(t, tracker.Subscribe(context.Background(), "room-1"))
	require.True(t, tracker.HasError("room-1"))
	require.Equal(t, []string{"room-1"}, tracker.SubscribedRooms())
}

// sharedChannelProvider hands every caller the same channel and parks the
// first one until the gate opens.
type sharedChannelProvider struct {
	mu      sync.Mutex
	channel *fakeChannel
	calls   int
	gate    chan struct{}
}

func (p *sharedChannelProvider) Presence(_, _ string) (gateway.PresenceChannel, error) {
	p.mu.Lock()
	first := p.calls == 0
	p.calls++
	p.mu.Unlock()
	if first {
		<-p.gate
	}
	return p.channel, nil
}

func (p *sharedChannelProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type seededProvider struct {
	channels map[string]*fakeChannel
}

func (p *seededProvider) Presence(roomID, _ string) (gateway.PresenceChannel, error) {
	return p.channels[roomID], nil
}
