// Package presence maintains the per-room registry of online users, derived
// from ephemeral presence beacons with timeout-based decay.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/observability"
)

const defaultOfflineTimeout = 15 * time.Second

// ChannelProvider opens presence channels, one per room, keyed by the
// session user.
type ChannelProvider interface {
	Presence(roomID, userID string) (gateway.PresenceChannel, error)
}

// channelReleaser lets a provider drop its cached channel after close.
type channelReleaser interface {
	ReleasePresence(roomID, userID string)
}

// Snapshot is the published per-room presence view.
type Snapshot struct {
	OnlineCount   int
	OnlineUserIDs []string
}

// Options tunes the tracker.
type Options struct {
	// OfflineTimeout is how long a beacon stays live without refresh.
	// Defaults to 15s. The sweep interval is half of it.
	OfflineTimeout time.Duration
	// ExcludeSelf drops the session user from published counts.
	ExcludeSelf bool
	// Username travels with the beacon as display metadata.
	Username string
	// Now injects a clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// Tracker owns one presence channel per subscribed room. On every channel
// event the per-room map is rebuilt from the authoritative snapshot rather
// than patched incrementally, then purged of stale entries. A periodic sweep
// re-runs purge and publish so a peer's silent disconnect is reflected
// within one interval, and doubles as the heartbeat refreshing this user's
// own beacon.
type Tracker struct {
	provider ChannelProvider
	userID   string
	opts     Options
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	rooms   map[string]*roomState
	nextGen uint64

	onUpdate func(roomID string, snap Snapshot)
}

type roomState struct {
	channel    gateway.PresenceChannel
	entries    map[string]models.PresenceBeacon
	errFlag    bool
	generation uint64
	done       chan struct{}
}

// NewTracker constructs the tracker for one session user.
func NewTracker(provider ChannelProvider, userID string, opts Options, logger zerolog.Logger) *Tracker {
	timeout := opts.OfflineTimeout
	if timeout <= 0 {
		timeout = defaultOfflineTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		provider: provider,
		userID:   userID,
		opts:     opts,
		timeout:  timeout,
		now:      now,
		logger:   logger.With().Str("component", "presence_tracker").Logger(),
		rooms:    make(map[string]*roomState),
	}
}

// SetOnUpdate registers the publish callback. Invoked with no locks held.
func (t *Tracker) SetOnUpdate(fn func(roomID string, snap Snapshot)) {
	t.mu.Lock()
	t.onUpdate = fn
	t.mu.Unlock()
}

// Subscribe opens the room's presence channel and announces this user.
// A no-op when the room is already subscribed: exactly one channel per room.
func (t *Tracker) Subscribe(ctx context.Context, roomID string) error {
	t.mu.Lock()
	if _, exists := t.rooms[roomID]; exists {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	channel, err := t.provider.Presence(roomID, t.userID)
	if err != nil {
		return err
	}

	state := &roomState{
		channel: channel,
		entries: make(map[string]models.PresenceBeacon),
		done:    make(chan struct{}),
	}

	t.mu.Lock()
	if _, exists := t.rooms[roomID]; exists {
		// Lost the race with a concurrent subscribe. The provider caches one
		// channel per room and user, so both racers hold the same channel;
		// closing it here would kill the winner's subscription.
		t.mu.Unlock()
		return nil
	}
	t.nextGen++
	state.generation = t.nextGen
	t.rooms[roomID] = state
	generation := state.generation
	t.mu.Unlock()

	if err := t.heartbeat(ctx, roomID, channel); err != nil {
		t.logger.Warn().Err(err).Str("room_id", roomID).Msg("initial presence track failed, will retry on sweep")
		t.setErrFlag(roomID, generation, true)
	}

	t.refreshFromChannel(ctx, roomID, generation)
	go t.watch(roomID, generation, state)

	return nil
}

// Unsubscribe withdraws presence, closes the channel and discards cached
// entries. Safe to call repeatedly.
func (t *Tracker) Unsubscribe(roomID string) {
	t.mu.Lock()
	state, exists := t.rooms[roomID]
	if !exists {
		t.mu.Unlock()
		return
	}
	delete(t.rooms, roomID)
	t.mu.Unlock()

	close(state.done)
	if err := state.channel.Close(); err != nil {
		t.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to close presence channel")
	}
	if releaser, ok := t.provider.(channelReleaser); ok {
		releaser.ReleasePresence(roomID, t.userID)
	}
	observability.PresenceOnline().WithLabelValues(roomID).Set(0)
}

// SetRooms reconciles the subscribed set against the requested one with a
// pure set difference: rooms present in both are left untouched, so an
// incremental room list change never flickers existing presence.
func (t *Tracker) SetRooms(ctx context.Context, roomIDs []string) {
	requested := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		if id != "" {
			requested[id] = struct{}{}
		}
	}

	t.mu.Lock()
	var stale []string
	for roomID := range t.rooms {
		if _, keep := requested[roomID]; !keep {
			stale = append(stale, roomID)
		}
	}
	subscribed := make(map[string]struct{}, len(t.rooms))
	for roomID := range t.rooms {
		subscribed[roomID] = struct{}{}
	}
	t.mu.Unlock()

	for _, roomID := range stale {
		t.Unsubscribe(roomID)
	}
	for roomID := range requested {
		if _, already := subscribed[roomID]; already {
			continue
		}
		if err := t.Subscribe(ctx, roomID); err != nil {
			t.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to subscribe presence")
		}
	}
}

// Snapshot returns the current live view for a room.
func (t *Tracker) Snapshot(roomID string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.rooms[roomID]
	if !exists {
		return Snapshot{OnlineUserIDs: []string{}}
	}
	return t.snapshotLocked(state)
}

// OnlineCount returns the live user count for a room.
func (t *Tracker) OnlineCount(roomID string) int {
	return t.Snapshot(roomID).OnlineCount
}

// HasError reports the room's soft channel error flag.
func (t *Tracker) HasError(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, exists := t.rooms[roomID]; exists {
		return state.errFlag
	}
	return false
}

// SubscribedRooms lists rooms with an open presence channel.
func (t *Tracker) SubscribedRooms() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.rooms))
	for roomID := range t.rooms {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

// Close unsubscribes every room.
func (t *Tracker) Close() {
	for _, roomID := range t.SubscribedRooms() {
		t.Unsubscribe(roomID)
	}
}

func (t *Tracker) watch(roomID string, generation uint64, state *roomState) {
	ticker := time.NewTicker(t.timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-state.done:
			return
		case _, ok := <-state.channel.Events():
			if !ok {
				return
			}
			t.setErrFlag(roomID, generation, false)
			t.refreshFromChannel(context.Background(), roomID, generation)
		case err, ok := <-state.channel.Errors():
			if !ok {
				return
			}
			t.logger.Warn().Err(err).Str("room_id", roomID).Msg("presence channel error")
			t.setErrFlag(roomID, generation, true)
		case <-ticker.C:
			t.sweep(roomID, generation, state)
		}
	}
}

// sweep refreshes this user's beacon and republishes after purging, so both
// our own liveness and peers' silent disconnects converge without events.
func (t *Tracker) sweep(roomID string, generation uint64, state *roomState) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout/2)
	defer cancel()

	if err := t.heartbeat(ctx, roomID, state.channel); err != nil {
		t.logger.Warn().Err(err).Str("room_id", roomID).Msg("presence heartbeat failed, retrying next sweep")
		t.setErrFlag(roomID, generation, true)
	} else {
		t.setErrFlag(roomID, generation, false)
	}

	t.publish(roomID, generation)
}

func (t *Tracker) heartbeat(ctx context.Context, roomID string, channel gateway.PresenceChannel) error {
	return channel.Track(ctx, models.PresenceBeacon{
		UserID:   t.userID,
		RoomID:   roomID,
		OnlineAt: t.now(),
		Username: t.opts.Username,
	})
}

// refreshFromChannel rebuilds the room's entry map from the channel's
// authoritative snapshot, then publishes.
func (t *Tracker) refreshFromChannel(ctx context.Context, roomID string, generation uint64) {
	t.mu.Lock()
	state, current := t.currentLocked(roomID, generation)
	if !current {
		t.mu.Unlock()
		return
	}
	channel := state.channel
	t.mu.Unlock()

	snapshot, err := channel.State(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to read presence state")
		t.setErrFlag(roomID, generation, true)
		return
	}

	t.mu.Lock()
	state, current = t.currentLocked(roomID, generation)
	if !current {
		t.mu.Unlock()
		return
	}
	state.entries = snapshot
	t.mu.Unlock()

	t.publish(roomID, generation)
}

func (t *Tracker) publish(roomID string, generation uint64) {
	t.mu.Lock()
	state, current := t.currentLocked(roomID, generation)
	if !current {
		t.mu.Unlock()
		return
	}
	snap := t.snapshotLocked(state)
	fn := t.onUpdate
	t.mu.Unlock()

	observability.PresenceOnline().WithLabelValues(roomID).Set(float64(snap.OnlineCount))
	if fn != nil {
		fn(roomID, snap)
	}
}

// snapshotLocked purges stale entries in place and derives the live view.
func (t *Tracker) snapshotLocked(state *roomState) Snapshot {
	cutoff := t.now().Add(-t.timeout)

	ids := make([]string, 0, len(state.entries))
	for userID, beacon := range state.entries {
		if !beacon.OnlineAt.After(cutoff) {
			delete(state.entries, userID)
			continue
		}
		if t.opts.ExcludeSelf && userID == t.userID {
			continue
		}
		ids = append(ids, userID)
	}
	sort.Strings(ids)

	return Snapshot{OnlineCount: len(ids), OnlineUserIDs: ids}
}

// currentLocked reports whether the room's subscription generation still
// matches, guarding stale callbacks after an unsubscribe/resubscribe cycle.
func (t *Tracker) currentLocked(roomID string, generation uint64) (*roomState, bool) {
	state, exists := t.rooms[roomID]
	if !exists || state.generation != generation {
		return nil, false
	}
	return state, true
}

func (t *Tracker) setErrFlag(roomID string, generation uint64, flag bool) {
	t.mu.Lock()
	if state, current := t.currentLocked(roomID, generation); current {
		state.errFlag = flag
	}
	t.mu.Unlock()
}
