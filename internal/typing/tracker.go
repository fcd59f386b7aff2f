// Package typing tracks short-lived "currently typing" indicators per room,
// with debounced outbound signals and TTL-based expiry of received ones.
package typing

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
)

const (
	defaultDebounce = 1500 * time.Millisecond
	defaultTTL      = 3 * time.Second

	typingEvent = "typing"
)

// ChannelProvider opens broadcast channels, one per room.
type ChannelProvider interface {
	Broadcast(roomID string) (gateway.BroadcastChannel, error)
}

// Options tunes the tracker.
type Options struct {
	// Debounce is the minimum gap between outbound typing signals per
	// room. Defaults to 1.5s.
	Debounce time.Duration
	// TTL is how long a received typing entry lives without renewal.
	// Defaults to 3s. The sweep interval is half of it.
	TTL time.Duration
	// Username travels with outbound signals as display metadata.
	Username string
	// Now injects a clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// Tracker manages typing indicators for the session user. Received entries
// expire by sweep, never only by explicit stop events: a partitioned peer
// must not leave a stuck indicator.
type Tracker struct {
	provider ChannelProvider
	userID   string
	opts     Options
	debounce time.Duration
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.Mutex
	channels map[string]gateway.BroadcastChannel
	lastSent map[string]time.Time
	typists  map[string]map[string]typist

	onUpdate func(roomID string, userIDs []string)

	sweepOnce sync.Once
	done      chan struct{}
}

type typist struct {
	username  string
	expiresAt time.Time
}

// NewTracker constructs the typing tracker for one session user.
func NewTracker(provider ChannelProvider, userID string, opts Options, logger zerolog.Logger) *Tracker {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		provider: provider,
		userID:   userID,
		opts:     opts,
		debounce: debounce,
		ttl:      ttl,
		now:      now,
		logger:   logger.With().Str("component", "typing_tracker").Logger(),
		channels: make(map[string]gateway.BroadcastChannel),
		lastSent: make(map[string]time.Time),
		typists:  make(map[string]map[string]typist),
		done:     make(chan struct{}),
	}
}

// SetOnUpdate registers the publish callback for typist set changes.
func (t *Tracker) SetOnUpdate(fn func(roomID string, userIDs []string)) {
	t.mu.Lock()
	t.onUpdate = fn
	t.mu.Unlock()
}

// Attach joins a room's broadcast channel so peer typing signals are
// received. Idempotent per room.
func (t *Tracker) Attach(roomID string) error {
	t.mu.Lock()
	if _, exists := t.channels[roomID]; exists {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	channel, err := t.provider.Broadcast(roomID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if _, exists := t.channels[roomID]; exists {
		t.mu.Unlock()
		_ = channel.Close()
		return nil
	}
	t.channels[roomID] = channel
	t.mu.Unlock()

	channel.Receive(typingEvent, func(payload json.RawMessage) {
		t.handleSignal(roomID, payload)
	})

	t.sweepOnce.Do(func() {
		go t.sweepLoop()
	})

	return nil
}

// Detach stops sending and receiving typing signals for a room.
func (t *Tracker) Detach(ctx context.Context, roomID string) {
	t.StopTyping(ctx, roomID)

	t.mu.Lock()
	channel, exists := t.channels[roomID]
	delete(t.channels, roomID)
	delete(t.lastSent, roomID)
	delete(t.typists, roomID)
	t.mu.Unlock()

	if exists {
		if err := channel.Close(); err != nil {
			t.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to close broadcast channel")
		}
	}
}

// SetRooms reconciles attached rooms against the requested set, detaching
// and attaching only the difference.
func (t *Tracker) SetRooms(ctx context.Context, roomIDs []string) {
	requested := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		if id != "" {
			requested[id] = struct{}{}
		}
	}

	t.mu.Lock()
	var stale []string
	attached := make(map[string]struct{}, len(t.channels))
	for roomID := range t.channels {
		attached[roomID] = struct{}{}
		if _, keep := requested[roomID]; !keep {
			stale = append(stale, roomID)
		}
	}
	t.mu.Unlock()

	for _, roomID := range stale {
		t.Detach(ctx, roomID)
	}
	for roomID := range requested {
		if _, already := attached[roomID]; already {
			continue
		}
		if err := t.Attach(roomID); err != nil {
			t.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to attach typing channel")
		}
	}
}

// HandleTyping is called on every keystroke. A signal is broadcast only when
// none was sent within the debounce window.
func (t *Tracker) HandleTyping(ctx context.Context, roomID string) {
	now := t.now()

	t.mu.Lock()
	channel, attached := t.channels[roomID]
	if !attached {
		t.mu.Unlock()
		return
	}
	if last, ok := t.lastSent[roomID]; ok && now.Sub(last) < t.debounce {
		t.mu.Unlock()
		return
	}
	t.lastSent[roomID] = now
	t.mu.Unlock()

	signal := models.TypingSignal{
		UserID:   t.userID,
		RoomID:   roomID,
		Username: t.opts.Username,
		Typing:   true,
		SentAt:   now,
	}
	if err := channel.Send(ctx, typingEvent, signal); err != nil {
		t.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to broadcast typing signal")
	}
}

// StopTyping broadcasts an explicit stop and clears the debounce state.
// Called on blur, send, detach or session teardown.
func (t *Tracker) StopTyping(ctx context.Context, roomID string) {
	t.mu.Lock()
	channel, attached := t.channels[roomID]
	delete(t.lastSent, roomID)
	t.mu.Unlock()

	if !attached {
		return
	}

	signal := models.TypingSignal{
		UserID: t.userID,
		RoomID: roomID,
		Typing: false,
		SentAt: t.now(),
	}
	if err := channel.Send(ctx, typingEvent, signal); err != nil {
		t.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to broadcast stop typing")
	}
}

// Typists returns the user ids currently typing in a room, expired entries
// excluded.
func (t *Tracker) Typists(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typistsLocked(roomID)
}

// Close detaches every room and stops the sweep loop.
func (t *Tracker) Close() {
	t.mu.Lock()
	rooms := make([]string, 0, len(t.channels))
	for roomID := range t.channels {
		rooms = append(rooms, roomID)
	}
	t.mu.Unlock()

	for _, roomID := range rooms {
		t.Detach(context.Background(), roomID)
	}

	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

func (t *Tracker) handleSignal(roomID string, payload json.RawMessage) {
	var signal models.TypingSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		t.logger.Warn().Err(err).Str("room_id", roomID).Msg("invalid typing signal")
		return
	}
	if signal.UserID == "" || signal.UserID == t.userID {
		return
	}

	t.mu.Lock()
	room := t.typists[roomID]
	if room == nil {
		room = make(map[string]typist)
		t.typists[roomID] = room
	}
	if signal.Typing {
		room[signal.UserID] = typist{
			username:  signal.Username,
			expiresAt: t.now().Add(t.ttl),
		}
	} else {
		delete(room, signal.UserID)
	}
	ids := t.typistsLocked(roomID)
	fn := t.onUpdate
	t.mu.Unlock()

	if fn != nil {
		fn(roomID, ids)
	}
}

func (t *Tracker) sweepLoop() {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// sweep removes expired entries and publishes rooms whose typist set shrank.
func (t *Tracker) sweep() {
	now := t.now()

	t.mu.Lock()
	changed := make(map[string][]string)
	for roomID, room := range t.typists {
		expired := false
		for userID, entry := range room {
			if !entry.expiresAt.After(now) {
				delete(room, userID)
				expired = true
			}
		}
		if expired {
			changed[roomID] = t.typistsLocked(roomID)
		}
	}
	fn := t.onUpdate
	t.mu.Unlock()

	if fn == nil {
		return
	}
	for roomID, ids := range changed {
		fn(roomID, ids)
	}
}

func (t *Tracker) typistsLocked(roomID string) []string {
	now := t.now()
	room := t.typists[roomID]

	ids := make([]string, 0, len(room))
	for userID, entry := range room {
		if entry.expiresAt.After(now) {
			ids = append(ids, userID)
		}
	}
	sort.Strings(ids)
	return ids
}
