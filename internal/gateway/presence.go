package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
)

const presenceEventBuffer = 16

// RedisPresenceChannel implements PresenceChannel on a Redis hash plus a
// pubsub notification stream. The hash holds one beacon per user; liveness
// is decided by the consumer from beacon timestamps, so a crashed peer that
// never sent leave still ages out.
type RedisPresenceChannel struct {
	client *redis.Client
	roomID string
	userID string
	logger zerolog.Logger

	pubsub *redis.PubSub
	events chan PresenceEvent
	errs   chan error

	closeOnce sync.Once
	done      chan struct{}
}

type presenceNotification struct {
	Type   PresenceEventType `json:"type"`
	UserID string            `json:"user_id"`
}

// NewRedisPresenceChannel opens the presence channel for a room, keyed by
// the session user.
func NewRedisPresenceChannel(client *redis.Client, roomID, userID string, logger zerolog.Logger) (*RedisPresenceChannel, error) {
	if roomID == "" || userID == "" {
		return nil, fmt.Errorf("room id and user id are required")
	}

	ch := &RedisPresenceChannel{
		client: client,
		roomID: roomID,
		userID: userID,
		logger: logger.With().Str("component", "presence_channel").Str("room_id", roomID).Logger(),
		events: make(chan PresenceEvent, presenceEventBuffer),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	ch.pubsub = client.Subscribe(context.Background(), ch.eventsKey())
	go ch.consume()

	return ch, nil
}

func (c *RedisPresenceChannel) stateKey() string {
	return "presence:room:" + c.roomID
}

func (c *RedisPresenceChannel) eventsKey() string {
	return "presence:room:" + c.roomID + ":events"
}

// Track announces or refreshes this client's beacon.
func (c *RedisPresenceChannel) Track(ctx context.Context, beacon models.PresenceBeacon) error {
	beacon.RoomID = c.roomID
	beacon.UserID = c.userID

	payload, err := json.Marshal(beacon)
	if err != nil {
		return fmt.Errorf("failed to marshal presence beacon: %w", err)
	}

	if err := c.client.HSet(ctx, c.stateKey(), c.userID, payload).Err(); err != nil {
		return fmt.Errorf("failed to track presence: %w", err)
	}

	return c.notify(ctx, PresenceJoin)
}

// Untrack withdraws this client's beacon.
func (c *RedisPresenceChannel) Untrack(ctx context.Context) error {
	if err := c.client.HDel(ctx, c.stateKey(), c.userID).Err(); err != nil {
		return fmt.Errorf("failed to untrack presence: %w", err)
	}

	return c.notify(ctx, PresenceLeave)
}

// State reads the channel's aggregate snapshot. Undecodable entries are
// skipped rather than failing the whole read.
func (c *RedisPresenceChannel) State(ctx context.Context) (map[string]models.PresenceBeacon, error) {
	raw, err := c.client.HGetAll(ctx, c.stateKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence state: %w", err)
	}

	state := make(map[string]models.PresenceBeacon, len(raw))
	for userID, payload := range raw {
		var beacon models.PresenceBeacon
		if err := json.Unmarshal([]byte(payload), &beacon); err != nil {
			c.logger.Warn().Err(err).Str("user_id", userID).Msg("skipping invalid presence beacon")
			continue
		}
		state[userID] = beacon
	}

	return state, nil
}

// Events exposes incoming sync/join/leave notifications.
func (c *RedisPresenceChannel) Events() <-chan PresenceEvent {
	return c.events
}

// Errors reports transport failures without closing the channel.
func (c *RedisPresenceChannel) Errors() <-chan error {
	return c.errs
}

// Close withdraws the beacon and stops event delivery. Safe to call more
// than once.
func (c *RedisPresenceChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if untrackErr := c.Untrack(context.Background()); untrackErr != nil {
			err = untrackErr
		}
		if closeErr := c.pubsub.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

func (c *RedisPresenceChannel) notify(ctx context.Context, eventType PresenceEventType) error {
	payload, err := json.Marshal(presenceNotification{Type: eventType, UserID: c.userID})
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.eventsKey(), payload).Err()
}

func (c *RedisPresenceChannel) consume() {
	defer close(c.events)

	for {
		msg, err := c.pubsub.Receive(context.Background())
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			select {
			case c.errs <- err:
			default:
			}
			if errors.Is(err, redis.ErrClosed) {
				return
			}
			continue
		}

		message, ok := msg.(*redis.Message)
		if !ok {
			continue
		}

		var notification presenceNotification
		if err := json.Unmarshal([]byte(message.Payload), &notification); err != nil {
			c.logger.Warn().Err(err).Msg("invalid presence notification")
			continue
		}

		event := PresenceEvent{Type: notification.Type, UserID: notification.UserID}
		select {
		case c.events <- event:
		case <-c.done:
			return
		}
	}
}
