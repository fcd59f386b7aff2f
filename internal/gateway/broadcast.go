package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroadcastChannel carries ephemeral named events between subscribers
// of the same room over Redis pubsub. Nothing is persisted; a subscriber
// that was offline simply missed the event.
type RedisBroadcastChannel struct {
	client *redis.Client
	roomID string
	logger zerolog.Logger

	pubsub *redis.PubSub

	mu       sync.RWMutex
	handlers map[string][]func(json.RawMessage)

	closeOnce sync.Once
	done      chan struct{}
}

type broadcastEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewRedisBroadcastChannel opens the broadcast channel for a room.
func NewRedisBroadcastChannel(client *redis.Client, roomID string, logger zerolog.Logger) (*RedisBroadcastChannel, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required")
	}

	ch := &RedisBroadcastChannel{
		client:   client,
		roomID:   roomID,
		logger:   logger.With().Str("component", "broadcast_channel").Str("room_id", roomID).Logger(),
		handlers: make(map[string][]func(json.RawMessage)),
		done:     make(chan struct{}),
	}

	ch.pubsub = client.Subscribe(context.Background(), ch.key())
	go ch.consume()

	return ch, nil
}

func (c *RedisBroadcastChannel) key() string {
	return "broadcast:room:" + c.roomID
}

// Send publishes a named event to every subscriber of the room.
func (c *RedisBroadcastChannel) Send(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast payload: %w", err)
	}

	envelope, err := json.Marshal(broadcastEnvelope{Event: event, Payload: body})
	if err != nil {
		return err
	}

	return c.client.Publish(ctx, c.key(), envelope).Err()
}

// Receive registers a handler for a named event. Handlers run on the
// channel's delivery goroutine in arrival order.
func (c *RedisBroadcastChannel) Receive(event string, fn func(payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// Close stops delivery. Safe to call more than once.
func (c *RedisBroadcastChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.pubsub.Close()
	})
	return err
}

func (c *RedisBroadcastChannel) consume() {
	for {
		msg, err := c.pubsub.Receive(context.Background())
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if errors.Is(err, redis.ErrClosed) {
				return
			}
			c.logger.Warn().Err(err).Msg("broadcast receive failed")
			continue
		}

		message, ok := msg.(*redis.Message)
		if !ok {
			continue
		}

		var envelope broadcastEnvelope
		if err := json.Unmarshal([]byte(message.Payload), &envelope); err != nil {
			c.logger.Warn().Err(err).Msg("invalid broadcast payload")
			continue
		}

		c.mu.RLock()
		registered := c.handlers[envelope.Event]
		handlers := make([]func(json.RawMessage), len(registered))
		copy(handlers, registered)
		c.mu.RUnlock()

		for _, fn := range handlers {
			fn(envelope.Payload)
		}
	}
}
