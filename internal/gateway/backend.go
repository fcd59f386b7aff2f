package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Backend is the concrete Gateway: procedures over HTTP, change feeds over
// NATS, presence and broadcast channels over Redis. Channels are cached per
// room so repeated opens share one underlying subscription.
type Backend struct {
	rpc    *RPCClient
	feed   *NATSChangeFeed
	redis  *redis.Client
	logger zerolog.Logger

	mu        sync.Mutex
	presence  map[string]*RedisPresenceChannel
	broadcast map[string]*RedisBroadcastChannel
}

// NewBackend assembles the gateway from its transports.
func NewBackend(rpc *RPCClient, natsConn *nats.Conn, redisClient *redis.Client, subjectPrefix string, logger zerolog.Logger) (*Backend, error) {
	if rpc == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if natsConn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &Backend{
		rpc:       rpc,
		feed:      NewNATSChangeFeed(natsConn, subjectPrefix, logger),
		redis:     redisClient,
		logger:    logger.With().Str("component", "backend_gateway").Logger(),
		presence:  make(map[string]*RedisPresenceChannel),
		broadcast: make(map[string]*RedisBroadcastChannel),
	}, nil
}

// Invoke executes a named remote procedure.
func (b *Backend) Invoke(ctx context.Context, procedure string, args any, out any) error {
	return b.rpc.Invoke(ctx, procedure, args, out)
}

// Subscribe registers a change feed subscription.
func (b *Backend) Subscribe(ctx context.Context, sub ChangeSubscription, fn func(ChangeEvent)) (CancelFunc, error) {
	return b.feed.Subscribe(ctx, sub, fn)
}

// Presence opens (or returns the cached) presence channel for a room.
func (b *Backend) Presence(roomID, userID string) (PresenceChannel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := roomID + ":" + userID
	if ch, ok := b.presence[key]; ok {
		return ch, nil
	}

	ch, err := NewRedisPresenceChannel(b.redis, roomID, userID, b.logger)
	if err != nil {
		return nil, err
	}
	b.presence[key] = ch

	return ch, nil
}

// Broadcast opens (or returns the cached) broadcast channel for a room.
func (b *Backend) Broadcast(roomID string) (BroadcastChannel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.broadcast[roomID]; ok {
		return ch, nil
	}

	ch, err := NewRedisBroadcastChannel(b.redis, roomID, b.logger)
	if err != nil {
		return nil, err
	}
	b.broadcast[roomID] = ch

	return ch, nil
}

// ReleasePresence drops the cached presence channel for a room after the
// caller closed it, so a later subscribe opens a fresh one.
func (b *Backend) ReleasePresence(roomID, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.presence, roomID+":"+userID)
}

// Close tears down every cached channel and the change feed.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, ch := range b.presence {
		if err := ch.Close(); err != nil {
			b.logger.Warn().Err(err).Str("channel", key).Msg("failed to close presence channel")
		}
		delete(b.presence, key)
	}
	for key, ch := range b.broadcast {
		if err := ch.Close(); err != nil {
			b.logger.Warn().Err(err).Str("channel", key).Msg("failed to close broadcast channel")
		}
		delete(b.broadcast, key)
	}
	b.feed.Close()
}
