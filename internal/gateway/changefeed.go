package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSChangeFeed subscribes to the backend's row change stream. The backend
// publishes one subject per table ({prefix}.{table}) carrying JSON
// ChangeEvent payloads; NATS preserves per-subscription ordering, which is
// the only ordering guarantee this layer passes on.
type NATSChangeFeed struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        zerolog.Logger
	onError       func(error)

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSChangeFeed wraps an established NATS connection as a change feed.
func NewNATSChangeFeed(conn *nats.Conn, subjectPrefix string, logger zerolog.Logger) *NATSChangeFeed {
	if subjectPrefix == "" {
		subjectPrefix = "chatapp.cdc"
	}

	return &NATSChangeFeed{
		conn:          conn,
		subjectPrefix: strings.TrimRight(subjectPrefix, "."),
		logger:        logger.With().Str("component", "change_feed").Logger(),
	}
}

// OnError registers a hook invoked for malformed payloads and subscription
// failures. Errors never stop delivery of later events.
func (f *NATSChangeFeed) OnError(fn func(error)) {
	f.onError = fn
}

// Subscribe registers fn for the table's change events. Events failing the
// subscription's type or filter checks are dropped silently.
func (f *NATSChangeFeed) Subscribe(ctx context.Context, sub ChangeSubscription, fn func(ChangeEvent)) (CancelFunc, error) {
	subject := f.subjectPrefix + "." + sub.Table

	natsSub, err := f.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			f.logger.Warn().Err(err).Str("subject", subject).Msg("invalid change event payload")
			if f.onError != nil {
				f.onError(err)
			}
			return
		}
		if event.Table == "" {
			event.Table = sub.Table
		}

		if !matchesTypes(event.Type, sub.Types) {
			return
		}
		if sub.Filter != nil && !matchesFilter(event, *sub.Filter) {
			return
		}

		fn(event)
	})
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.subs = append(f.subs, natsSub)
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := natsSub.Unsubscribe(); err != nil {
				f.logger.Warn().Err(err).Str("subject", subject).Msg("failed to unsubscribe change feed")
			}
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return cancel, nil
}

// Close drains every active subscription.
func (f *NATSChangeFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		if err := sub.Drain(); err != nil {
			f.logger.Warn().Err(err).Msg("failed to drain change feed subscription")
		}
	}
	f.subs = nil
}

func matchesTypes(eventType ChangeType, wanted []ChangeType) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w == ChangeAll || w == eventType {
			return true
		}
	}
	return false
}

func matchesFilter(event ChangeEvent, filter ColumnFilter) bool {
	row := event.New
	if event.Type == ChangeDelete {
		row = event.Old
	}
	if len(row) == 0 {
		return false
	}

	var columns map[string]json.RawMessage
	if err := json.Unmarshal(row, &columns); err != nil {
		return false
	}

	raw, ok := columns[filter.Column]
	if !ok {
		return false
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		// Non-string columns compare against their JSON representation.
		value = string(raw)
	}

	return value == filter.Value
}
