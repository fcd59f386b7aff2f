// Package gateway abstracts the remote backend service the session engine
// synchronizes against: named remote procedures, row change feeds, per-room
// presence channels and fire-and-forget broadcast channels.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
)

// ChangeType is the row-level event kind delivered by a change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	ChangeAll    ChangeType = "*"
)

// ChangeEvent is one row change pushed by the backend. New carries the row
// after the change, Old the row before it; either may be empty depending on
// the event type.
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  ChangeType      `json:"type"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// DecodeNew unmarshals the post-change row into out.
func (e ChangeEvent) DecodeNew(out any) error {
	if len(e.New) == 0 {
		return fmt.Errorf("change event for %s has no new row", e.Table)
	}
	return json.Unmarshal(e.New, out)
}

// DecodeOld unmarshals the pre-change row into out.
func (e ChangeEvent) DecodeOld(out any) error {
	if len(e.Old) == 0 {
		return fmt.Errorf("change event for %s has no old row", e.Table)
	}
	return json.Unmarshal(e.Old, out)
}

// ChangeSubscription selects which change events a subscriber receives.
// Filter is an optional equality predicate on a column of the new (or, for
// deletes, old) row, applied after decoding.
type ChangeSubscription struct {
	Table  string
	Types  []ChangeType
	Filter *ColumnFilter
}

// ColumnFilter matches rows whose named column equals the given value.
type ColumnFilter struct {
	Column string
	Value  string
}

// Key returns a stable identity for the subscription, used to guard against
// duplicate registration within one session.
func (s ChangeSubscription) Key() string {
	if s.Filter == nil {
		return s.Table
	}
	return fmt.Sprintf("%s:%s=%s", s.Table, s.Filter.Column, s.Filter.Value)
}

// CancelFunc tears down a subscription. Safe to call more than once.
type CancelFunc func()

// ChangeFeed delivers ordered row change events per subscription.
type ChangeFeed interface {
	Subscribe(ctx context.Context, sub ChangeSubscription, fn func(ChangeEvent)) (CancelFunc, error)
}

// PresenceEventType enumerates presence channel events.
type PresenceEventType string

const (
	PresenceSync  PresenceEventType = "sync"
	PresenceJoin  PresenceEventType = "join"
	PresenceLeave PresenceEventType = "leave"
)

// PresenceEvent notifies a subscriber that the channel's aggregate state
// changed. Consumers are expected to re-read State() rather than patch
// incrementally.
type PresenceEvent struct {
	Type   PresenceEventType
	UserID string
}

// PresenceChannel is a per-room ephemeral registry of connected users.
type PresenceChannel interface {
	// Track announces or refreshes this client's beacon on the channel.
	Track(ctx context.Context, beacon models.PresenceBeacon) error
	// Untrack withdraws this client's beacon.
	Untrack(ctx context.Context) error
	// State returns the current aggregate snapshot, keyed by user id.
	State(ctx context.Context) (map[string]models.PresenceBeacon, error)
	// Events exposes the channel's event stream. The stream is closed on
	// Close.
	Events() <-chan PresenceEvent
	// Errors reports transport failures; the channel stays usable and
	// recovers on the next successful operation.
	Errors() <-chan error
	Close() error
}

// BroadcastChannel carries fire-and-forget events (typing signals) between
// subscribers of the same room with no persistence.
type BroadcastChannel interface {
	Send(ctx context.Context, event string, payload any) error
	// Receive registers a handler for a named event. Handlers run on the
	// channel's delivery goroutine in arrival order.
	Receive(event string, fn func(payload json.RawMessage))
	Close() error
}

// Invoker executes named remote procedures with JSON input and output.
type Invoker interface {
	Invoke(ctx context.Context, procedure string, args any, out any) error
}

// Gateway bundles every backend capability the engine consumes.
type Gateway interface {
	Invoker
	ChangeFeed
	// Presence opens (or returns) the presence channel for a room, keyed
	// by the session user.
	Presence(roomID, userID string) (PresenceChannel, error)
	// Broadcast opens (or returns) the broadcast channel for a room.
	Broadcast(roomID string) (BroadcastChannel, error)
}
