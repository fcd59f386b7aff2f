package models

import "time"

// PresenceBeacon is the payload a client tracks on a room's presence channel.
// It is refreshed on every heartbeat; an entry is live only while
// now - OnlineAt stays under the configured offline timeout.
type PresenceBeacon struct {
	UserID   string    `json:"user_id"`
	RoomID   string    `json:"room_id"`
	OnlineAt time.Time `json:"online_at"`
	Username string    `json:"username,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
}

// TypingSignal is the fire-and-forget broadcast emitted while a user types.
type TypingSignal struct {
	UserID   string    `json:"user_id"`
	RoomID   string    `json:"room_id"`
	Username string    `json:"username,omitempty"`
	Typing   bool      `json:"typing"`
	SentAt   time.Time `json:"sent_at"`
}
