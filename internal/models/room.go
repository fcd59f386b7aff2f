package models

import "time"

// ParticipationStatus tracks the viewer's membership request state for a room.
type ParticipationStatus string

const (
	ParticipationNone     ParticipationStatus = ""
	ParticipationPending  ParticipationStatus = "pending"
	ParticipationAccepted ParticipationStatus = "accepted"
	ParticipationRejected ParticipationStatus = "rejected"
)

// Room is a chat room as seen by one viewer. The membership and count fields
// are derived relative to the session user, not intrinsic to the room row.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"is_private"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	IsMember            bool                `json:"is_member"`
	ParticipationStatus ParticipationStatus `json:"participation_status"`
	MemberCount         int                 `json:"member_count"`
	UnreadCount         int                 `json:"unread_count"`
	LatestMessageText   string              `json:"latest_message_text,omitempty"`
	LatestMessageAt     *time.Time          `json:"latest_message_at,omitempty"`
}

// RoomPatch carries a partial room update. Nil fields are left untouched.
type RoomPatch struct {
	Name                *string
	IsPrivate           *bool
	IsMember            *bool
	ParticipationStatus *ParticipationStatus
	MemberCount         *int
	UnreadCount         *int
	LatestMessageText   *string
	LatestMessageAt     *time.Time
}

// Apply copies the set fields of the patch onto the room.
func (p RoomPatch) Apply(room *Room) {
	if p.Name != nil {
		room.Name = *p.Name
	}
	if p.IsPrivate != nil {
		room.IsPrivate = *p.IsPrivate
	}
	if p.IsMember != nil {
		room.IsMember = *p.IsMember
	}
	if p.ParticipationStatus != nil {
		room.ParticipationStatus = *p.ParticipationStatus
	}
	if p.MemberCount != nil {
		room.MemberCount = *p.MemberCount
	}
	if p.UnreadCount != nil {
		room.UnreadCount = *p.UnreadCount
	}
	if p.LatestMessageText != nil {
		room.LatestMessageText = *p.LatestMessageText
	}
	if p.LatestMessageAt != nil {
		room.LatestMessageAt = p.LatestMessageAt
	}
}

// Message is a chat message row as delivered by the backend change feed.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
