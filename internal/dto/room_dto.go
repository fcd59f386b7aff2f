package dto

import (
	"time"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
)

// CreateRoomRequest is the payload for creating a new room.
type CreateRoomRequest struct {
	Name      string `json:"name" validate:"required,min=1,max=100"`
	IsPrivate bool   `json:"is_private"`
}

// SwitchRoomRequest asks the engine to join a room and leave the previous one.
type SwitchRoomRequest struct {
	RoomID string `json:"room_id" validate:"required,max=128"`
}

// TransferOwnershipRequest hands a room over to another member.
type TransferOwnershipRequest struct {
	NewOwnerID string `json:"new_owner_id" validate:"required,max=64"`
}

// RoomResponse is the serialized viewer-relative room state.
type RoomResponse struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	IsPrivate           bool       `json:"is_private"`
	CreatedBy           string     `json:"created_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	IsMember            bool       `json:"is_member"`
	ParticipationStatus string     `json:"participation_status"`
	MemberCount         int        `json:"member_count"`
	OnlineUsers         int        `json:"online_users"`
	UnreadCount         int        `json:"unread_count"`
	LatestMessageText   string     `json:"latest_message_text,omitempty"`
	LatestMessageAt     *time.Time `json:"latest_message_at,omitempty"`
}

// NewRoomResponse converts a room model into a DTO. onlineUsers is supplied
// by the presence tracker since it is not part of the entity store.
func NewRoomResponse(room models.Room, onlineUsers int) RoomResponse {
	return RoomResponse{
		ID:                  room.ID,
		Name:                room.Name,
		IsPrivate:           room.IsPrivate,
		CreatedBy:           room.CreatedBy,
		CreatedAt:           room.CreatedAt,
		IsMember:            room.IsMember,
		ParticipationStatus: string(room.ParticipationStatus),
		MemberCount:         room.MemberCount,
		OnlineUsers:         onlineUsers,
		UnreadCount:         room.UnreadCount,
		LatestMessageText:   room.LatestMessageText,
		LatestMessageAt:     room.LatestMessageAt,
	}
}

// JoinRoomResponse mirrors the backend join procedure's result.
type JoinRoomResponse struct {
	Success     bool   `json:"success"`
	Status      string `json:"status"`
	RoomJoined  bool   `json:"roomJoined,omitempty"`
	MemberCount int    `json:"memberCount,omitempty"`
}

// LeaveRoomResponse mirrors the backend leave procedure's result.
type LeaveRoomResponse struct {
	Success      bool   `json:"success"`
	RoomLeft     bool   `json:"roomLeft"`
	HasOtherRoom bool   `json:"hasOtherRooms"`
	DefaultRoom  string `json:"defaultRoom,omitempty"`
}

// SwitchRoomResponse mirrors the backend switch procedure's result.
type SwitchRoomResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// PresenceResponse reports the live user set of one room.
type PresenceResponse struct {
	RoomID        string   `json:"room_id"`
	OnlineCount   int      `json:"onlineCount"`
	OnlineUserIDs []string `json:"onlineUserIds"`
}

// TypingResponse reports who is currently typing in one room.
type TypingResponse struct {
	RoomID  string   `json:"room_id"`
	UserIDs []string `json:"user_ids"`
}
