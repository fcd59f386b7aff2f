package models

import "time"

// NotificationType enumerates the notification kinds produced by the backend.
type NotificationType string

const (
	NotificationRoomInvite          NotificationType = "room_invite"
	NotificationJoinRequest         NotificationType = "join_request"
	NotificationUserJoined          NotificationType = "user_joined"
	NotificationJoinRequestAccepted NotificationType = "join_request_accepted"
	NotificationJoinRequestRejected NotificationType = "join_request_rejected"
	NotificationRoomLeft            NotificationType = "room_left"
	NotificationMessage             NotificationType = "message"
)

// NotificationStatus is monotonic: unread transitions to read, never back.
type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
)

// Notification is a user-targeted event row. The sender and room display
// fields are denormalized joins populated asynchronously after the initial
// insert arrives over the change feed.
type Notification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Type      NotificationType   `json:"type"`
	RoomID    string             `json:"room_id,omitempty"`
	SenderID  string             `json:"sender_id,omitempty"`
	Message   string             `json:"message"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`

	SenderUsername string `json:"sender_username,omitempty"`
	SenderAvatar   string `json:"sender_avatar,omitempty"`
	RoomName       string `json:"room_name,omitempty"`
}
