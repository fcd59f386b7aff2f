package dto

import (
	"time"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
)

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	RoomID         string    `json:"room_id,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	Message        string    `json:"message"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	SenderUsername string    `json:"sender_username,omitempty"`
	SenderAvatar   string    `json:"sender_avatar,omitempty"`
	RoomName       string    `json:"room_name,omitempty"`
}

// NewNotificationResponse converts a model into a DTO.
func NewNotificationResponse(notification models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:             notification.ID,
		Type:           string(notification.Type),
		RoomID:         notification.RoomID,
		SenderID:       notification.SenderID,
		Message:        notification.Message,
		Status:         string(notification.Status),
		CreatedAt:      notification.CreatedAt,
		SenderUsername: notification.SenderUsername,
		SenderAvatar:   notification.SenderAvatar,
		RoomName:       notification.RoomName,
	}
}

// NewNotificationResponseSlice converts a slice of models into DTOs.
func NewNotificationResponseSlice(notifications []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		out = append(out, NewNotificationResponse(notification))
	}
	return out
}

// AcceptJoinRequestResponse mirrors the backend accept/reject procedures.
type AcceptJoinRequestResponse struct {
	Success      bool                 `json:"success"`
	Notification NotificationResponse `json:"notification"`
}

// Toast is a user-visible notice dispatched by the reconciliation layer.
type Toast struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
	RoomID  string `json:"room_id,omitempty"`
}
