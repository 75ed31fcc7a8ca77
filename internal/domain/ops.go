package domain

import (
	"encoding/json"
	"time"
)

type NotificationKind string

const (
	NotifyPayment   NotificationKind = "payment"
	NotifyNewUser   NotificationKind = "new_user"
	NotifyTaskStuck NotificationKind = "task_failed"
	NotifyBroadcast NotificationKind = "broadcast"
)

type AdminNotification struct {
	ID        int64            `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// WebhookLog records one inbound third-party delivery.
type WebhookLog struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	MessageID  string    `json:"message_id,omitempty"`
	StatusCode int       `json:"status_code"`
	Payload    string    `json:"payload,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProcessedMessage is a row of the webhook idempotency table.
type ProcessedMessage struct {
	MessageID   string    `json:"message_id"`
	Source      string    `json:"source"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Stats is the admin dashboard summary.
type Stats struct {
	Users           int   `json:"users"`
	ActiveToday     int   `json:"active_today"`
	Avatars         int   `json:"avatars"`
	TasksPending    int   `json:"tasks_pending"`
	TasksCompleted  int   `json:"tasks_completed"`
	TasksFailed     int   `json:"tasks_failed"`
	PhotosGenerated int   `json:"photos_generated"`
	PaymentsCount   int   `json:"payments_count"`
	Revenue         int64 `json:"revenue"`
	UnreadNotices   int   `json:"unread_notifications"`
}
