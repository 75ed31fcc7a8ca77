package domain

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskProcessing, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// GenerationTask is a single image generation job submitted to kie.ai.
type GenerationTask struct {
	ID             int64      `json:"id"`
	AvatarID       int64      `json:"avatar_id"`
	UserID         int64      `json:"user_id"`
	ExternalTaskID string     `json:"external_task_id,omitempty"`
	Model          string     `json:"model"`
	Prompt         string     `json:"prompt"`
	AspectRatio    string     `json:"aspect_ratio"`
	Status         TaskStatus `json:"status"`
	FailReason     string     `json:"fail_reason,omitempty"`
	PollAttempts   int        `json:"poll_attempts"`
	CreditsSpent   int        `json:"credits_spent"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	Photos []GeneratedPhoto `json:"photos,omitempty"`
}

type GeneratedPhoto struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	AvatarID  int64     `json:"avatar_id"`
	UserID    int64     `json:"user_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
