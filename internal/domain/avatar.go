package domain

import "time"

type AvatarStatus string

const (
	AvatarDraft AvatarStatus = "draft"
	AvatarReady AvatarStatus = "ready"
)

// Avatar is a named set of reference photos of one person.
type Avatar struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
	Name      string       `json:"name"`
	Status    AvatarStatus `json:"status"`
	CoverURL  string       `json:"cover_url,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type ReferencePhoto struct {
	ID         int64     `json:"id"`
	AvatarID   int64     `json:"avatar_id"`
	URL        string    `json:"url"`
	StorageKey string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
