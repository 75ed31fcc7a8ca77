package state

import "time"

// State represents a finite-state machine state.
type State string

const (
	// StateIdle indicates that the bot is waiting for the next user command.
	StateIdle State = "idle"
	// StateAvatarNaming indicates that the user is typing a name for a new avatar.
	StateAvatarNaming State = "avatar_naming"
	// StateAvatarUploading indicates that the user is sending reference photos.
	StateAvatarUploading State = "avatar_uploading"
	// StateChoosingAvatar indicates that the user is picking an avatar to generate with.
	StateChoosingAvatar State = "choosing_avatar"
	// StateEnteringPrompt indicates that the user is typing a generation prompt.
	StateEnteringPrompt State = "entering_prompt"
	// StateChoosingPackage indicates that the user is picking a credit package.
	StateChoosingPackage State = "choosing_package"
	// StateError indicates that the bot is in an error state and requires recovery.
	StateError State = "error"
)

// Context keys stored alongside a state.
const (
	KeyAvatarID   = "avatar_id"
	KeyAvatarName = "avatar_name"
	KeyUploaded   = "uploaded"
)

// UserState captures the current FSM state for a Telegram user.
type UserState struct {
	UserID       int64          `json:"user_id"`
	CurrentState State          `json:"current_state"`
	Context      map[string]any `json:"context"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Int64 reads a numeric context value. JSON round trips turn numbers into float64.
func (s *UserState) Int64(key string) (int64, bool) {
	if s == nil || s.Context == nil {
		return 0, false
	}

	switch v := s.Context[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// String reads a string context value.
func (s *UserState) String(key string) string {
	if s == nil || s.Context == nil {
		return ""
	}
	v, _ := s.Context[key].(string)
	return v
}
