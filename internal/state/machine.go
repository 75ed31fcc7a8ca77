package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	userLockKeyPattern = "photostudio:fsm:lock:%d"
	lockTTL            = 5 * time.Second
	// Album photos arrive as separate updates within milliseconds, so a
	// caller waits briefly for the lock before giving up.
	lockWait    = 250 * time.Millisecond
	lockBackoff = 25 * time.Millisecond
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStateNotFound     = errors.New("user state not found")
	ErrStateLocked       = errors.New("state is locked, try again later")
)

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe FSM transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

// StateMachine tracks where each Telegram user is in a multi-step flow.
type StateMachine interface {
	GetState(ctx context.Context, userID int64) (*UserState, error)
	// Current returns the stored state or an idle state when none exists.
	Current(ctx context.Context, userID int64) (*UserState, error)
	SetState(ctx context.Context, userID int64, state State, contextData map[string]any) error
	TransitionTo(ctx context.Context, userID int64, newState State, contextData map[string]any) error
	ClearState(ctx context.Context, userID int64) error
	GetAllStates(ctx context.Context) ([]*UserState, error)
}

type machine struct {
	storage     Storage
	log         *slog.Logger
	redisClient *redis.Client
	now         func() time.Time
}

// NewStateMachine creates a FSM over storage. Writes are serialized per user
// with a Redis lock when redisClient is not nil.
func NewStateMachine(storage Storage, log *slog.Logger, redisClient *redis.Client) StateMachine {
	if log == nil {
		log = slog.Default()
	}

	return &machine{
		storage:     storage,
		log:         log.With(slog.String("component", "fsm")),
		redisClient: redisClient,
		now:         time.Now,
	}
}

// GetState proxies to the underlying storage implementation.
func (m *machine) GetState(ctx context.Context, userID int64) (*UserState, error) {
	return m.storage.GetState(ctx, userID)
}

func (m *machine) Current(ctx context.Context, userID int64) (*UserState, error) {
	st, err := m.storage.GetState(ctx, userID)
	if errors.Is(err, ErrStateNotFound) || (err == nil && st == nil) {
		return &UserState{UserID: userID, CurrentState: StateIdle}, nil
	}
	return st, err
}

// GetAllStates returns every persisted user state.
func (m *machine) GetAllStates(ctx context.Context) ([]*UserState, error) {
	return m.storage.GetAllStates(ctx)
}

func (m *machine) SetState(ctx context.Context, userID int64, state State, contextData map[string]any) error {
	return m.withLock(ctx, userID, func() error {
		return m.saveState(ctx, userID, state, contextData)
	})
}

// TransitionTo changes the state if the transition is allowed.
func (m *machine) TransitionTo(ctx context.Context, userID int64, newState State, contextData map[string]any) error {
	return m.withLock(ctx, userID, func() error {
		current := StateIdle

		stored, err := m.storage.GetState(ctx, userID)
		switch {
		case err != nil && !errors.Is(err, ErrStateNotFound):
			return err
		case err == nil && stored != nil:
			current = stored.CurrentState
		}

		if !IsTransitionAllowed(current, newState) {
			m.log.WarnContext(ctx, "invalid state transition",
				slog.Int64("user_id", userID),
				slog.String("from", string(current)),
				slog.String("to", string(newState)),
			)
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, newState)
		}

		transitionRecorder(string(current), string(newState))
		return m.saveState(ctx, userID, newState, contextData)
	})
}

func (m *machine) ClearState(ctx context.Context, userID int64) error {
	return m.withLock(ctx, userID, func() error {
		return m.storage.ClearState(ctx, userID)
	})
}

func (m *machine) saveState(ctx context.Context, userID int64, state State, contextData map[string]any) error {
	return m.storage.SetState(ctx, userID, &UserState{
		UserID:       userID,
		CurrentState: state,
		Context:      contextData,
		UpdatedAt:    m.now().UTC(),
	})
}

func (m *machine) withLock(ctx context.Context, userID int64, fn func() error) error {
	if m.redisClient == nil {
		return fn()
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	token := uuid.NewString()

	if err := m.acquire(ctx, key, token); err != nil {
		if errors.Is(err, ErrStateLocked) {
			m.log.WarnContext(ctx, "session lock already held", slog.Int64("user_id", userID))
		}
		return err
	}
	defer func() {
		// the caller's ctx may be done by now; the lock must still go
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, m.redisClient, []string{key}, token).Err(); err != nil {
			m.log.ErrorContext(ctx, "failed to release session lock", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}()

	return fn()
}

func (m *machine) acquire(ctx context.Context, key, token string) error {
	deadline := m.now().Add(lockWait)

	for {
		acquired, err := m.redisClient.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire session lock: %w", err)
		}
		if acquired {
			return nil
		}
		if !m.now().Before(deadline) {
			return ErrStateLocked
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
}
