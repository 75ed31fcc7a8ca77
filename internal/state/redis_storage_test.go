package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStorage_SetAndGet(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	storage := NewRedisStorage(client, testLogger())
	ctx := context.Background()

	userState := &UserState{
		UserID:       123,
		CurrentState: StateAvatarUploading,
		Context:      map[string]any{KeyAvatarID: int64(9), KeyAvatarName: "Anna"},
	}

	require.NoError(t, storage.SetState(ctx, userState.UserID, userState))

	result, err := storage.GetState(ctx, userState.UserID)
	require.NoError(t, err)
	assert.Equal(t, StateAvatarUploading, result.CurrentState)
	assert.Equal(t, "Anna", result.String(KeyAvatarName))

	avatarID, ok := result.Int64(KeyAvatarID)
	assert.True(t, ok)
	assert.Equal(t, int64(9), avatarID)
	assert.False(t, result.UpdatedAt.IsZero())
}

func TestRedisStorage_GetNotFound(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	storage := NewRedisStorage(client, testLogger())

	st, err := storage.GetState(context.Background(), 999)
	assert.Nil(t, st)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStorage_ClearState(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	storage := NewRedisStorage(client, testLogger())
	ctx := context.Background()

	require.NoError(t, storage.SetState(ctx, 456, &UserState{UserID: 456, CurrentState: StateEnteringPrompt}))
	require.NoError(t, storage.ClearState(ctx, 456))

	_, err := storage.GetState(ctx, 456)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStorage_GetAllStates(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	storage := NewRedisStorage(client, testLogger())
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, storage.SetState(ctx, id, &UserState{UserID: id, CurrentState: StateChoosingAvatar}))
	}
	require.NoError(t, client.Set(ctx, "session:state:broken", "{", 0).Err())

	states, err := storage.GetAllStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 3)
}
