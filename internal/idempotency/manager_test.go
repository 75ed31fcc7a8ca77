package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestManagerExecutesOnce(t *testing.T) {
	_, client := newRedis(t)
	m := NewManager(NewRedisStore(client, nil), nil)
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (any, error) {
		calls++
		return map[string]int{"calls": calls}, nil
	}

	first, err := m.Execute(ctx, "update:1", time.Hour, op)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := m.Execute(ctx, "update:1", time.Hour, op)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.JSONEq(t, `{"calls":1}`, string(second.Response))
	assert.Equal(t, 1, calls)
}

func TestManagerFailureAllowsRetry(t *testing.T) {
	_, client := newRedis(t)
	m := NewManager(NewRedisStore(client, nil), nil)
	ctx := context.Background()

	_, err := m.Execute(ctx, "update:2", time.Hour, func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	res, err := m.Execute(ctx, "update:2", time.Hour, func(context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
}

func TestManagerInProgress(t *testing.T) {
	_, client := newRedis(t)
	store := NewRedisStore(client, nil)
	m := NewManager(store, nil)
	ctx := context.Background()

	locked, err := store.Lock(ctx, "update:3", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = m.Execute(ctx, "update:3", time.Hour, func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

func TestRedisStoreSetDropsLock(t *testing.T) {
	mr, client := newRedis(t)
	store := NewRedisStore(client, nil)
	ctx := context.Background()

	locked, err := store.Lock(ctx, "update:4", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)
	require.True(t, mr.Exists(keyPrefix+"update:4"+lockSuffix))

	require.NoError(t, store.Set(ctx, "update:4", &Record{Status: StatusCompleted, Response: []byte(`"ok"`)}, time.Hour))
	assert.False(t, mr.Exists(keyPrefix+"update:4"+lockSuffix))

	rec, err := store.Get(ctx, "update:4")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.JSONEq(t, `"ok"`, string(rec.Response))
}

func TestRedisStoreIgnoresUnreadableRecord(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	require.NoError(t, client.Set(ctx, keyPrefix+"update:5", "{not json", time.Hour).Err())

	rec, err := NewRedisStore(client, nil).Get(ctx, "update:5")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCleanerRemovesKeysWithoutTTL(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, keyPrefix+"orphan", "x", 0).Err())
	require.NoError(t, client.Set(ctx, keyPrefix+"fresh", "x", time.Hour).Err())
	require.NoError(t, client.Set(ctx, "other", "x", 0).Err())

	removed := NewCleaner(client, nil, time.Minute, 25*time.Hour).Cleanup(ctx)
	assert.Equal(t, 1, removed)
	assert.False(t, mr.Exists(keyPrefix+"orphan"))
	assert.True(t, mr.Exists(keyPrefix+"fresh"))
	assert.True(t, mr.Exists("other"))
}

func TestGenerateKeyDeterministic(t *testing.T) {
	assert.Equal(t, GenerateKey("msg", 1, 2), GenerateKey("msg", 1, 2))
	assert.NotEqual(t, GenerateKey("msg", 1, 2), GenerateKey("msg", 2, 1))
	assert.NotEqual(t, GenerateKey("cb:", "1"), GenerateKey("cb", ":1"))
	assert.Len(t, GenerateKey("telegram", "msg:1:2"), 64)
}
