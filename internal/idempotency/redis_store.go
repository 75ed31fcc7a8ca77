package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"

	keyPrefix  = "photostudio:idem:"
	lockSuffix = ":lock"
)

// Record is the stored outcome of an idempotent operation.
type Record struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Store keeps locks and completed records for Manager.
type Store interface {
	Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, record *Record, ttl time.Duration) error
	ReleaseLock(ctx context.Context, key string) error
}

// RedisStore keeps records as JSON strings next to a short-lived lock key.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisStore(client *redis.Client, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, log: log}
}

// Lock stores the acquisition time so a stuck lock can be told apart in redis-cli.
func (s *RedisStore) Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	ok, err := s.client.SetNX(ctx, keyPrefix+key+lockSuffix, stamp, lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency lock %q: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("idempotency get %q: %w", key, err)
	}

	rec := &Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		s.log.WarnContext(ctx, "ignoring unreadable idempotency record", slog.String("key", key), slog.Any("error", err))
		return nil, nil
	}
	return rec, nil
}

// Set writes the record and drops the lock in one MULTI block, so a reader
// never sees the lock gone without the record present.
func (s *RedisStore) Set(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	if record == nil {
		return nil
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency encode %q: %w", key, err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, keyPrefix+key, raw, ttl)
		p.Del(ctx, keyPrefix+key+lockSuffix)
		return nil
	})
	if err != nil {
		return fmt.Errorf("idempotency set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key+lockSuffix).Err(); err != nil {
		return fmt.Errorf("idempotency unlock %q: %w", key, err)
	}
	return nil
}
