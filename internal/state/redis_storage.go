package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userStateKeyPattern  = "session:state:%d"
	userStateScanPattern = "session:state:*"
	stateTTL             = 24 * time.Hour
	scanBatch            = 100
)

// RedisStorage persists conversation states in Redis with a sliding TTL.
type RedisStorage struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisStorage initializes a Redis-backed Storage implementation.
func NewRedisStorage(client *redis.Client, log *slog.Logger) *RedisStorage {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStorage{client: client, log: log}
}

// GetState returns the stored user state or ErrStateNotFound when absent.
func (s *RedisStorage) GetState(ctx context.Context, userID int64) (*UserState, error) {
	data, err := s.client.Get(ctx, stateKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", userID, err)
	}

	var st UserState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", userID, err)
	}

	return &st, nil
}

// SetState saves the provided user state and refreshes its TTL.
func (s *RedisStorage) SetState(ctx context.Context, userID int64, st *UserState) error {
	st.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", userID, err)
	}

	if err := s.client.Set(ctx, stateKey(userID), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("save session %d: %w", userID, err)
	}

	return nil
}

// ClearState removes the stored state for the given user.
func (s *RedisStorage) ClearState(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, stateKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear session %d: %w", userID, err)
	}

	return nil
}

// GetAllStates scans session keys and loads them in MGET batches.
func (s *RedisStorage) GetAllStates(ctx context.Context) ([]*UserState, error) {
	var (
		cursor uint64
		result []*UserState
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, userStateScanPattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}

		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("load sessions: %w", err)
			}

			for i, raw := range values {
				str, ok := raw.(string)
				if !ok {
					continue
				}

				var st UserState
				if err := json.Unmarshal([]byte(str), &st); err != nil {
					s.log.Warn("skipping malformed session", slog.String("key", keys[i]), slog.Any("error", err))
					continue
				}
				result = append(result, &st)
			}
		}

		cursor = next
		if cursor == 0 {
			return result, nil
		}
	}
}

func stateKey(userID int64) string {
	return fmt.Sprintf(userStateKeyPattern, userID)
}
