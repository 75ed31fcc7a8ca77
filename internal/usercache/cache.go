// Package usercache caches user profiles in Redis.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/photostudio/internal/domain"
)

const (
	defaultTTL = 10 * time.Minute
	// bump when domain.User changes shape
	keyFormat = "photostudio:user:v1:%d"
)

// KV is the key/value subset of the instrumented Redis client.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Loader reads a user from the source of truth.
type Loader func(ctx context.Context, userID int64) (*domain.User, error)

// Cache keeps users by internal id. A nil Cache is a valid no-op cache.
type Cache struct {
	kv  KV
	ttl time.Duration
}

func NewCache(kv KV, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{kv: kv, ttl: ttl}
}

// Get returns nil, nil on a miss. An entry that no longer decodes counts as a
// miss and is dropped.
func (c *Cache) Get(ctx context.Context, userID int64) (*domain.User, error) {
	if c == nil || c.kv == nil {
		return nil, nil
	}

	raw, err := c.kv.Get(ctx, key(userID))
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("usercache get %d: %w", userID, err)
	}

	u := &domain.User{}
	if err := json.Unmarshal([]byte(raw), u); err != nil {
		_ = c.kv.Delete(ctx, key(userID))
		return nil, nil
	}
	return u, nil
}

// Fetch is a read-through Get. Cache failures are reported through onErr and
// never fail the call; load errors are returned as is.
func (c *Cache) Fetch(ctx context.Context, userID int64, load Loader, onErr func(error)) (*domain.User, error) {
	if onErr == nil {
		onErr = func(error) {}
	}

	u, err := c.Get(ctx, userID)
	if err != nil {
		onErr(err)
	} else if u != nil {
		return u, nil
	}

	u, err = load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, u); err != nil {
		onErr(err)
	}
	return u, nil
}

func (c *Cache) Set(ctx context.Context, u *domain.User) error {
	if c == nil || c.kv == nil || u == nil {
		return nil
	}

	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("usercache encode %d: %w", u.ID, err)
	}
	if err := c.kv.Set(ctx, key(u.ID), raw, c.ttl); err != nil {
		return fmt.Errorf("usercache set %d: %w", u.ID, err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.kv == nil {
		return nil
	}
	if err := c.kv.Delete(ctx, key(userID)); err != nil {
		return fmt.Errorf("usercache delete %d: %w", userID, err)
	}
	return nil
}

func key(userID int64) string {
	return fmt.Sprintf(keyFormat, userID)
}
