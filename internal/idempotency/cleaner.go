package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Cleaner removes idempotency keys that lost their expiry, such as locks
// written by older deployments.
type Cleaner struct {
	client   *redis.Client
	log      *slog.Logger
	interval time.Duration
	maxTTL   time.Duration
}

func NewCleaner(client *redis.Client, log *slog.Logger, interval, maxTTL time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{client: client, log: log, interval: interval, maxTTL: maxTTL}
}

func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.client == nil || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Cleanup(ctx); n > 0 {
				c.log.Info("idempotency keys removed", slog.Int("count", n))
			}
		}
	}
}

// Cleanup deletes keys without a TTL or with one longer than maxTTL and
// returns how many were removed. TTLs are fetched one pipeline per batch.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	removed := 0
	batch := make([]string, 0, scanBatch)

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			removed += c.sweep(ctx, batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Error("idempotency cleaner scan failed", slog.Any("error", err))
	}
	if len(batch) > 0 {
		removed += c.sweep(ctx, batch)
	}
	return removed
}

func (c *Cleaner) sweep(ctx context.Context, keys []string) int {
	ttls := make([]*redis.DurationCmd, len(keys))
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, key := range keys {
			ttls[i] = p.TTL(ctx, key)
		}
		return nil
	})
	if err != nil {
		c.log.Warn("idempotency cleaner ttl lookup failed", slog.Any("error", err))
		return 0
	}

	var stale []string
	for i, cmd := range ttls {
		ttl := cmd.Val()
		// -1 means no expiry; -2 means the key vanished after SCAN
		if ttl == -1 || ttl > c.maxTTL {
			stale = append(stale, keys[i])
		}
	}
	if len(stale) == 0 {
		return 0
	}

	n, err := c.client.Del(ctx, stale...).Result()
	if err != nil {
		c.log.Warn("failed to delete stale idempotency keys", slog.Int("count", len(stale)), slog.Any("error", err))
		return 0
	}
	return int(n)
}
