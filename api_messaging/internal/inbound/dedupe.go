package inbound

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"frameworks/pkg/redis"
)

// DefaultDedupeWindow is how long a provider event id is remembered.
const DefaultDedupeWindow = 24 * time.Hour

// Deduper remembers provider event ids that were already routed.
type Deduper interface {
	// Claim records key and reports whether it was new.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a redelivery can be routed again.
	Release(ctx context.Context, key string) error
}

// RedisDeduper keeps event ids as expiring Redis keys.
type RedisDeduper struct {
	client goredis.Cmdable
	window time.Duration
}

// NewRedisDeduper creates a deduper. A non-positive window uses DefaultDedupeWindow.
func NewRedisDeduper(client goredis.Cmdable, window time.Duration) *RedisDeduper {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &RedisDeduper{client: client, window: window}
}

func (d *RedisDeduper) key(k string) string {
	return redis.Key("inbound", k)
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(key), 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("claim event id: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.key(key)).Err(); err != nil {
		return fmt.Errorf("release event id: %w", err)
	}
	return nil
}
