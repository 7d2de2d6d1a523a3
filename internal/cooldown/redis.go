package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyFormat = "%s:cooldown:%s:%s"

// RedisTracker keeps cooldown entries in Redis so several bot processes can
// share one keyspace. Entries expire server-side, so Sweep has nothing to do.
type RedisTracker struct {
	rdb    redis.Cmdable
	name   string
	prefix string
	window time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cooldown: redis ping: %w", err)
	}
	return client, nil
}

// NewRedisTracker creates a tracker over rdb for one keyspace.
func NewRedisTracker(rdb redis.Cmdable, prefix, name string, window time.Duration) *RedisTracker {
	return &RedisTracker{rdb: rdb, name: name, prefix: prefix, window: window}
}

// CheckAndMark sets the key only if absent, with the window as its TTL.
// When the key exists its remaining TTL is the wait.
func (r *RedisTracker) CheckAndMark(ctx context.Context, key string) (bool, time.Duration, error) {
	k := fmt.Sprintf(keyFormat, r.prefix, r.name, key)

	ok, err := r.rdb.SetNX(ctx, k, time.Now().UnixMilli(), r.window).Result()
	if err != nil {
		return false, 0, fmt.Errorf("cooldown: setnx %s: %w", k, err)
	}
	if ok {
		return true, 0, nil
	}

	ttl, err := r.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("cooldown: pttl %s: %w", k, err)
	}
	if ttl <= 0 {
		// Expired between the two calls, or was stored without a TTL.
		if err := r.rdb.Set(ctx, k, time.Now().UnixMilli(), r.window).Err(); err != nil {
			return false, 0, fmt.Errorf("cooldown: set %s: %w", k, err)
		}
		return true, 0, nil
	}
	return false, ttl, nil
}

// Sweep is a no-op; Redis expires entries itself.
func (r *RedisTracker) Sweep(time.Time) int { return 0 }

// Name identifies the keyspace in logs and metrics.
func (r *RedisTracker) Name() string { return r.name }

// Window returns the configured window.
func (r *RedisTracker) Window() time.Duration { return r.window }
