package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindows keeps the shared window counters in redis. INCR is atomic
// across instances; the key's TTL is the window, so elapsed windows reset by
// expiring.
type RedisWindows struct {
	Client *redis.Client
	Prefix string
}

func NewRedisWindows(addr string) *RedisWindows {
	return &RedisWindows{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Prefix: "postflow:rate:",
	}
}

func (r *RedisWindows) Acquire(ctx context.Context, platform string, window time.Duration, capacity int, now time.Time) (bool, int, error) {
	key := r.Prefix + platform
	n, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := r.Client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if int(n) > capacity {
		return false, int(n), nil
	}
	return true, int(n), nil
}
