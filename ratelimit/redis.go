package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter stores each window as a sorted set scored by event time, so
// every service instance shares the same counts.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (r *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

func (r *RedisLimiter) Hit(ctx context.Context, key string, window time.Duration) error {
	k := r.key(key)
	now := r.now()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", cutoff(now, window))
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratelimit: hit %s: %w", k, err)
	}
	return nil
}

func (r *RedisLimiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	k := r.key(key)
	n, err := r.client.ZCount(ctx, k, "("+cutoff(r.now(), window), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: count %s: %w", k, err)
	}
	return int(n), nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := r.key(key)
	now := r.now()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", cutoff(now, window))
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("ratelimit: allow %s: %w", k, err)
	}
	return card.Val() <= int64(limit), nil
}

func cutoff(now time.Time, window time.Duration) string {
	return strconv.FormatInt(now.Add(-window).UnixNano(), 10)
}
