package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ledgerlens/backend/internal/cache"
)

// RedisStore keeps usage counters in Redis: plain counters for calendar
// periods, sorted sets (timestamp-scored members) for sliding periods.
type RedisStore struct {
	cache *cache.Redis
}

// NewRedisStore creates a Redis-backed usage store.
func NewRedisStore(c *cache.Redis) *RedisStore {
	return &RedisStore{cache: c}
}

// Get returns the counter at key, 0 if absent.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.cache.Get(ctx, key)
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage counter: %w", err)
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt usage counter %q: %w", key, err)
	}
	return count, nil
}

// Incr increments the counter at key, setting the TTL on first creation.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage counter: %w", err)
	}
	if count == 1 {
		if err := s.cache.Expire(ctx, key, ttl); err != nil {
			// Non-fatal: the key stays countable, Redis reclaims it under
			// memory pressure.
			return count, nil
		}
	}
	return count, nil
}

// AddTimestamp records one occurrence scored by its microsecond timestamp.
func (s *RedisStore) AddTimestamp(ctx context.Context, key string, ts time.Time, retain time.Duration) error {
	micros := ts.UnixMicro()
	client := s.cache.Client()

	pipe := client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(micros),
		Member: slidingMember(micros),
	})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(ts.Add(-retain).UnixMicro(), 10))
	pipe.Expire(ctx, key, retain+time.Second)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to record usage timestamp: %w", err)
	}
	return nil
}

// slidingMember builds a unique sorted-set member. The timestamp alone is
// not enough: ZAdd re-scores an existing member, so two usages recorded in
// the same microsecond would collapse into one and undercount the quota.
func slidingMember(micros int64) string {
	return strconv.FormatInt(micros, 10) + ":" + uuid.NewString()
}

// CountSince counts occurrences at or after since.
func (s *RedisStore) CountSince(ctx context.Context, key string, since time.Time) (int64, error) {
	count, err := s.cache.Client().ZCount(ctx, key, strconv.FormatInt(since.UnixMicro(), 10), "+inf").Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return count, nil
}
