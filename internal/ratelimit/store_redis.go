package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per client key, one field per sub-window.
// Field TTLs (HEXPIRE NX) bound the hash to O(window/subwindow) entries.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Counts(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counts[field] = n
	}
	return counts, nil
}

func (s *RedisStore) Incr(ctx context.Context, key, field string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.HExpireWithArgs(ctx, key, ttl, redis.HExpireArgs{NX: true}, field)
	_, err := pipe.Exec(ctx)
	return err
}
