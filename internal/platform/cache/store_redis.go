package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kompetens/pkg/platform/sentinel"
)

// RedisStore is the production Store backed by a shared Redis deployment.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing client; the client lifecycle is managed by
// the caller.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", wrapUnavailable("get", err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return wrapUnavailable("set", err)
	}
	return nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapUnavailable("setex", err)
	}
	return nil
}

func (s *RedisStore) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapUnavailable("mget", err)
	}
	out := make(map[string]string, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

// Keys iterates with SCAN rather than the blocking KEYS command; the store is
// shared across every tenant and must not be stalled by one bulk operation.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, wrapUnavailable("scan", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, wrapUnavailable("del", err)
	}
	return n, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrapUnavailable("ttl", err)
	}
	// go-redis surfaces the protocol's -2 (missing key) and -1 (no expiry)
	// as raw negative durations.
	switch {
	case d == time.Duration(-2):
		return 0, sentinel.ErrNotFound
	case d == time.Duration(-1):
		return 0, nil
	default:
		return d, nil
	}
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return wrapUnavailable("expire", err)
	}
	return nil
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, member Member) error {
	err := s.client.ZAdd(ctx, key, redis.Z{Score: member.Score, Member: member.Member}).Err()
	if err != nil {
		return wrapUnavailable("zadd", err)
	}
	return nil
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapUnavailable("zcard", err)
	}
	return n, nil
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := s.client.ZRemRangeByScore(ctx, key,
		formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, wrapUnavailable("zremrangebyscore", err)
	}
	return n, nil
}

func (s *RedisStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	zs, err := s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrapUnavailable("zrange", err)
	}
	out := make([]Member, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, Member{Score: z.Score, Member: member})
	}
	return out, nil
}

func formatScore(f float64) string {
	return fmt.Sprintf("%f", f)
}

func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, sentinel.ErrUnavailable, err)
}
