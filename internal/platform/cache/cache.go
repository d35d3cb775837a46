//go:generate mockgen -source=cache.go -destination=mocks/mocks.go -package=mocks Store

// Package cache defines the distributed cache store boundary. All admission
// state (rate windows, DDoS blocks, tenant namespaces, key metadata) lives
// behind this interface; nothing is held in process memory, so correctness
// under concurrency comes from the store's per-key atomicity.
package cache

import (
	"context"
	"time"
)

// Member is a scored sorted-set entry.
type Member struct {
	Score  float64
	Member string
}

// Store is the external cache collaborator. Implementations return
// sentinel.ErrNotFound for missing keys and wrap connectivity failures in
// sentinel.ErrUnavailable so callers can choose fail-open or fail-closed.
type Store interface {
	// Key-value operations.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Sorted-set operations backing the sliding windows.
	ZAdd(ctx context.Context, key string, member Member) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error)
}
