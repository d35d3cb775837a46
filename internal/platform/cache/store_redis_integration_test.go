//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kompetens/pkg/platform/sentinel"
	"kompetens/pkg/testutil/containers"
)

func TestRedisStore_KeyValue(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := NewRedisStore(rc.Client)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, store.SetWithTTL(ctx, "tenant:malmo_stad:course:1", "go-basics", time.Minute))
	val, err := store.Get(ctx, "tenant:malmo_stad:course:1")
	require.NoError(t, err)
	require.Equal(t, "go-basics", val)

	ttl, err := store.TTL(ctx, "tenant:malmo_stad:course:1")
	require.NoError(t, err)
	require.Greater(t, ttl, 50*time.Second)

	keys, err := store.Keys(ctx, "tenant:malmo_stad:*")
	require.NoError(t, err)
	require.Equal(t, []string{"tenant:malmo_stad:course:1"}, keys)

	n, err := store.Delete(ctx, "tenant:malmo_stad:course:1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRedisStore_SortedSet(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := NewRedisStore(rc.Client)
	ctx := context.Background()

	key := "api:malmo_stad:10.0.0.1"
	base := float64(time.Now().UnixMilli())
	for i := 0; i < 10; i++ {
		require.NoError(t, store.ZAdd(ctx, key, Member{Score: base + float64(i), Member: string(rune('a' + i))}))
	}

	count, err := store.ZCard(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(10), count)

	removed, err := store.ZRemRangeByScore(ctx, key, 0, base+4)
	require.NoError(t, err)
	require.Equal(t, int64(5), removed)

	members, err := store.ZRangeWithScores(ctx, key, 0, 0)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, base+5, members[0].Score)
}
