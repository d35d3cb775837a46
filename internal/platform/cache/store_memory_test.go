package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kompetens/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
	now   time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.now = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	s.store = NewMemoryStore(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *MemoryStoreSuite) TestGetSet() {
	_, err := s.store.Get(s.ctx, "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.Set(s.ctx, "k", "v"))
	val, err := s.store.Get(s.ctx, "k")
	s.Require().NoError(err)
	s.Equal("v", val)
}

func (s *MemoryStoreSuite) TestTTLExpiry() {
	s.Require().NoError(s.store.SetWithTTL(s.ctx, "k", "v", time.Minute))

	ttl, err := s.store.TTL(s.ctx, "k")
	s.Require().NoError(err)
	s.Equal(time.Minute, ttl)

	s.advance(61 * time.Second)
	_, err = s.store.Get(s.ctx, "k")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.TTL(s.ctx, "k")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestMGet() {
	s.Require().NoError(s.store.Set(s.ctx, "a", "1"))
	s.Require().NoError(s.store.Set(s.ctx, "b", "2"))

	vals, err := s.store.MGet(s.ctx, "a", "b", "c")
	s.Require().NoError(err)
	s.Equal(map[string]string{"a": "1", "b": "2"}, vals)
}

func (s *MemoryStoreSuite) TestKeysPattern() {
	s.Require().NoError(s.store.Set(s.ctx, "tenant:malmo_stad:course:1", "x"))
	s.Require().NoError(s.store.Set(s.ctx, "tenant:malmo_stad:course:2", "y"))
	s.Require().NoError(s.store.Set(s.ctx, "tenant:lund_kommun:course:1", "z"))

	keys, err := s.store.Keys(s.ctx, "tenant:malmo_stad:*")
	s.Require().NoError(err)
	s.Equal([]string{"tenant:malmo_stad:course:1", "tenant:malmo_stad:course:2"}, keys)
}

func (s *MemoryStoreSuite) TestDeleteCounts() {
	s.Require().NoError(s.store.Set(s.ctx, "a", "1"))
	s.Require().NoError(s.store.Set(s.ctx, "b", "2"))

	n, err := s.store.Delete(s.ctx, "a", "b", "missing")
	s.Require().NoError(err)
	s.Equal(int64(2), n)
}

func (s *MemoryStoreSuite) TestDeleteCountsKeyWithValueAndZSetOnce() {
	s.Require().NoError(s.store.Set(s.ctx, "k", "v"))
	s.Require().NoError(s.store.ZAdd(s.ctx, "k", Member{Score: 1, Member: "m"}))

	n, err := s.store.Delete(s.ctx, "k")
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	_, err = s.store.Get(s.ctx, "k")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	count, err := s.store.ZCard(s.ctx, "k")
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *MemoryStoreSuite) TestSortedSetWindow() {
	key := "api:malmo_stad:10.0.0.1"
	for i := 0; i < 5; i++ {
		err := s.store.ZAdd(s.ctx, key, Member{Score: float64(i), Member: string(rune('a' + i))})
		s.Require().NoError(err)
	}

	count, err := s.store.ZCard(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(int64(5), count)

	removed, err := s.store.ZRemRangeByScore(s.ctx, key, 0, 2)
	s.Require().NoError(err)
	s.Equal(int64(3), removed)

	members, err := s.store.ZRangeWithScores(s.ctx, key, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(members, 1)
	s.Equal(float64(3), members[0].Score)
}

func (s *MemoryStoreSuite) TestZSetHonorsExpire() {
	key := "api:malmo_stad:10.0.0.1"
	s.Require().NoError(s.store.ZAdd(s.ctx, key, Member{Score: 1, Member: "a"}))
	s.Require().NoError(s.store.Expire(s.ctx, key, time.Minute))

	s.advance(2 * time.Minute)
	count, err := s.store.ZCard(s.ctx, key)
	s.Require().NoError(err)
	s.Zero(count)
}
