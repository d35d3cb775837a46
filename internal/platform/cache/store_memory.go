package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"kompetens/pkg/platform/sentinel"
)

// MemoryStore is an in-process Store for unit tests and single-node
// development. It honors TTLs lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memoryValue
	zsets   map[string]map[string]float64
	expires map[string]time.Time
	clock   func() time.Time
}

type memoryValue struct {
	value string
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock injects a clock so tests can advance simulated time across TTLs.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		values:  make(map[string]memoryValue),
		zsets:   make(map[string]map[string]float64),
		expires: make(map[string]time.Time),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	v, ok := s.values[key]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return v.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memoryValue{value: value}
	delete(s.expires, key)
	return nil
}

func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memoryValue{value: value}
	s.expires[key] = s.clock().Add(ttl)
	return nil
}

func (s *MemoryStore) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		s.purge(key)
		if v, ok := s.values[key]; ok {
			out[key] = v.value
		}
	}
	return out, nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.values {
		s.purge(key)
		if _, ok := s.values[key]; ok && matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, key := range keys {
		s.purge(key)
		_, hasValue := s.values[key]
		_, hasZSet := s.zsets[key]
		if !hasValue && !hasZSet {
			continue
		}
		// One key, one count, as with DEL.
		delete(s.values, key)
		delete(s.zsets, key)
		delete(s.expires, key)
		n++
	}
	return n, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	_, hasValue := s.values[key]
	_, hasZSet := s.zsets[key]
	if !hasValue && !hasZSet {
		return 0, sentinel.ErrNotFound
	}
	deadline, ok := s.expires[key]
	if !ok {
		return 0, nil
	}
	return deadline.Sub(s.clock()), nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	_, hasValue := s.values[key]
	_, hasZSet := s.zsets[key]
	if hasValue || hasZSet {
		s.expires[key] = s.clock().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, member Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	set, ok := s.zsets[key]
	if !ok {
		set = make(map[string]float64)
		s.zsets[key] = set
	}
	set[member.Member] = member.Score
	return nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	return int64(len(s.zsets[key])), nil
}

func (s *MemoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	set := s.zsets[key]
	var n int64
	for member, score := range set {
		if score >= min && score <= max {
			delete(set, member)
			n++
		}
	}
	if len(set) == 0 {
		delete(s.zsets, key)
	}
	return n, nil
}

func (s *MemoryStore) ZRangeWithScores(_ context.Context, key string, start, stop int64) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	set := s.zsets[key]
	members := make([]Member, 0, len(set))
	for member, score := range set {
		members = append(members, Member{Score: score, Member: member})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score == members[j].Score {
			return members[i].Member < members[j].Member
		}
		return members[i].Score < members[j].Score
	})

	n := int64(len(members))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	return members[start : stop+1], nil
}

// purge drops the key if its TTL has elapsed. Caller must hold the mutex.
func (s *MemoryStore) purge(key string) {
	deadline, ok := s.expires[key]
	if !ok {
		return
	}
	if !s.clock().Before(deadline) {
		delete(s.values, key)
		delete(s.zsets, key)
		delete(s.expires, key)
	}
}

// matchPattern supports the '*' glob subset used by the namespace layer.
func matchPattern(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(key, part)
		if idx < 0 {
			return false
		}
		key = key[idx+len(part):]
	}
	return strings.HasSuffix(key, parts[len(parts)-1])
}
