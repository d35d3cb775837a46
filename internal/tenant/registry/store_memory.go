package registry

import (
	"context"
	"sort"
	"sync"

	"kompetens/internal/tenant/models"
	"kompetens/pkg/platform/sentinel"
)

// MemoryStore is an in-process profile store for tests and single-node
// development.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]models.Municipality
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]models.Municipality)}
}

func (s *MemoryStore) Find(_ context.Context, municipalityID string) (*models.Municipality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.profiles[municipalityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	found := m
	return &found, nil
}

func (s *MemoryStore) Put(_ context.Context, m *models.Municipality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[m.ID] = *m
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.Municipality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Municipality, 0, len(s.profiles))
	for _, m := range s.profiles {
		m := m
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
