// Package registry holds the municipality profiles consulted on every
// request. Profiles change rarely (admin updates), so stores optimize for
// concurrent reads.
package registry

import (
	"context"
	"errors"
	"time"

	"kompetens/internal/tenant/models"
	dErrors "kompetens/pkg/domain-errors"
	"kompetens/pkg/platform/sentinel"
)

// Store is the municipality profile store.
type Store interface {
	// Find returns the profile for a municipality ID, or sentinel.ErrNotFound.
	Find(ctx context.Context, municipalityID string) (*models.Municipality, error)
	// Put inserts or replaces a profile.
	Put(ctx context.Context, m *models.Municipality) error
	// List returns all profiles.
	List(ctx context.Context) ([]*models.Municipality, error)
}

// Service wraps a Store with the domain rules: lookups validate the ID syntax
// first, and updates reject unknown municipalities instead of upserting.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Resolve returns the active profile for a syntactically valid municipality
// ID. Unknown and inactive municipalities both map to CodeNotFound so the
// resolver can emit a single 404 message.
func (s *Service) Resolve(ctx context.Context, municipalityID string) (*models.Municipality, error) {
	if err := models.ValidateMunicipalityID(municipalityID); err != nil {
		return nil, err
	}
	m, err := s.store.Find(ctx, municipalityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "Municipality not found or inactive")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "municipality lookup failed")
	}
	if !m.Active {
		return nil, dErrors.New(dErrors.CodeNotFound, "Municipality not found or inactive")
	}
	return m, nil
}

// Lookup returns the profile regardless of active status, for limit
// resolution and admin reads. Returns sentinel.ErrNotFound untranslated.
func (s *Service) Lookup(ctx context.Context, municipalityID string) (*models.Municipality, error) {
	if err := models.ValidateMunicipalityID(municipalityID); err != nil {
		return nil, err
	}
	return s.store.Find(ctx, municipalityID)
}

// Update applies a partial profile update. Unknown IDs are rejected; the
// admin endpoint never creates municipalities implicitly.
func (s *Service) Update(ctx context.Context, municipalityID string, update models.ProfileUpdate, now time.Time) (*models.Municipality, error) {
	if err := models.ValidateMunicipalityID(municipalityID); err != nil {
		return nil, err
	}
	m, err := s.store.Find(ctx, municipalityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "Municipality not found or inactive")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "municipality lookup failed")
	}
	if err := m.Apply(update, now); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, m); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "municipality update failed")
	}
	return m, nil
}

// Register inserts a new profile. Used by seeding and provisioning flows.
func (s *Service) Register(ctx context.Context, m *models.Municipality) error {
	if _, err := s.store.Find(ctx, m.ID); err == nil {
		return dErrors.New(dErrors.CodeConflict, "municipality already registered")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "municipality lookup failed")
	}
	if err := s.store.Put(ctx, m); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "municipality registration failed")
	}
	return nil
}

// List returns all registered profiles.
func (s *Service) List(ctx context.Context) ([]*models.Municipality, error) {
	return s.store.List(ctx)
}
