package models

import (
	"regexp"
	"time"

	dErrors "kompetens/pkg/domain-errors"
)

// Municipality is the profile for a tenant government entity. Profiles are
// created at configuration load or through the admin update endpoint, and read
// on every request to resolve limits.
//
// Invariants:
//   - ID matches municipalityIDPattern and never changes
//   - RateLimits and DDoSThreshold are positive
//   - An inactive municipality rejects all requests at the context resolver
type Municipality struct {
	ID            string        `json:"id"`
	DisplayName   string        `json:"display_name"`
	Tier          Tier          `json:"tier"`
	RateLimits    RateLimits    `json:"rate_limits"`
	DDoSThreshold int           `json:"ddos_threshold"`
	DDoSWindow    time.Duration `json:"ddos_window"`
	Active        bool          `json:"active"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Tier influences the default budgets assigned at seed time. It does not
// change enforcement semantics, only the numbers.
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
)

// RateLimits holds the per-window request budgets by limit class.
type RateLimits struct {
	API        int `json:"api"`
	Validation int `json:"validation"`
}

// Context is the resolved tenant descriptor attached to a request. It is
// never persisted.
type Context struct {
	MunicipalityID   string
	MunicipalityName string
}

// municipalityIDPattern is enforced both at the HTTP boundary and again at
// the storage layer, so internal callers cannot smuggle a malformed ID into a
// cache key.
var municipalityIDPattern = regexp.MustCompile(`^[a-z0-9_]{3,50}$`)

// ValidateMunicipalityID checks the tenant identifier syntax: lowercase
// alphanumerics and underscores, 3-50 characters.
func ValidateMunicipalityID(id string) error {
	if id == "" {
		return dErrors.New(dErrors.CodeContextMissing, "Municipality context required")
	}
	if !municipalityIDPattern.MatchString(id) {
		return dErrors.New(dErrors.CodeInvalidInput, "Invalid municipality ID format")
	}
	return nil
}

// NewMunicipality creates a profile with invariant validation.
func NewMunicipality(id, displayName string, tier Tier, limits RateLimits, ddosThreshold int, ddosWindow time.Duration, now time.Time) (*Municipality, error) {
	if err := ValidateMunicipalityID(id); err != nil {
		return nil, err
	}
	if displayName == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "display name cannot be empty")
	}
	if limits.API <= 0 || limits.Validation <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "rate limits must be positive")
	}
	if ddosThreshold <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ddos threshold must be positive")
	}
	if ddosWindow <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ddos window must be positive")
	}
	return &Municipality{
		ID:            id,
		DisplayName:   displayName,
		Tier:          tier,
		RateLimits:    limits,
		DDoSThreshold: ddosThreshold,
		DDoSWindow:    ddosWindow,
		Active:        true,
		UpdatedAt:     now,
	}, nil
}

// ProfileUpdate carries the mutable fields of a municipality profile. Nil
// fields are left unchanged.
type ProfileUpdate struct {
	DisplayName       *string     `json:"display_name,omitempty"`
	Tier              *Tier       `json:"tier,omitempty"`
	RateLimits        *RateLimits `json:"rate_limits,omitempty"`
	DDoSThreshold     *int        `json:"ddos_threshold,omitempty"`
	DDoSWindowSeconds *int        `json:"ddos_window_seconds,omitempty"`
	Active            *bool       `json:"active,omitempty"`
}

// Apply validates and applies the update to the profile.
func (m *Municipality) Apply(update ProfileUpdate, now time.Time) error {
	if update.DisplayName != nil {
		if *update.DisplayName == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "display name cannot be empty")
		}
		m.DisplayName = *update.DisplayName
	}
	if update.Tier != nil {
		m.Tier = *update.Tier
	}
	if update.RateLimits != nil {
		if update.RateLimits.API <= 0 || update.RateLimits.Validation <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "rate limits must be positive")
		}
		m.RateLimits = *update.RateLimits
	}
	if update.DDoSThreshold != nil {
		if *update.DDoSThreshold <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "ddos threshold must be positive")
		}
		m.DDoSThreshold = *update.DDoSThreshold
	}
	if update.DDoSWindowSeconds != nil {
		if *update.DDoSWindowSeconds <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "ddos window must be positive")
		}
		m.DDoSWindow = time.Duration(*update.DDoSWindowSeconds) * time.Second
	}
	if update.Active != nil {
		m.Active = *update.Active
	}
	m.UpdatedAt = now
	return nil
}
