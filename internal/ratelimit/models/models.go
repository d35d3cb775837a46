package models

import (
	"fmt"
	"strings"
	"time"
)

// Class categorizes traffic for differentiated rate limiting. Each class has
// its own per-tenant budget.
type Class string

const (
	// ClassAPI: general API traffic, limited per municipality profile.
	ClassAPI Class = "api"
	// ClassValidation: content-validation endpoints, a costlier operation
	// with a tighter budget.
	ClassValidation Class = "validation"
	// ClassDevTeam: API-key-scoped usage; identity is the key ID and the
	// budget comes from the key record, not the municipality profile.
	ClassDevTeam Class = "devteam"
)

// IsValid checks if the class is one of the supported enum values.
func (c Class) IsValid() bool {
	switch c {
	case ClassAPI, ClassValidation, ClassDevTeam:
		return true
	}
	return false
}

// Limit is a request budget over a sliding window.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// Result represents the outcome of a rate limit check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"-"`
	// FailedOpen marks a decision taken while the cache store was
	// unreachable. The request was admitted without counting.
	FailedOpen bool `json:"-"`
}

// WindowKey builds the sorted-set key for a (class, tenant, identity) window.
// Format: {limitClass}:{municipalityId}:{identity}.
func WindowKey(class Class, municipalityID, identity string) string {
	return fmt.Sprintf("%s:%s:%s", class, SanitizeKeySegment(municipalityID), SanitizeKeySegment(identity))
}

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers
// containing ':' could manipulate adjacent rate limit buckets.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
