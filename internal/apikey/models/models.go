// Package models holds the API key record and its permission semantics.
package models

import (
	"time"
)

// KeyLimit is the key-scoped budget, independent of the tenant-wide classes.
type KeyLimit struct {
	MaxRequests  int   `json:"max_requests"`
	WindowMillis int64 `json:"window_ms"`
}

func (l KeyLimit) Window() time.Duration {
	return time.Duration(l.WindowMillis) * time.Millisecond
}

// Key is the stored API key record. The secret itself is never stored, only
// its bcrypt hash; the plaintext is shown to the caller exactly once at
// issuance.
type Key struct {
	KeyID          string    `json:"key_id"`
	MunicipalityID string    `json:"municipality_id"`
	SecretHash     string    `json:"secret_hash"`
	Permissions    []string  `json:"permissions"`
	RateLimit      KeyLimit  `json:"rate_limit"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Covers reports whether the key's permission set includes every required
// entry. An empty requirement is always covered.
func (k *Key) Covers(required []string) bool {
	if len(required) == 0 {
		return true
	}
	granted := make(map[string]struct{}, len(k.Permissions))
	for _, p := range k.Permissions {
		granted[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := granted[r]; !ok {
			return false
		}
	}
	return true
}
