package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and cache layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity or key does not exist in store
// - ErrConflict: uniqueness or state conflict in store
// - ErrExpired: entry TTL has elapsed
// - ErrUnavailable: cache store or broker temporarily unreachable
//
// For validation errors (bad input, malformed tenant IDs), use
// pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrExpired     = errors.New("expired")
	ErrUnavailable = errors.New("unavailable")
)
