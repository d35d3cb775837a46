// Package service implements API key issuance and authorization. Key records
// live in the owning municipality's cache namespace, so a key can never
// authorize a request for another tenant: the lookup itself is scoped.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kompetens/internal/apikey/models"
	"kompetens/internal/apikey/secrets"
	"kompetens/internal/audit"
	"kompetens/internal/monitoring"
	ratemodels "kompetens/internal/ratelimit/models"
	"kompetens/pkg/platform/sentinel"
	pstrings "kompetens/pkg/platform/strings"
	"kompetens/pkg/requestcontext"

	dErrors "kompetens/pkg/domain-errors"
)

const keyRecordPrefix = "apikey:"

// defaultKeyLimit applies when an issuance request does not set a budget.
var defaultKeyLimit = models.KeyLimit{MaxRequests: 60, WindowMillis: 60_000}

// KeyStore is the slice of the tenant namespace service used for key records.
type KeyStore interface {
	Get(ctx context.Context, municipalityID, key string) (string, error)
	Set(ctx context.Context, municipalityID, key, value string) error
}

// Limiter enforces the key-scoped budget through the shared sliding window.
type Limiter interface {
	CheckAndRecordLimit(ctx context.Context, class ratemodels.Class, municipalityID, identity string, limit ratemodels.Limit) (*ratemodels.Result, error)
}

type Service struct {
	store   KeyStore
	limiter Limiter
	auditor audit.Publisher
	sink    monitoring.Sink
	logger  *slog.Logger
}

type Option func(*Service)

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithSink(sink monitoring.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func New(store KeyStore, limiter Limiter, logger *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("key store is required")
	}
	if limiter == nil {
		return nil, errors.New("limiter is required")
	}
	svc := &Service{
		store:   store,
		limiter: limiter,
		sink:    monitoring.NopSink{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IssueConfig describes the key being created.
type IssueConfig struct {
	Permissions []string        `json:"permissions"`
	RateLimit   models.KeyLimit `json:"rate_limit"`
}

// Issued is returned once; the plaintext key is not recoverable afterwards.
type Issued struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}

// Issue creates an active key for the municipality and returns the presented
// form exactly once.
func (s *Service) Issue(ctx context.Context, municipalityID string, cfg IssueConfig) (*Issued, error) {
	keyID, err := secrets.GenerateKeyID()
	if err != nil {
		return nil, err
	}
	secret, err := secrets.GenerateSecret()
	if err != nil {
		return nil, err
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		return nil, err
	}

	limit := cfg.RateLimit
	if limit.MaxRequests <= 0 || limit.WindowMillis <= 0 {
		limit = defaultKeyLimit
	}

	record := models.Key{
		KeyID:          keyID,
		MunicipalityID: municipalityID,
		SecretHash:     hash,
		Permissions:    pstrings.DedupeAndTrimLower(cfg.Permissions),
		RateLimit:      limit,
		Active:         true,
		CreatedAt:      requestcontext.Now(ctx).UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("could not marshal key record: %w", err)
	}
	if err := s.store.Set(ctx, municipalityID, keyRecordPrefix+keyID, string(raw)); err != nil {
		return nil, fmt.Errorf("could not persist key record: %w", err)
	}

	s.logger.InfoContext(ctx, "api key issued",
		"municipality", municipalityID, "key_id", keyID)
	s.emit(ctx, audit.EventKeyIssued, municipalityID, map[string]string{
		"key_id": keyID,
	})
	return &Issued{KeyID: keyID, Key: secrets.Format(keyID, secret)}, nil
}

// SetActive toggles a key's activation. Key records are otherwise immutable.
func (s *Service) SetActive(ctx context.Context, municipalityID, keyID string, active bool) error {
	raw, err := s.store.Get(ctx, municipalityID, keyRecordPrefix+keyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "API key not found")
		}
		return fmt.Errorf("could not load key record: %w", err)
	}
	var key models.Key
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return fmt.Errorf("could not decode key record: %w", err)
	}
	key.Active = active
	updated, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("could not marshal key record: %w", err)
	}
	if err := s.store.Set(ctx, municipalityID, keyRecordPrefix+keyID, string(updated)); err != nil {
		return fmt.Errorf("could not persist key record: %w", err)
	}
	s.logger.InfoContext(ctx, "api key activation changed",
		"municipality", municipalityID, "key_id", keyID, "active", active)
	return nil
}

// Authorize validates a presented key for the resolved municipality and the
// required permission set. The key's own rate limit is enforced before
// permissions, so an over-quota key gets 429 even when its scopes are wrong.
func (s *Service) Authorize(ctx context.Context, presented, municipalityID string, required []string) (*models.Key, error) {
	keyID, secret, err := secrets.Parse(presented)
	if err != nil {
		s.authFailed(ctx, municipalityID, "malformed")
		return nil, err
	}

	raw, err := s.store.Get(ctx, municipalityID, keyRecordPrefix+keyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.authFailed(ctx, municipalityID, "unknown_key")
			return nil, dErrors.New(dErrors.CodeUnauthorized, "Invalid API key")
		}
		return nil, fmt.Errorf("could not load key record: %w", err)
	}

	var key models.Key
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return nil, fmt.Errorf("could not decode key record: %w", err)
	}
	if !key.Active {
		s.authFailed(ctx, municipalityID, "inactive")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "Invalid API key")
	}
	if err := secrets.Verify(secret, key.SecretHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.authFailed(ctx, municipalityID, "bad_secret")
		}
		return nil, err
	}

	result, err := s.limiter.CheckAndRecordLimit(ctx, ratemodels.ClassDevTeam, municipalityID, key.KeyID, ratemodels.Limit{
		MaxRequests: key.RateLimit.MaxRequests,
		Window:      key.RateLimit.Window(),
	})
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		s.emit(ctx, audit.EventKeyRateLimitExceeded, municipalityID, map[string]string{
			"key_id":              key.KeyID,
			"retry_after_seconds": fmt.Sprintf("%d", int(result.RetryAfter/time.Second)),
		})
		return nil, dErrors.New(dErrors.CodeRateLimited, "API key rate limit exceeded")
	}

	if !key.Covers(required) {
		s.emit(ctx, audit.EventPermissionDenied, municipalityID, map[string]string{
			"key_id": key.KeyID,
		})
		return nil, dErrors.New(dErrors.CodeForbidden, "Insufficient permissions")
	}
	return &key, nil
}

func (s *Service) authFailed(ctx context.Context, municipalityID, reason string) {
	s.sink.Record("apikey.auth_failed", 1, map[string]string{
		monitoring.TagMunicipality: municipalityID,
		monitoring.TagOutcome:      reason,
	})
	s.emit(ctx, audit.EventAuthFailed, municipalityID, map[string]string{
		"reason": reason,
	})
}

func (s *Service) emit(ctx context.Context, t audit.EventType, municipalityID string, tags map[string]string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, audit.Event{
		Type:           t,
		MunicipalityID: municipalityID,
		Tags:           tags,
	})
}
