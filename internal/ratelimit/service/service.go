// Package service implements the sliding-window rate limiter over the shared
// cache store. All window state is externalized; two concurrent checks on the
// same identity may both admit marginally over the limit, which is an
// accepted bounded-overshoot property of the algorithm.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kompetens/internal/audit"
	"kompetens/internal/monitoring"
	"kompetens/internal/platform/cache"
	"kompetens/internal/platform/config"
	"kompetens/internal/ratelimit/models"
	tenantmodels "kompetens/internal/tenant/models"
	"kompetens/pkg/requestcontext"
)

// ProfileSource resolves municipality profiles for limit lookup. The registry
// service satisfies this; tests use a map-backed fake.
type ProfileSource interface {
	Lookup(ctx context.Context, municipalityID string) (*tenantmodels.Municipality, error)
}

type Service struct {
	store    cache.Store
	profiles ProfileSource
	defaults config.LimitDefaults
	auditor  audit.Publisher
	sink     monitoring.Sink
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithSink(sink monitoring.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithDefaults(d config.LimitDefaults) Option {
	return func(s *Service) { s.defaults = d }
}

func New(store cache.Store, profiles ProfileSource, logger *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	svc := &Service{
		store:    store,
		profiles: profiles,
		defaults: config.DefaultLimits(),
		sink:     monitoring.NopSink{},
		logger:   logger,
		tracer:   otel.Tracer("kompetens/ratelimit"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CheckAndRecord prunes the window, counts it, and either rejects or records
// the request. The budget comes from the municipality profile, falling back
// to the conservative defaults for unknown tenants.
func (s *Service) CheckAndRecord(ctx context.Context, class models.Class, municipalityID, identity string) (*models.Result, error) {
	return s.CheckAndRecordLimit(ctx, class, municipalityID, identity, s.limitFor(ctx, municipalityID, class))
}

// CheckAndRecordLimit is CheckAndRecord with an explicit budget. The API key
// manager uses it to enforce key-scoped limits that live on the key record
// rather than the municipality profile.
func (s *Service) CheckAndRecordLimit(ctx context.Context, class models.Class, municipalityID, identity string, limit models.Limit) (*models.Result, error) {
	ctx, span := s.tracer.Start(ctx, "ratelimit.check", trace.WithAttributes(
		attribute.String("limit.class", string(class)),
		attribute.String("tenant.municipality", municipalityID),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	key := models.WindowKey(class, municipalityID, identity)
	windowStart := now.Add(-limit.Window)

	if _, err := s.store.ZRemRangeByScore(ctx, key, 0, float64(windowStart.UnixMilli())); err != nil {
		return s.failOpen(ctx, class, limit, now, err), nil
	}
	count, err := s.store.ZCard(ctx, key)
	if err != nil {
		return s.failOpen(ctx, class, limit, now, err), nil
	}

	if count >= int64(limit.MaxRequests) {
		result := &models.Result{
			Allowed:   false,
			Limit:     limit.MaxRequests,
			Remaining: 0,
			ResetAt:   now.Add(limit.Window),
		}
		// The oldest surviving entry determines when a slot frees up.
		if oldest, err := s.store.ZRangeWithScores(ctx, key, 0, 0); err == nil && len(oldest) > 0 {
			result.ResetAt = time.UnixMilli(int64(oldest[0].Score)).Add(limit.Window)
		}
		result.RetryAfter = result.ResetAt.Sub(now)
		if result.RetryAfter < time.Second {
			result.RetryAfter = time.Second
		}
		s.reject(ctx, class, municipalityID, identity, limit, count)
		return result, nil
	}

	member := cache.Member{
		Score: float64(now.UnixMilli()),
		// Unique suffix avoids member collisions when two requests land on
		// the same millisecond.
		Member: fmt.Sprintf("%d:%s", now.UnixMilli(), uuid.NewString()),
	}
	if err := s.store.ZAdd(ctx, key, member); err != nil {
		return s.failOpen(ctx, class, limit, now, err), nil
	}
	if err := s.store.Expire(ctx, key, limit.Window); err != nil {
		s.sink.ReportError(ctx, "ratelimit", err)
	}

	s.sink.Record("rate_limit.allowed", 1, map[string]string{
		monitoring.TagMunicipality: municipalityID,
		monitoring.TagLimitClass:   string(class),
		monitoring.TagOutcome:      "allowed",
	})
	return &models.Result{
		Allowed:   true,
		Limit:     limit.MaxRequests,
		Remaining: limit.MaxRequests - int(count) - 1,
		ResetAt:   now.Add(limit.Window),
	}, nil
}

func (s *Service) limitFor(ctx context.Context, municipalityID string, class models.Class) models.Limit {
	fallback := models.Limit{MaxRequests: s.defaults.APIRequestsPerWindow, Window: s.defaults.Window}
	if class == models.ClassValidation {
		fallback.MaxRequests = s.defaults.ValidationRequestsPerWindow
	}
	if s.profiles == nil {
		return fallback
	}
	profile, err := s.profiles.Lookup(ctx, municipalityID)
	if err != nil {
		// Unknown or malformed tenants get the conservative default rather
		// than an error; the context resolver already gates malformed IDs at
		// the HTTP boundary.
		return fallback
	}
	switch class {
	case models.ClassValidation:
		return models.Limit{MaxRequests: profile.RateLimits.Validation, Window: s.defaults.Window}
	default:
		return models.Limit{MaxRequests: profile.RateLimits.API, Window: s.defaults.Window}
	}
}

// failOpen admits the request when the cache store is unreachable.
// Availability is prioritized over strict enforcement for this control; the
// error is reported to monitoring instead of surfacing.
func (s *Service) failOpen(ctx context.Context, class models.Class, limit models.Limit, now time.Time, err error) *models.Result {
	s.logger.ErrorContext(ctx, "rate limit check failed, failing open",
		"limit_class", string(class), "error", err)
	s.sink.ReportError(ctx, "ratelimit", err)
	return &models.Result{
		Allowed:    true,
		Limit:      limit.MaxRequests,
		Remaining:  limit.MaxRequests,
		ResetAt:    now.Add(limit.Window),
		FailedOpen: true,
	}
}

func (s *Service) reject(ctx context.Context, class models.Class, municipalityID, identity string, limit models.Limit, count int64) {
	s.sink.Record("rate_limit.rejected", 1, map[string]string{
		monitoring.TagMunicipality: municipalityID,
		monitoring.TagLimitClass:   string(class),
		monitoring.TagOutcome:      "rejected",
	})
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, audit.Event{
		Type:           audit.EventRateLimitExceeded,
		MunicipalityID: municipalityID,
		Tags: map[string]string{
			"limit_class":    string(class),
			"identity":       identity,
			"limit":          fmt.Sprintf("%d", limit.MaxRequests),
			"window_seconds": fmt.Sprintf("%d", int(limit.Window.Seconds())),
			"observed":       fmt.Sprintf("%d", count),
		},
	})
}
