// Package namespace partitions the shared cache into per-municipality
// regions. Every operation validates the tenant ID and prefixes keys with
// tenant:{municipalityId}: so no caller can reach another tenant's data, even
// from internal code paths that never crossed the HTTP boundary. Unlike the
// admission controls, this layer fails closed: a store error surfaces to the
// caller because silently misrouting tenant data is a leak risk.
package namespace

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"kompetens/internal/monitoring"
	"kompetens/internal/platform/cache"
	tenantmodels "kompetens/internal/tenant/models"
)

// deleteBatchSize bounds a single bulk delete against the shared store.
const deleteBatchSize = 100

type Service struct {
	store  cache.Store
	sink   monitoring.Sink
	logger *slog.Logger
}

type Option func(*Service)

func WithSink(sink monitoring.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func New(store cache.Store, logger *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	svc := &Service{
		store:  store,
		sink:   monitoring.NopSink{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func prefix(municipalityID string) string {
	return "tenant:" + municipalityID + ":"
}

func (s *Service) Get(ctx context.Context, municipalityID, key string) (string, error) {
	if err := tenantmodels.ValidateMunicipalityID(municipalityID); err != nil {
		return "", err
	}
	return s.store.Get(ctx, prefix(municipalityID)+key)
}

func (s *Service) Set(ctx context.Context, municipalityID, key, value string) error {
	if err := tenantmodels.ValidateMunicipalityID(municipalityID); err != nil {
		return err
	}
	return s.store.Set(ctx, prefix(municipalityID)+key, value)
}

func (s *Service) SetWithTTL(ctx context.Context, municipalityID, key, value string, ttl time.Duration) error {
	if err := tenantmodels.ValidateMunicipalityID(municipalityID); err != nil {
		return err
	}
	return s.store.SetWithTTL(ctx, prefix(municipalityID)+key, value, ttl)
}

// MultiGet returns the found subset keyed by the caller's unprefixed keys.
// Missing keys are simply absent from the result.
func (s *Service) MultiGet(ctx context.Context, municipalityID string, keys ...string) (map[string]string, error) {
	if err := tenantmodels.ValidateMunicipalityID(municipalityID); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	p := prefix(municipalityID)
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = p + k
	}
	found, err := s.store.MGet(ctx, prefixed...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(found))
	for k, v := range found {
		out[strings.TrimPrefix(k, p)] = v
	}
	return out, nil
}

// ListKeys returns the tenant's keys with the namespace prefix stripped.
func (s *Service) ListKeys(ctx context.Context, municipalityID string) ([]string, error) {
	if err := tenantmodels.ValidateMunicipalityID(municipalityID); err != nil {
		return nil, err
	}
	p := prefix(municipalityID)
	keys, err := s.store.Keys(ctx, p+"*")
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.TrimPrefix(k, p)
	}
	return out, nil
}

// Delete removes the given keys within the tenant namespace and returns the
// number actually deleted.
func (s *Service) Delete(ctx context.Context, municipalityID string, keys ...string) (int64, error) {
	if err := tenantmodels.ValidateMunicipalityID(municipalityID); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	p := prefix(municipalityID)
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = p + k
	}
	return s.store.Delete(ctx, prefixed...)
}

// DeleteAll removes every key in the tenant's namespace in fixed-size batches
// and returns the aggregated count. No matching keys means no delete command
// is issued at all.
func (s *Service) DeleteAll(ctx context.Context, municipalityID string) (int64, error) {
	if err := tenantmodels.ValidateMunicipalityID(municipalityID); err != nil {
		return 0, err
	}
	p := prefix(municipalityID)
	keys, err := s.store.Keys(ctx, p+"*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var total int64
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		n, err := s.store.Delete(ctx, keys[start:end]...)
		if err != nil {
			// Partial progress is reported so the caller can retry the rest.
			return total, err
		}
		total += n
	}
	s.logger.InfoContext(ctx, "tenant namespace cleared",
		"municipality", municipalityID, "deleted", total)
	s.sink.Record("namespace.bulk_delete", float64(total), map[string]string{
		monitoring.TagMunicipality: municipalityID,
	})
	return total, nil
}
