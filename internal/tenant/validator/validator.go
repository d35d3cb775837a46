// Package validator is the defense-in-depth layer behind the namespace
// service: it inspects outbound payloads and file paths for identifiers that
// belong to another municipality. A hit here means an upstream isolation bug,
// so it fails closed and always audits.
package validator

import (
	"context"
	"log/slog"
	"path"
	"reflect"
	"strings"

	"kompetens/internal/audit"
	"kompetens/internal/monitoring"
	dErrors "kompetens/pkg/domain-errors"
)

// uploadsRoot is the only file tree served to tenants.
const uploadsRoot = "/uploads"

// tenantFieldNames are the payload fields treated as tenant identifiers.
var tenantFieldNames = []string{"municipality_id", "municipalityId"}

type Service struct {
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

func New(logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		sink:   monitoring.NopSink{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ValidateResponseData checks that every element of payload carrying a
// municipality identifier matches expected. One foreign element fails the
// whole payload. Elements without an identifier field pass through as
// tenant-agnostic.
func (s *Service) ValidateResponseData(ctx context.Context, payload any, expected string) error {
	foreign, found := findForeignTenant(payload, expected)
	if !found {
		return nil
	}
	s.violation(ctx, expected, map[string]string{
		"kind":           "response_data",
		"foreign_tenant": foreign,
	})
	return dErrors.New(dErrors.CodeCrossTenant, "Response contains data from another municipality")
}

// ValidateFileAccess requires p to resolve under /uploads/{expected}/.
// Traversal sequences are collapsed before the check.
func (s *Service) ValidateFileAccess(ctx context.Context, p, expected string) error {
	cleaned := path.Clean("/" + strings.TrimPrefix(p, "/"))
	want := uploadsRoot + "/" + expected + "/"
	if strings.HasPrefix(cleaned, want) && len(cleaned) > len(want) {
		return nil
	}
	s.violation(ctx, expected, map[string]string{
		"kind": "file_access",
		"path": p,
	})
	return dErrors.New(dErrors.CodeCrossTenant, "File access outside municipality namespace")
}

func (s *Service) violation(ctx context.Context, expected string, tags map[string]string) {
	s.logger.ErrorContext(ctx, "cross-tenant violation detected",
		"municipality", expected, "kind", tags["kind"])
	s.sink.Record("isolation.violation", 1, map[string]string{
		monitoring.TagMunicipality: expected,
		monitoring.TagOutcome:      "violation",
	})
	if s.auditor != nil {
		s.auditor.Emit(ctx, audit.Event{
			Type:           audit.EventCrossTenantViolation,
			MunicipalityID: expected,
			Tags:           tags,
		})
	}
}

// findForeignTenant walks payload looking for a tenant identifier differing
// from expected. It understands JSON-decoded shapes (maps and slices) plus
// structs via reflection on json tags.
func findForeignTenant(payload any, expected string) (string, bool) {
	switch v := payload.(type) {
	case nil:
		return "", false
	case map[string]any:
		for _, field := range tenantFieldNames {
			if raw, ok := v[field]; ok {
				if id, ok := raw.(string); ok && id != expected {
					return id, true
				}
			}
		}
		return "", false
	case []any:
		for _, elem := range v {
			if id, found := findForeignTenant(elem, expected); found {
				return id, true
			}
		}
		return "", false
	}

	rv := reflect.ValueOf(payload)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return "", false
		}
		return findForeignTenant(rv.Elem().Interface(), expected)
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if id, found := findForeignTenant(rv.Index(i).Interface(), expected); found {
				return id, true
			}
		}
	case reflect.Map:
		for _, key := range rv.MapKeys() {
			name, ok := key.Interface().(string)
			if !ok {
				continue
			}
			if isTenantField(name) {
				if id, ok := rv.MapIndex(key).Interface().(string); ok && id != expected {
					return id, true
				}
			}
		}
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			tag := strings.Split(field.Tag.Get("json"), ",")[0]
			if isTenantField(tag) || isTenantField(field.Name) {
				if id, ok := rv.Field(i).Interface().(string); ok && id != expected {
					return id, true
				}
			}
		}
	}
	return "", false
}

func isTenantField(name string) bool {
	for _, candidate := range tenantFieldNames {
		if name == candidate {
			return true
		}
	}
	return name == "MunicipalityID"
}
