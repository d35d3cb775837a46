// Package guard is the composable tenant-access capability for data-access
// code. Concrete repositories embed a Guard and call it before touching
// storage; it is wired explicitly at construction rather than discovered at
// runtime. Both checks fail closed.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"kompetens/internal/audit"
	"kompetens/internal/monitoring"
	dErrors "kompetens/pkg/domain-errors"
)

// tenantPredicate matches a municipality filter in SQL text and captures the
// placeholder: $N (pq/pgx style) or ? (ordinal style).
var tenantPredicate = regexp.MustCompile(`(?i)municipality_id\s*=\s*(\$\d+|\?)`)

type Guard struct {
	auditor audit.Publisher
	sink    monitoring.Sink
	logger  *slog.Logger
}

type Option func(*Guard)

func WithAuditPublisher(p audit.Publisher) Option {
	return func(g *Guard) { g.auditor = p }
}

func WithSink(sink monitoring.Sink) Option {
	return func(g *Guard) { g.sink = sink }
}

func New(logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		sink:   monitoring.NopSink{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateTenantAccess rejects any attempt by requestTenant to act on a
// resource owned by another municipality.
func (g *Guard) ValidateTenantAccess(ctx context.Context, requestTenant, resourceTenant, actorID, action string) error {
	if requestTenant == resourceTenant {
		return nil
	}
	g.logger.ErrorContext(ctx, "cross-tenant access attempt",
		"request_tenant", requestTenant,
		"resource_tenant", resourceTenant,
		"actor", actorID,
		"action", action)
	g.sink.Record("isolation.violation", 1, map[string]string{
		monitoring.TagMunicipality: requestTenant,
		monitoring.TagOutcome:      "violation",
	})
	if g.auditor != nil {
		g.auditor.Emit(ctx, audit.Event{
			Type:           audit.EventCrossTenantViolation,
			MunicipalityID: requestTenant,
			Tags: map[string]string{
				"kind":            "tenant_access",
				"resource_tenant": resourceTenant,
				"actor":           actorID,
				"action":          action,
			},
		})
	}
	return dErrors.New(dErrors.CodeCrossTenant,
		fmt.Sprintf("Access to %s resources denied", resourceTenant))
}

// ValidateQueryTenantFilter requires query to carry a municipality_id
// predicate whose bound parameter equals expectedTenant. Queries without the
// predicate are rejected outright: a repository that forgets the filter must
// not run.
func (g *Guard) ValidateQueryTenantFilter(ctx context.Context, query string, params []any, expectedTenant string) error {
	match := tenantPredicate.FindStringSubmatchIndex(query)
	if match == nil {
		return g.queryViolation(ctx, expectedTenant, query, "missing tenant filter predicate")
	}

	placeholder := query[match[2]:match[3]]
	var position int
	if strings.HasPrefix(placeholder, "$") {
		n, err := strconv.Atoi(placeholder[1:])
		if err != nil || n < 1 {
			return g.queryViolation(ctx, expectedTenant, query, "malformed placeholder")
		}
		position = n - 1
	} else {
		// Ordinal placeholders: count the ?s preceding the predicate's.
		position = strings.Count(query[:match[2]], "?")
	}

	if position >= len(params) {
		return g.queryViolation(ctx, expectedTenant, query, "tenant parameter not bound")
	}
	bound, ok := params[position].(string)
	if !ok || bound != expectedTenant {
		return g.queryViolation(ctx, expectedTenant, query, "tenant parameter mismatch")
	}
	return nil
}

func (g *Guard) queryViolation(ctx context.Context, expectedTenant, query, reason string) error {
	g.logger.ErrorContext(ctx, "query tenant filter violation",
		"municipality", expectedTenant, "reason", reason)
	g.sink.Record("isolation.violation", 1, map[string]string{
		monitoring.TagMunicipality: expectedTenant,
		monitoring.TagOutcome:      "violation",
	})
	if g.auditor != nil {
		g.auditor.Emit(ctx, audit.Event{
			Type:           audit.EventCrossTenantViolation,
			MunicipalityID: expectedTenant,
			Tags: map[string]string{
				"kind":   "query_filter",
				"reason": reason,
				"query":  query,
			},
		})
	}
	return dErrors.New(dErrors.CodeCrossTenant, "Query is not tenant-filtered")
}
