package middleware

import (
	"context"

	"kompetens/internal/tenant/models"
)

type contextKeyTenant struct{}

// ContextKeyTenant is exported for use in handlers and downstream middleware.
var ContextKeyTenant = contextKeyTenant{}

// WithTenant stores the resolved municipality context on the request context.
func WithTenant(ctx context.Context, tc models.Context) context.Context {
	return context.WithValue(ctx, ContextKeyTenant, tc)
}

// TenantFrom retrieves the resolved municipality context. The second return
// is false on routes served before the context resolver.
func TenantFrom(ctx context.Context) (models.Context, bool) {
	tc, ok := ctx.Value(ContextKeyTenant).(models.Context)
	return tc, ok
}
