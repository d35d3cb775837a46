// Package middleware gates key-protected routes on a valid API key with the
// required permission scopes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apikeymodels "kompetens/internal/apikey/models"
	tenantmw "kompetens/internal/tenant/middleware"
	dErrors "kompetens/pkg/domain-errors"
	"kompetens/pkg/platform/httputil"
)

type contextKeyAPIKey struct{}

// ContextKeyAPIKey is exported for use in handlers.
var ContextKeyAPIKey = contextKeyAPIKey{}

// KeyFrom retrieves the authorized key record set by Require.
func KeyFrom(ctx context.Context) (*apikeymodels.Key, bool) {
	key, ok := ctx.Value(ContextKeyAPIKey).(*apikeymodels.Key)
	return key, ok
}

// Authorizer is the slice of the key service the middleware needs.
type Authorizer interface {
	Authorize(ctx context.Context, presented, municipalityID string, required []string) (*apikeymodels.Key, error)
}

// Require authorizes the presented key against the required permission set
// and attaches the key record for the handler.
func Require(authorizer Authorizer, logger *slog.Logger, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tc, ok := tenantmw.TenantFrom(ctx)
			if !ok {
				logger.ErrorContext(ctx, "api key middleware reached without tenant context",
					"path", r.URL.Path)
				httputil.WriteError(w, dErrors.New(dErrors.CodeContextMissing, "Municipality context required"))
				return
			}

			presented := extractKey(r)
			if presented == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid API key"))
				return
			}

			key, err := authorizer.Authorize(ctx, presented, tc.MunicipalityID, required)
			if err != nil {
				logger.WarnContext(ctx, "api key rejected",
					"municipality", tc.MunicipalityID, "error", err)
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ContextKeyAPIKey, key)))
		})
	}
}

// extractKey resolves the presented key: Authorization bearer first, then the
// X-API-Key header, then the apiKey query parameter.
func extractKey(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
		return token
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("apiKey")
}
