// Package middleware resolves the requesting municipality and attaches it to
// the request context. It is the first tenant-aware stage of the pipeline;
// everything downstream trusts the context it sets.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	tenantmodels "kompetens/internal/tenant/models"
	dErrors "kompetens/pkg/domain-errors"
	"kompetens/pkg/platform/httputil"
)

const (
	headerMunicipality = "X-Municipality-ID"
	headerResolved     = "X-Tenant-Municipality"
	queryMunicipality  = "municipalityId"
	claimMunicipality  = "municipality_id"
)

// Resolver is the slice of the municipality registry the middleware needs.
type Resolver interface {
	Resolve(ctx context.Context, municipalityID string) (*tenantmodels.Municipality, error)
}

// ResolveTenant extracts the municipality from the explicit header, the query
// parameter, or a JWT identity assertion, in that order, validates it against
// the registry, and attaches the resolved context. API keys presented as
// Bearer tokens are skipped here; the key manager handles them later.
func ResolveTenant(resolver Resolver, jwtSigningKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id := extractMunicipalityID(r, jwtSigningKey)
			if id == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeContextMissing, "Municipality context required"))
				return
			}

			profile, err := resolver.Resolve(ctx, id)
			if err != nil {
				logger.WarnContext(ctx, "tenant resolution rejected",
					"municipality", id, "error", err)
				httputil.WriteError(w, err)
				return
			}

			w.Header().Set(headerResolved, profile.ID)
			ctx = WithTenant(ctx, tenantmodels.Context{
				MunicipalityID:   profile.ID,
				MunicipalityName: profile.DisplayName,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractMunicipalityID(r *http.Request, jwtSigningKey string) string {
	if id := r.Header.Get(headerMunicipality); id != "" {
		return id
	}
	if id := r.URL.Query().Get(queryMunicipality); id != "" {
		return id
	}
	return municipalityFromJWT(r, jwtSigningKey)
}

// municipalityFromJWT reads the municipality claim from an SSO bearer token.
// Invalid and non-JWT tokens are treated as absent; rejecting them is the key
// manager's concern, not the resolver's.
func municipalityFromJWT(r *http.Request, signingKey string) string {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.HasPrefix(raw, "mtk_") {
		return ""
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return []byte(signingKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return ""
	}
	id, _ := claims[claimMunicipality].(string)
	return id
}
