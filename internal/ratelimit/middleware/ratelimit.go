// Package middleware wires the rate limiter into the HTTP pipeline. It runs
// after the tenant context resolver, so a missing tenant here is a routing
// bug rather than a client error.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"kompetens/internal/ratelimit/models"
	tenantmw "kompetens/internal/tenant/middleware"
	"kompetens/pkg/platform/httputil"
	"kompetens/pkg/requestcontext"
)

// Limiter is the slice of the rate limit service the middleware needs.
type Limiter interface {
	CheckAndRecord(ctx context.Context, class models.Class, municipalityID, identity string) (*models.Result, error)
}

// Limit enforces the given class budget per municipality and client IP.
// Every response carries X-RateLimit-* headers; rejections also carry
// Retry-After in whole seconds.
func Limit(limiter Limiter, class models.Class, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tc, ok := tenantmw.TenantFrom(ctx)
			if !ok {
				logger.ErrorContext(ctx, "rate limit middleware reached without tenant context",
					"path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}

			identity := requestcontext.ClientIP(ctx)
			if identity == "" {
				identity = r.RemoteAddr
			}

			result, err := limiter.CheckAndRecord(ctx, class, tc.MunicipalityID, identity)
			if err != nil {
				// The service fails open internally; an error here means a
				// programming fault, and availability still wins.
				logger.ErrorContext(ctx, "rate limit check returned error", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				message := "Rate limit exceeded"
				if class == models.ClassValidation {
					message = "Validation rate limit exceeded"
				}
				httputil.WriteJSON(w, http.StatusTooManyRequests, &httputil.ErrorResponse{
					Success: false,
					Error:   message,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
