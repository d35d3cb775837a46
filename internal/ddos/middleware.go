package ddos

import (
	"log/slog"
	"net/http"
	"strconv"

	tenantmw "kompetens/internal/tenant/middleware"
	"kompetens/pkg/platform/httputil"
	"kompetens/pkg/requestcontext"
)

// Middleware evaluates the burst protector for every request. Blocked IPs get
// 429 with Retry-After; everything else passes through.
func Middleware(protector *Protector, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				ip = r.RemoteAddr
			}
			municipalityID := ""
			if tc, ok := tenantmw.TenantFrom(ctx); ok {
				municipalityID = tc.MunicipalityID
			}

			decision, err := protector.Evaluate(ctx, ip, municipalityID)
			if err != nil {
				logger.ErrorContext(ctx, "ddos evaluation returned error", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !decision.Allowed {
				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, &httputil.ErrorResponse{
					Success: false,
					Error:   "Too many requests from this IP address",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
