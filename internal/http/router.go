// Package httpapi assembles the admission pipeline and the HTTP surface.
// Every tenant-facing route passes through, in order: tenant resolution, the
// tenant-wide rate limiter, the DDoS protector, and (for gated routes) the
// API key manager. Only requests surviving every stage reach a handler, and
// handlers validate outbound payloads before writing.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apikeymw "kompetens/internal/apikey/middleware"
	apikeyservice "kompetens/internal/apikey/service"
	"kompetens/internal/ddos"
	"kompetens/internal/gdpr"
	platformmw "kompetens/internal/platform/middleware"
	ratelimitmw "kompetens/internal/ratelimit/middleware"
	ratemodels "kompetens/internal/ratelimit/models"
	rateservice "kompetens/internal/ratelimit/service"
	"kompetens/internal/tenant/guard"
	tenantmw "kompetens/internal/tenant/middleware"
	"kompetens/internal/tenant/namespace"
	"kompetens/internal/tenant/registry"
	"kompetens/internal/tenant/validator"
)

// Services carries the wired collaborators for the router.
type Services struct {
	// StoreHealth reports cache reachability for the health endpoint; nil
	// skips the check (in-memory deployments).
	StoreHealth func(context.Context) error

	Registry  *registry.Service
	Limiter   *rateservice.Service
	Protector *ddos.Protector
	Keys      *apikeyservice.Service
	Namespace *namespace.Service
	Validator *validator.Service
	Guard     *guard.Guard
	GDPR      *gdpr.Manager
}

// Config carries transport-level settings.
type Config struct {
	JWTSigningKey string
	// Registerer backs the /metrics endpoint; nil uses the default registry.
	Registerer prometheus.Gatherer
}

// NewRouter builds the full pipeline. Health and metrics stay outside the
// tenant pipeline so probes are never rate limited.
func NewRouter(svcs Services, cfg Config, logger *slog.Logger) http.Handler {
	h := newHandler(svcs, logger)

	r := chi.NewRouter()
	r.Use(platformmw.RequestID)
	r.Use(platformmw.ClientMetadata)
	r.Use(platformmw.Recovery(logger))
	r.Use(platformmw.Logger(logger))

	r.Get("/health", h.handleHealth)
	gatherer := cfg.Registerer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(tenantmw.ResolveTenant(svcs.Registry, cfg.JWTSigningKey, logger))
		r.Use(ratelimitmw.Limit(svcs.Limiter, ratemodels.ClassAPI, logger))
		r.Use(ddos.Middleware(svcs.Protector, logger))

		r.Get("/api/training-records/{employeeId}", h.handleGetTrainingRecords)
		r.Put("/api/training-records/{employeeId}", h.handlePutTrainingRecord)
		r.Get("/api/files/certificate", h.handleCertificateAccess)

		// Content validation has its own, tighter budget and is key-gated.
		r.Group(func(r chi.Router) {
			r.Use(ratelimitmw.Limit(svcs.Limiter, ratemodels.ClassValidation, logger))
			r.Use(apikeymw.Require(svcs.Keys, logger, "content:validate"))
			r.Post("/api/content/validate", h.handleValidateContent)
		})

		// Administrative surface requires a key with the security scope.
		r.Group(func(r chi.Router) {
			r.Use(apikeymw.Require(svcs.Keys, logger, "admin:security"))
			r.Put("/admin/municipalities/{municipalityId}", h.handleUpdateMunicipality)
			r.Post("/admin/api-keys", h.handleIssueKey)
			r.Post("/admin/gdpr/{action}", h.handleGDPR)
		})
	})

	return r
}
