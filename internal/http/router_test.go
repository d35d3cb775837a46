package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	apikeyservice "kompetens/internal/apikey/service"
	"kompetens/internal/audit"
	"kompetens/internal/ddos"
	"kompetens/internal/gdpr"
	"kompetens/internal/platform/cache"
	rateservice "kompetens/internal/ratelimit/service"
	"kompetens/internal/tenant/guard"
	tenantmodels "kompetens/internal/tenant/models"
	"kompetens/internal/tenant/namespace"
	"kompetens/internal/tenant/registry"
	"kompetens/internal/tenant/validator"
)

// PipelineSuite exercises the assembled admission pipeline end to end against
// the in-memory store.
type PipelineSuite struct {
	suite.Suite
	store    *cache.MemoryStore
	ns       *namespace.Service
	keys     *apikeyservice.Service
	auditor  *audit.MemoryPublisher
	services Services
	router   http.Handler
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = cache.NewMemoryStore()
	s.auditor = audit.NewMemoryPublisher()

	reg := registry.NewService(registry.NewMemoryStore())
	s.Require().NoError(registry.Seed(context.Background(), reg, registry.DefaultSeed(), time.Now()))

	limiter, err := rateservice.New(s.store, reg, logger, rateservice.WithAuditPublisher(s.auditor))
	s.Require().NoError(err)
	protector, err := ddos.New(s.store, reg, logger, ddos.WithAuditPublisher(s.auditor))
	s.Require().NoError(err)
	ns, err := namespace.New(s.store, logger)
	s.Require().NoError(err)
	s.ns = ns
	keys, err := apikeyservice.New(ns, limiter, logger, apikeyservice.WithAuditPublisher(s.auditor))
	s.Require().NoError(err)
	s.keys = keys
	val := validator.New(logger, validator.WithAuditPublisher(s.auditor))
	g := guard.New(logger, guard.WithAuditPublisher(s.auditor))
	manager, err := gdpr.New(ns, logger, gdpr.WithAuditPublisher(s.auditor))
	s.Require().NoError(err)

	s.services = Services{
		Registry:  reg,
		Limiter:   limiter,
		Protector: protector,
		Keys:      keys,
		Namespace: ns,
		Validator: val,
		Guard:     g,
		GDPR:      manager,
	}
	s.router = NewRouter(s.services, Config{JWTSigningKey: "test-signing-key"}, logger)
}

func (s *PipelineSuite) do(method, target, municipality, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if municipality != "" {
		req.Header.Set("X-Municipality-ID", municipality)
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *PipelineSuite) TestHealthBypassesPipeline() {
	rec := s.do(http.MethodGet, "/health", "", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(rec.Header().Get("X-RateLimit-Limit"))
}

func (s *PipelineSuite) TestHealthReportsDegradedStore() {
	svcs := s.services
	svcs.StoreHealth = func(context.Context) error { return errors.New("connection refused") }
	router := NewRouter(svcs, Config{JWTSigningKey: "test-signing-key"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Contains(rec.Body.String(), "degraded")
}

func (s *PipelineSuite) TestMissingTenantRejected() {
	rec := s.do(http.MethodGet, "/api/training-records/emp_1", "", "")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "Municipality context required")
}

func (s *PipelineSuite) TestTrainingRecordRoundTrip() {
	rec := s.do(http.MethodPut, "/api/training-records/emp_1", "lund_kommun",
		`{"course":"gdpr-basics","status":"completed"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/training-records/emp_1", "lund_kommun", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("lund_kommun", rec.Header().Get("X-Tenant-Municipality"))
	s.NotEmpty(rec.Header().Get("X-RateLimit-Limit"))
	s.NotEmpty(rec.Header().Get("X-Request-ID"))

	var body struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.True(body.Success)
	s.Equal("gdpr-basics", body.Data["course"])
	s.Equal("lund_kommun", body.Data["municipality_id"])
}

func (s *PipelineSuite) TestNullRecordBodyRejected() {
	rec := s.do(http.MethodPut, "/api/training-records/emp_1", "lund_kommun", "null")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "Invalid request body")
}

func (s *PipelineSuite) TestRecordsAreTenantIsolated() {
	rec := s.do(http.MethodPut, "/api/training-records/emp_1", "lund_kommun",
		`{"course":"gdpr-basics"}`)
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/training-records/emp_1", "malmo_stad", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *PipelineSuite) TestCrossTenantWriteRejected() {
	rec := s.do(http.MethodPut, "/api/training-records/emp_1", "lund_kommun",
		`{"course":"gdpr-basics","municipality_id":"malmo_stad"}`)
	s.Equal(http.StatusForbidden, rec.Code)
	s.Len(s.auditor.EventsOfType(audit.EventCrossTenantViolation), 1)
}

func (s *PipelineSuite) TestFileAccessValidated() {
	rec := s.do(http.MethodGet, "/api/files/certificate?path=/uploads/lund_kommun/cert.pdf", "lund_kommun", "")
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/files/certificate?path=/uploads/malmo_stad/cert.pdf", "lund_kommun", "")
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *PipelineSuite) TestRateLimitHeadersAndRejection() {
	// ystad_kommun is seeded small: 200 api requests per window.
	var last *httptest.ResponseRecorder
	for i := 0; i < 200; i++ {
		last = s.do(http.MethodGet, "/api/files/certificate?path=/uploads/ystad_kommun/c.pdf", "ystad_kommun", "")
		s.Require().Equal(http.StatusOK, last.Code, "request %d", i+1)
	}
	s.Equal("0", last.Header().Get("X-RateLimit-Remaining"))

	rec := s.do(http.MethodGet, "/api/files/certificate?path=/uploads/ystad_kommun/c.pdf", "ystad_kommun", "")
	s.Require().Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.False(body.Success)
	s.Equal("Rate limit exceeded", body.Error)
}

func (s *PipelineSuite) TestAdminRoutesRequireSecurityScope() {
	rec := s.do(http.MethodPost, "/admin/api-keys", "malmo_stad", `{"permissions":["content:validate"]}`)
	s.Equal(http.StatusUnauthorized, rec.Code)

	issued, err := s.keys.Issue(context.Background(), "malmo_stad",
		apikeyservice.IssueConfig{Permissions: []string{"content:validate"}})
	s.Require().NoError(err)

	rec = s.do(http.MethodPost, "/admin/api-keys", "malmo_stad", `{"permissions":["content:validate"]}`,
		func(r *http.Request) { r.Header.Set("X-API-Key", issued.Key) })
	s.Equal(http.StatusForbidden, rec.Code)

	admin, err := s.keys.Issue(context.Background(), "malmo_stad",
		apikeyservice.IssueConfig{Permissions: []string{"admin:security"}})
	s.Require().NoError(err)

	rec = s.do(http.MethodPost, "/admin/api-keys", "malmo_stad", `{"permissions":["content:validate"]}`,
		func(r *http.Request) { r.Header.Set("X-API-Key", admin.Key) })
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Key string `json:"key"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.True(strings.HasPrefix(body.Key, "mtk_"))
}

func (s *PipelineSuite) TestContentValidationRequiresValidateScope() {
	payload := `{"title":"GDPR basics","body":"` + strings.Repeat("a", 60) + `"}`

	rec := s.do(http.MethodPost, "/api/content/validate", "malmo_stad", payload)
	s.Equal(http.StatusUnauthorized, rec.Code)

	author, err := s.keys.Issue(context.Background(), "malmo_stad",
		apikeyservice.IssueConfig{Permissions: []string{"content:validate"}})
	s.Require().NoError(err)

	rec = s.do(http.MethodPost, "/api/content/validate", "malmo_stad", payload,
		func(r *http.Request) { r.Header.Set("X-API-Key", author.Key) })
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Valid bool `json:"valid"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.True(body.Valid)

	admin, err := s.keys.Issue(context.Background(), "malmo_stad",
		apikeyservice.IssueConfig{Permissions: []string{"admin:security"}})
	s.Require().NoError(err)

	rec = s.do(http.MethodPost, "/api/content/validate", "malmo_stad", payload,
		func(r *http.Request) { r.Header.Set("X-API-Key", admin.Key) })
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *PipelineSuite) TestAdminCannotUpdateForeignMunicipality() {
	admin, err := s.keys.Issue(context.Background(), "malmo_stad",
		apikeyservice.IssueConfig{Permissions: []string{"admin:security"}})
	s.Require().NoError(err)

	rec := s.do(http.MethodPut, "/admin/municipalities/lund_kommun", "malmo_stad",
		`{"ddos_threshold":50}`,
		func(r *http.Request) { r.Header.Set("X-API-Key", admin.Key) })
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPut, "/admin/municipalities/malmo_stad", "malmo_stad",
		`{"ddos_threshold":50}`,
		func(r *http.Request) { r.Header.Set("X-API-Key", admin.Key) })
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
}

func (s *PipelineSuite) TestGDPRExportAndDelete() {
	admin, err := s.keys.Issue(context.Background(), "lund_kommun",
		apikeyservice.IssueConfig{Permissions: []string{"admin:security"}})
	s.Require().NoError(err)

	s.Require().NoError(s.ns.Set(context.Background(), "lund_kommun", "training:emp_9", `{"course":"x"}`))

	withKey := func(r *http.Request) { r.Header.Set("X-API-Key", admin.Key) }

	rec := s.do(http.MethodPost, "/admin/gdpr/export", "lund_kommun", "", withKey)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var export gdpr.Result
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &export))
	s.True(export.Success)
	s.GreaterOrEqual(export.ExportedRecords, 1)

	rec = s.do(http.MethodPost, "/admin/gdpr/delete", "lund_kommun", "", withKey)
	s.Require().Equal(http.StatusOK, rec.Code)
	var del gdpr.Result
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &del))
	s.True(del.Success)
	s.GreaterOrEqual(del.DeletedCacheKeys, int64(1))
}

func (s *PipelineSuite) TestDDoSBlockAcrossPipeline() {
	// Shrink ystad's threshold so the burst window trips fast.
	reg := registry.NewService(registry.NewMemoryStore())
	s.Require().NoError(registry.Seed(context.Background(), reg, registry.DefaultSeed(), time.Now()))
	threshold := 10
	_, err := reg.Update(context.Background(), "ystad_kommun",
		tenantmodels.ProfileUpdate{DDoSThreshold: &threshold}, time.Now())
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter, err := rateservice.New(s.store, reg, logger)
	s.Require().NoError(err)
	protector, err := ddos.New(s.store, reg, logger, ddos.WithAuditPublisher(s.auditor))
	s.Require().NoError(err)

	router := NewRouter(Services{
		Registry:  reg,
		Limiter:   limiter,
		Protector: protector,
		Keys:      s.keys,
		Namespace: s.ns,
		Validator: validator.New(logger),
		Guard:     guard.New(logger),
		GDPR:      mustGDPR(s.T(), s.ns, logger),
	}, Config{JWTSigningKey: "test-signing-key"}, logger)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/files/certificate?path=/uploads/ystad_kommun/c.pdf", nil)
		req.Header.Set("X-Municipality-ID", "ystad_kommun")
		req.Header.Set("X-Forwarded-For", "203.0.113.50")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	blocked := false
	for i := 0; i < threshold+2; i++ {
		if rec := send(); rec.Code == http.StatusTooManyRequests {
			s.Contains(rec.Body.String(), "IP address")
			s.NotEmpty(rec.Header().Get("Retry-After"))
			blocked = true
			break
		}
	}
	s.True(blocked, "burst should trip the block within threshold+2 requests")

	// And the block is sticky for subsequent requests.
	rec := send()
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(s.auditor.EventsOfType(audit.EventDDoSBlockTriggered))
}

func mustGDPR(t *testing.T, ns *namespace.Service, logger *slog.Logger) *gdpr.Manager {
	t.Helper()
	m, err := gdpr.New(ns, logger)
	if err != nil {
		t.Fatalf("gdpr manager: %v", err)
	}
	return m
}

func (s *PipelineSuite) TestUnknownMunicipality404() {
	rec := s.do(http.MethodGet, "/api/training-records/emp_1", "simrishamn_kommun", "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Contains(rec.Body.String(), "Municipality not found or inactive")
}

func (s *PipelineSuite) TestMalformedMunicipality400() {
	rec := s.do(http.MethodGet, "/api/training-records/emp_1", "LUND-KOMMUN", "")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "Invalid municipality ID format")
}
