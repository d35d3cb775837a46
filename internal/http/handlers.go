package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apikeymw "kompetens/internal/apikey/middleware"
	apikeyservice "kompetens/internal/apikey/service"
	"kompetens/internal/gdpr"
	tenantmw "kompetens/internal/tenant/middleware"
	tenantmodels "kompetens/internal/tenant/models"
	"kompetens/pkg/platform/httputil"
	"kompetens/pkg/platform/sentinel"
	"kompetens/pkg/requestcontext"

	dErrors "kompetens/pkg/domain-errors"
)

const trainingRecordPrefix = "training:"

type handler struct {
	svcs   Services
	logger *slog.Logger
}

func newHandler(svcs Services, logger *slog.Logger) *handler {
	return &handler{svcs: svcs, logger: logger}
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.svcs.StoreHealth != nil {
		if err := h.svcs.StoreHealth(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"cache":  "unreachable",
			})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetTrainingRecords returns the employee's training records from the
// tenant namespace, validating the outbound payload before it leaves.
func (h *handler) handleGetTrainingRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, _ := tenantmw.TenantFrom(ctx)
	employeeID := chi.URLParam(r, "employeeId")

	raw, err := h.svcs.Namespace.Get(ctx, tc.MunicipalityID, trainingRecordPrefix+employeeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "Training records not found"))
			return
		}
		h.logger.ErrorContext(ctx, "could not load training record", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "Could not read training records"))
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		h.logger.ErrorContext(ctx, "corrupt training record",
			"municipality", tc.MunicipalityID, "employee", employeeID, "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "Could not read training records"))
		return
	}

	if err := h.svcs.Validator.ValidateResponseData(ctx, payload, tc.MunicipalityID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": payload})
}

// handlePutTrainingRecord stores a record under the caller's namespace. A
// body claiming another municipality is a cross-tenant write attempt.
func (h *handler) handlePutTrainingRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, _ := tenantmw.TenantFrom(ctx)
	employeeID := chi.URLParam(r, "employeeId")

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload == nil {
		// A bare `null` decodes without error but leaves the map nil.
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "Invalid request body"))
		return
	}

	if claimed, ok := payload["municipality_id"].(string); ok && claimed != tc.MunicipalityID {
		if err := h.svcs.Guard.ValidateTenantAccess(ctx, tc.MunicipalityID, claimed, employeeID, "write_training_record"); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	payload["municipality_id"] = tc.MunicipalityID

	raw, err := json.Marshal(payload)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "Invalid request body"))
		return
	}
	if err := h.svcs.Namespace.Set(ctx, tc.MunicipalityID, trainingRecordPrefix+employeeID, string(raw)); err != nil {
		h.logger.ErrorContext(ctx, "could not store training record", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "Could not store training record"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleCertificateAccess gates file path access on the tenant namespace
// check before any file would be served.
func (h *handler) handleCertificateAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, _ := tenantmw.TenantFrom(ctx)

	path := r.URL.Query().Get("path")
	if path == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "File path required"))
		return
	}
	if err := h.svcs.Validator.ValidateFileAccess(ctx, path, tc.MunicipalityID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "path": path})
}

// handleValidateContent is the stricter-budget validation endpoint used by
// content authors before publishing.
func (h *handler) handleValidateContent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "Invalid request body"))
		return
	}

	var problems []string
	if strings.TrimSpace(req.Title) == "" {
		problems = append(problems, "title is required")
	}
	if len(req.Body) < 50 {
		problems = append(problems, "body must be at least 50 characters")
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"valid":    len(problems) == 0,
		"problems": problems,
	})
}

// handleUpdateMunicipality adjusts a municipality profile. The caller may
// only touch its own profile, admin scope or not.
func (h *handler) handleUpdateMunicipality(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, _ := tenantmw.TenantFrom(ctx)
	target := chi.URLParam(r, "municipalityId")

	actor := "unknown"
	if key, ok := apikeymw.KeyFrom(ctx); ok {
		actor = key.KeyID
	}
	if err := h.svcs.Guard.ValidateTenantAccess(ctx, tc.MunicipalityID, target, actor, "update_profile"); err != nil {
		httputil.WriteError(w, err)
		return
	}

	var update tenantmodels.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "Invalid request body"))
		return
	}

	updated, err := h.svcs.Registry.Update(ctx, target, update, requestcontext.Now(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "municipality": updated})
}

func (h *handler) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, _ := tenantmw.TenantFrom(ctx)

	var cfg apikeyservice.IssueConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "Invalid request body"))
		return
	}

	issued, err := h.svcs.Keys.Issue(ctx, tc.MunicipalityID, cfg)
	if err != nil {
		h.logger.ErrorContext(ctx, "key issuance failed",
			"municipality", tc.MunicipalityID, "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "Could not issue API key"))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"key_id":  issued.KeyID,
		"key":     issued.Key,
	})
}

func (h *handler) handleGDPR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tc, _ := tenantmw.TenantFrom(ctx)
	action := gdpr.Action(chi.URLParam(r, "action"))
	subjectID := r.URL.Query().Get("subjectId")

	result, err := h.svcs.GDPR.ProcessRequest(ctx, tc.MunicipalityID, action, subjectID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			httputil.WriteError(w, err)
			return
		}
		// Structured failure plus surfaced error: report as a server fault
		// but keep the result body for automated callers.
		httputil.WriteJSON(w, http.StatusInternalServerError, result)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
