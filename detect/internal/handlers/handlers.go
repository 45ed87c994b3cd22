// Package handlers provides HTTP request handlers for the detect service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/telhawk-systems/secops-alerts/common/httputil"
	"github.com/telhawk-systems/secops-alerts/common/logging"
	"github.com/telhawk-systems/secops-alerts/detect/internal/events"
	"github.com/telhawk-systems/secops-alerts/detect/internal/models"
	"github.com/telhawk-systems/secops-alerts/detect/internal/service"
	"github.com/telhawk-systems/secops-alerts/detect/internal/storage"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
	defaultHours = 24
	maxHours     = 168
)

// AlertService is the orchestrator surface used by the handlers.
// *service.Service satisfies it.
type AlertService interface {
	GetAlerts(ctx context.Context, f service.AlertFilter) []models.Alert
	GetAlertStats(ctx context.Context) models.Stats
	GetRecentEvents(ctx context.Context, hours int) []events.Event
	RunPass(ctx context.Context, trigger string) service.PassResult
	UpdateAlertStatus(ctx context.Context, id string, status models.Status) error
	Ready(ctx context.Context) error
}

// Handler provides HTTP handlers for the detect service
type Handler struct {
	svc      AlertService
	validate *validator.Validate
	logger   *logging.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(svc AlertService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger,
	}
}

// StatusUpdateRequest is the PATCH /alerts/{id}/status body.
type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=open investigating resolved false_positive"`
}

// StatusUpdateResponse confirms a status change.
type StatusUpdateResponse struct {
	Message string        `json:"message"`
	ID      string        `json:"id"`
	Status  models.Status `json:"status"`
}

// GenerateResponse reports the outcome of a detection pass.
type GenerateResponse struct {
	Message       string `json:"message"`
	AlertCount    int    `json:"alert_count"`
	NewAlertCount int    `json:"new_alert_count"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Store   string `json:"store,omitempty"`
}

// =============================================================================
// Helper Methods
// =============================================================================

// extractIDFromPath extracts an ID from a URL path like /alerts/{id}/status
func extractIDFromPath(path, prefix string) string {
	remaining := strings.TrimPrefix(path, prefix)
	remaining = strings.TrimPrefix(remaining, "/")

	parts := strings.Split(remaining, "/")
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	httputil.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
}

func validationError(w http.ResponseWriter, detail string) {
	httputil.WriteError(w, http.StatusUnprocessableEntity, "validation_error", detail)
}

// =============================================================================
// Health Check Handlers
// =============================================================================

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: "detect"})
}

// ReadyCheck handles GET /readyz. A missing store is reported but does not
// fail readiness since alerts are still generated on demand.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ready", Service: "detect", Store: "ok"}
	if err := h.svc.Ready(r.Context()); err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			resp.Store = "disabled"
			httputil.WriteJSON(w, http.StatusOK, resp)
			return
		}
		resp.Status = "not_ready"
		resp.Store = err.Error()
		httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Alert Handlers
// =============================================================================

// ListAlerts handles GET /alerts/?status=&severity=&limit=
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	q := r.URL.Query()
	limit, err := httputil.ParseBoundedInt(q, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		validationError(w, err.Error())
		return
	}

	filter := service.AlertFilter{Limit: limit}
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			validationError(w, err.Error())
			return
		}
		filter.Status = status
	}
	if raw := q.Get("severity"); raw != "" {
		severity, err := models.ParseSeverity(raw)
		if err != nil {
			validationError(w, err.Error())
			return
		}
		filter.Severity = severity
	}

	alerts := h.svc.GetAlerts(r.Context(), filter)
	if alerts == nil {
		alerts = []models.Alert{}
	}
	httputil.WriteJSON(w, http.StatusOK, alerts)
}

// AlertStats handles GET /alerts/stats
func (h *Handler) AlertStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.svc.GetAlertStats(r.Context()))
}

// GenerateAlerts handles POST /alerts/generate
func (h *Handler) GenerateAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	res := h.svc.RunPass(r.Context(), "api")
	httputil.WriteJSON(w, http.StatusOK, GenerateResponse{
		Message:       fmt.Sprintf("Generated %d alerts", len(res.Alerts)),
		AlertCount:    len(res.Alerts),
		NewAlertCount: len(res.NewAlerts),
	})
}

// RecentEvents handles GET /alerts/events?hours=
func (h *Handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	hours, err := httputil.ParseBoundedInt(r.URL.Query(), "hours", defaultHours, 1, maxHours)
	if err != nil {
		validationError(w, err.Error())
		return
	}

	evts := h.svc.GetRecentEvents(r.Context(), hours)
	if evts == nil {
		evts = []events.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, evts)
}

// UpdateAlertStatus handles PATCH /alerts/{id}/status
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, http.MethodPatch)
		return
	}

	id := extractIDFromPath(r.URL.Path, "/alerts")
	if id == "" {
		validationError(w, "alert id required")
		return
	}

	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		validationError(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		validationError(w, fmt.Sprintf("status must be one of %s", strings.Join(statusNames(), ", ")))
		return
	}

	status := models.Status(req.Status)
	err := h.svc.UpdateAlertStatus(r.Context(), id, status)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, StatusUpdateResponse{
			Message: "Alert status updated",
			ID:      id,
			Status:  status,
		})
	case errors.Is(err, storage.ErrAlertNotFound):
		httputil.WriteError(w, http.StatusNotFound, "not_found", fmt.Sprintf("alert %s not found", id))
	case errors.Is(err, models.ErrInvalidStatus):
		validationError(w, err.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		httputil.WriteError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		h.logger.WithContext(r.Context()).Error("failed to update alert status", logging.AlertID(id), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "failed to update alert status")
	}
}

func statusNames() []string {
	names := make([]string, len(models.Statuses))
	for i, s := range models.Statuses {
		names[i] = string(s)
	}
	return names
}
