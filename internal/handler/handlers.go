// Package handler provides the HTTP handlers of the status/control API and the webhook ingress.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/adapter/webhook"
	"github.com/Josh-XT/AGiXT-sub003/internal/apierrors"
	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/supervisor"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// MaxWebhookBody caps the size of a pushed event
const MaxWebhookBody = 1 << 20

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	supervisor   *supervisor.Supervisor
	errorHandler *apierrors.Handler
	logger       *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sup *supervisor.Supervisor, errorHandler *apierrors.Handler, logger *zap.Logger) *Handlers {
	return &Handlers{
		supervisor:   sup,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// PlatformSummary describes one platform in GET /v1/platforms
type PlatformSummary struct {
	Platform      string     `json:"platform"`
	Workers       int        `json:"workers"`
	LastReconcile *time.Time `json:"last_reconcile,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// WorkersResponse is the body of GET /v1/platforms/{platform}/workers
type WorkersResponse struct {
	Platform string               `json:"platform"`
	Workers  []model.WorkerHandle `json:"workers"`
}

// ListPlatforms handles GET /v1/platforms.
func (h *Handlers) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	platforms := h.supervisor.Platforms()
	out := make([]PlatformSummary, 0, len(platforms))
	for _, name := range platforms {
		rec, err := h.supervisor.Reconciler(name)
		if err != nil {
			continue
		}
		summary := PlatformSummary{Platform: name, Workers: rec.Registry().Len()}
		if at, lastErr := rec.LastReconcile(); !at.IsZero() {
			summary.LastReconcile = &at
			if lastErr != nil {
				summary.LastError = lastErr.Error()
			}
		}
		out = append(out, summary)
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"platforms": out})
}

// ListWorkers handles GET /v1/platforms/{platform}/workers.
func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]

	handles, err := h.supervisor.Statuses(platform)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, WorkersResponse{Platform: platform, Workers: handles})
}

// GetWorker handles GET /v1/platforms/{platform}/workers/{tenant_id}.
func (h *Handlers) GetWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	handle, err := h.supervisor.Status(vars["platform"], vars["tenant_id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, handle)
}

// StartWorker handles POST /v1/platforms/{platform}/workers/{tenant_id}/start.
func (h *Handlers) StartWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	rec, err := h.supervisor.Reconciler(vars["platform"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	handle, err := rec.ForceStart(r.Context(), vars["tenant_id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.Info("Worker force-started",
		zap.String("platform", vars["platform"]),
		zap.String("tenant_id", vars["tenant_id"]),
		zap.String("request_id", r.Header.Get("X-Request-ID")))
	h.writeJSONResponse(w, http.StatusOK, handle)
}

// StopWorker handles POST /v1/platforms/{platform}/workers/{tenant_id}/stop.
func (h *Handlers) StopWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	rec, err := h.supervisor.Reconciler(vars["platform"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if err := rec.ForceStop(r.Context(), vars["tenant_id"]); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.Info("Worker force-stopped",
		zap.String("platform", vars["platform"]),
		zap.String("tenant_id", vars["tenant_id"]),
		zap.String("request_id", r.Header.Get("X-Request-ID")))
	h.writeJSONResponse(w, http.StatusOK, map[string]string{
		"platform":  vars["platform"],
		"tenant_id": vars["tenant_id"],
		"status":    string(model.WorkerStopped),
	})
}

// Reconcile handles POST /v1/platforms/{platform}/reconcile.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.supervisor.Reconciler(mux.Vars(r)["platform"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	report, err := rec.Reconcile(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, report)
}

// Webhook handles POST /v1/webhooks/{platform}.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	platform := mux.Vars(r)["platform"]

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBody+1))
	if err != nil {
		h.errorHandler.WriteValidationError(w, "failed to read body", requestID)
		return
	}
	if len(body) > MaxWebhookBody {
		h.errorHandler.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, apierrors.ErrorCodeInvalidRequest, "event too large", requestID)
		return
	}

	event, err := webhook.ParseEvent(r.Header.Get("X-Event-Type"), body)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	tenantHint := r.Header.Get("X-Tenant-Hint")
	if tenantHint == "" {
		tenantHint = r.URL.Query().Get("tenant")
	}

	outcome, err := h.supervisor.RouteWebhook(r.Context(), platform, tenantHint, event)
	if err != nil && outcome.Kind == "" {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	status := http.StatusOK
	if outcome.Kind == model.OutcomeFailed {
		// The event is already marked seen, so a platform retry would be a no-op
		status = http.StatusAccepted
		h.logger.Warn("Webhook event failed",
			zap.String("platform", platform),
			zap.String("event_id", event.ID),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
	h.writeJSONResponse(w, status, outcome)
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}
