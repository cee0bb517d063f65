package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/ingest/internal/app/control"
	"github.com/openctemio/ingest/pkg/apierror"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// ControlService triggers and completes external controls.
type ControlService interface {
	Trigger(ctx context.Context, params control.TriggerParams) (*control.TriggerResult, error)
	Complete(ctx context.Context, statusID shared.ID, passed bool) error
}

// ControlHandler handles external-control endpoints.
type ControlHandler struct {
	service ControlService
	logger  *logger.Logger
}

// NewControlHandler creates a new control handler.
func NewControlHandler(service ControlService, log *logger.Logger) *ControlHandler {
	return &ControlHandler{service: service, logger: log}
}

// TriggerResponse is the response of a control trigger request.
type TriggerResponse struct {
	Success     bool   `json:"success"`
	StatusID    string `json:"status_id,omitempty"`
	FailureType string `json:"failure_type,omitempty"`
	Message     string `json:"message,omitempty"`
	HTTPStatus  int    `json:"http_status,omitempty"`
}

// Trigger fires the external control webhook for a project.
func (h *ControlHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	name := chi.URLParam(r, "controlName")

	result, err := h.service.Trigger(r.Context(), control.TriggerParams{
		ProjectID:   projectID,
		ControlName: name,
	})
	if err != nil {
		h.logger.WithError(err).ErrorContext(r.Context(), "control trigger failed",
			"project_id", projectID,
			"control", name,
		)
		respondError(w, r, err)
		return
	}

	response := TriggerResponse{
		Success:     result.Success,
		FailureType: result.FailureType,
		Message:     result.Message,
		HTTPStatus:  result.HTTPStatus,
	}
	if !result.StatusID.IsZero() {
		response.StatusID = result.StatusID.String()
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, response)
}

// CompleteRequest is the callback body an external control posts back.
type CompleteRequest struct {
	Passed bool `json:"passed"`
}

// Complete records the external control's verdict for a pending status.
func (h *ControlHandler) Complete(w http.ResponseWriter, r *http.Request) {
	statusID, err := parseID(chi.URLParam(r, "statusID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, apierror.BadRequest("invalid request body"))
		return
	}

	if err := h.service.Complete(r.Context(), statusID, req.Passed); err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
