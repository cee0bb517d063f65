// Package handler implements the HTTP handlers for the ingestion API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/openctemio/ingest/internal/infra/http/middleware"
	"github.com/openctemio/ingest/pkg/apierror"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

// respondJSON writes data as a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError maps the error to an API error response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	apierror.FromError(err).WriteJSON(w, middleware.GetRequestID(r.Context()))
}

// parseID parses a UUID path parameter.
func parseID(raw string) (shared.ID, error) {
	id, err := shared.IDFromString(raw)
	if err != nil {
		return shared.ID{}, apierror.BadRequest("invalid id: " + raw)
	}
	return id, nil
}
