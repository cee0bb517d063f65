package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// PipelineLoader loads pipeline metadata for ingestion requests.
type PipelineLoader interface {
	Pipeline(ctx context.Context, pipelineID shared.ID) (*report.Pipeline, error)
}

// PipelineIngestor runs report ingestion for a whole pipeline.
type PipelineIngestor interface {
	IngestPipeline(ctx context.Context, pipeline *report.Pipeline) (*ingestion.PipelineResult, error)
}

// ContinuousIngestor runs a continuous vulnerability scan for a project.
type ContinuousIngestor interface {
	IngestProject(ctx context.Context, projectID shared.ID) (*ingestion.Result, error)
}

// IngestionHandler handles ingestion trigger requests.
type IngestionHandler struct {
	pipelines  PipelineLoader
	driver     PipelineIngestor
	continuous ContinuousIngestor
	logger     *logger.Logger
}

// NewIngestionHandler creates a new ingestion handler.
func NewIngestionHandler(pipelines PipelineLoader, driver PipelineIngestor, continuous ContinuousIngestor, log *logger.Logger) *IngestionHandler {
	return &IngestionHandler{
		pipelines:  pipelines,
		driver:     driver,
		continuous: continuous,
		logger:     log,
	}
}

// PipelineIngestionResponse summarizes one pipeline ingestion run.
type PipelineIngestionResponse struct {
	PipelineID     string         `json:"pipeline_id"`
	SlicesIngested int            `json:"slices_ingested"`
	SlicesSkipped  int            `json:"slices_skipped"`
	Ingested       map[string]int `json:"ingested_by_scanner"`
	Flagged        int            `json:"flagged"`
	AutoResolved   int            `json:"auto_resolved"`
}

// IngestPipeline triggers ingestion of all succeeded scans of a pipeline.
func (h *IngestionHandler) IngestPipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := parseID(chi.URLParam(r, "pipelineID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	pipeline, err := h.pipelines.Pipeline(r.Context(), pipelineID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := h.driver.IngestPipeline(r.Context(), pipeline)
	if err != nil {
		h.logger.WithError(err).ErrorContext(r.Context(), "pipeline ingestion failed", "pipeline_id", pipelineID)
		respondError(w, r, err)
		return
	}

	ingested := make(map[string]int, len(result.IngestedIDs))
	for scanner, ids := range result.IngestedIDs {
		ingested[scanner] = len(ids)
	}

	respondJSON(w, http.StatusOK, PipelineIngestionResponse{
		PipelineID:     pipelineID.String(),
		SlicesIngested: result.SlicesIngested,
		SlicesSkipped:  result.SlicesSkipped,
		Ingested:       ingested,
		Flagged:        result.Flagged,
		AutoResolved:   result.AutoResolved,
	})
}

// ContinuousScanResponse summarizes one continuous scan run.
type ContinuousScanResponse struct {
	ProjectID     string `json:"project_id"`
	Ingested      int    `json:"ingested"`
	NewRecords    int    `json:"new_records"`
	QuotaExceeded bool   `json:"quota_exceeded"`
}

// IngestContinuousScan triggers a continuous vulnerability scan for a
// project outside its schedule.
func (h *IngestionHandler) IngestContinuousScan(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := h.continuous.IngestProject(r.Context(), projectID)
	if err != nil {
		h.logger.WithError(err).ErrorContext(r.Context(), "continuous scan failed", "project_id", projectID)
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ContinuousScanResponse{
		ProjectID:     projectID.String(),
		Ingested:      len(result.VulnerabilityIDs),
		NewRecords:    result.NewRecords,
		QuotaExceeded: result.QuotaExceeded,
	})
}
