package ingestion

import (
	"context"
	"fmt"

	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// ContinuousSource supplies the SBOM-derived scan for a project. Owned by
// the SBOM subsystem; nil scan means the project has no SBOM data yet.
type ContinuousSource interface {
	LatestContinuousScan(ctx context.Context, projectID shared.ID) (*report.Scan, error)
}

// ContinuousScanService runs continuous vulnerability scanning for one
// project: no pipeline, the synthetic scanner, and reconciliation against
// that scanner's previous findings.
type ContinuousScanService struct {
	primary      PrimaryStore
	source       ContinuousSource
	orchestrator *SliceIngestionOrchestrator
	reconciler   *ResolutionReconciler
	log          *logger.Logger
}

// NewContinuousScanService wires the service around the continuous-scan
// orchestrator configuration.
func NewContinuousScanService(
	primary PrimaryStore,
	source ContinuousSource,
	orchestrator *SliceIngestionOrchestrator,
	reconciler *ResolutionReconciler,
	log *logger.Logger,
) *ContinuousScanService {
	return &ContinuousScanService{
		primary:      primary,
		source:       source,
		orchestrator: orchestrator,
		reconciler:   reconciler,
		log:          log.With("component", "continuous_scan_service"),
	}
}

// IngestProject runs one continuous scan for the project. Projects without
// SBOM data are a no-op.
func (s *ContinuousScanService) IngestProject(ctx context.Context, projectID shared.ID) (*Result, error) {
	project, err := s.primary.Project(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}
	if project.Archived {
		return &Result{}, nil
	}

	scan, err := s.source.LatestContinuousScan(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load continuous scan: %w", err)
	}
	if scan == nil {
		return &Result{}, nil
	}

	result, err := s.orchestrator.IngestSlice(ctx, nil, scan, project)
	if err != nil {
		return nil, err
	}
	if result.QuotaExceeded {
		return result, nil
	}

	reconciled, err := s.reconciler.Reconcile(ctx, project, nil, report.ContinuousScannerExternalID, scan.Type, result.VulnerabilityIDs)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "continuous scan completed",
		"project_id", projectID,
		"ingested", len(result.VulnerabilityIDs),
		"flagged", reconciled.Flagged,
		"auto_resolved", reconciled.AutoResolved,
	)

	return result, nil
}
