package ingestion

import (
	"context"
	"fmt"
	"slices"

	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// PipelineResult is the outcome of ingesting every eligible scan of one
// pipeline.
type PipelineResult struct {
	// IngestedIDs holds the produced vulnerability ids merged per scanner
	// external id. Two scans of the same scanner in one pipeline family
	// contribute to one entry.
	IngestedIDs map[string][]shared.ID

	SlicesIngested int
	SlicesSkipped  int
	Flagged        int
	AutoResolved   int
}

// ReportsIngestionDriver ingests all security scans of a pipeline: one
// slice per scan, then reconciliation per scanner, then the fire-and-forget
// follow-up jobs.
type ReportsIngestionDriver struct {
	primary      PrimaryStore
	secondary    SecondaryStore
	scans        ScanSource
	orchestrator *SliceIngestionOrchestrator
	reconciler   *ResolutionReconciler
	enqueuer     Enqueuer
	log          *logger.Logger
}

// NewReportsIngestionDriver wires the driver.
func NewReportsIngestionDriver(
	primary PrimaryStore,
	secondary SecondaryStore,
	scans ScanSource,
	orchestrator *SliceIngestionOrchestrator,
	reconciler *ResolutionReconciler,
	enqueuer Enqueuer,
	log *logger.Logger,
) *ReportsIngestionDriver {
	return &ReportsIngestionDriver{
		primary:      primary,
		secondary:    secondary,
		scans:        scans,
		orchestrator: orchestrator,
		reconciler:   reconciler,
		enqueuer:     enqueuer,
		log:          log.With("component", "reports_ingestion_driver"),
	}
}

// scannerKey groups slices that reconcile together.
type scannerKey struct {
	externalID string
	reportType report.Type
}

// IngestPipeline ingests the latest succeeded scans of the pipeline family.
// A slice failure aborts only that slice; the remaining scans still ingest
// and reconcile.
func (d *ReportsIngestionDriver) IngestPipeline(ctx context.Context, pipeline *report.Pipeline) (*PipelineResult, error) {
	project, err := d.primary.Project(ctx, pipeline.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", pipeline.ProjectID, err)
	}
	if project.Archived {
		d.log.InfoContext(ctx, "skipping archived project", "project_id", project.ID)
		return &PipelineResult{IngestedIDs: map[string][]shared.ID{}}, nil
	}

	eligible, err := d.scans.LatestSucceededScans(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("load scans for pipeline %s: %w", pipeline.ID, err)
	}

	result := &PipelineResult{IngestedIDs: map[string][]shared.ID{}}
	ingestedByScanner := make(map[scannerKey][]shared.ID)
	identifiersByType := make(map[report.Type][]string)

	for _, scan := range eligible {
		if scan.Scanner == nil {
			d.log.WarnContext(ctx, "scan without scanner metadata skipped",
				"scan_id", scan.ID,
				"report_type", string(scan.Type),
			)
			result.SlicesSkipped++
			continue
		}

		sliceResult, err := d.orchestrator.IngestSlice(ctx, pipeline, scan, project)
		if err != nil {
			d.log.WithError(err).ErrorContext(ctx, "slice ingestion failed",
				"scan_id", scan.ID,
				"scanner", scan.Scanner.ExternalID,
				"report_type", string(scan.Type),
			)
			result.SlicesSkipped++
			continue
		}
		if sliceResult.QuotaExceeded {
			result.SlicesSkipped++
			continue
		}
		result.SlicesIngested++

		key := scannerKey{externalID: scan.Scanner.ExternalID, reportType: scan.Type}
		ingestedByScanner[key] = append(ingestedByScanner[key], sliceResult.VulnerabilityIDs...)
		result.IngestedIDs[scan.Scanner.ExternalID] = append(result.IngestedIDs[scan.Scanner.ExternalID], sliceResult.VulnerabilityIDs...)
		identifiersByType[scan.Type] = append(identifiersByType[scan.Type], primaryIdentifiers(scan)...)
	}

	if err := d.primary.RecordLatestPipeline(ctx, pipeline); err != nil {
		return nil, fmt.Errorf("record latest pipeline: %w", err)
	}

	// Reconciliation runs per scanner, against the merged ids of all that
	// scanner's slices, only for scanners that ingested successfully in
	// this run. A failed slice must not resolve its own findings.
	for key, ids := range ingestedByScanner {
		reconciled, err := d.reconciler.Reconcile(ctx, project, pipeline, key.externalID, key.reportType, ids)
		if err != nil {
			d.log.WithError(err).ErrorContext(ctx, "reconciliation failed",
				"scanner", key.externalID,
				"report_type", string(key.reportType),
			)
			continue
		}
		result.Flagged += reconciled.Flagged
		result.AutoResolved += reconciled.AutoResolved
	}

	d.enqueueFollowUps(ctx, project, pipeline, ingestedByScanner, identifiersByType)
	d.repairDriftedReads(ctx, project)

	return result, nil
}

// primaryIdentifiers collects the first identifier of each parsed finding;
// that is the identifier dropped-but-dismissed vulnerabilities are matched
// on.
func primaryIdentifiers(scan *report.Scan) []string {
	var ids []string
	for _, rf := range scan.ReportFindings {
		if len(rf.Identifiers) > 0 && rf.Identifiers[0].ExternalID != "" {
			ids = append(ids, rf.Identifiers[0].ExternalID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (d *ReportsIngestionDriver) enqueueFollowUps(
	ctx context.Context,
	project *report.Project,
	pipeline *report.Pipeline,
	ingestedByScanner map[scannerKey][]shared.ID,
	identifiersByType map[report.Type][]string,
) {
	hasSBOMSources := false
	for key := range ingestedByScanner {
		if key.reportType == report.TypeContainerScanning || key.reportType == report.TypeDependencyScanning {
			hasSBOMSources = true
			break
		}
	}
	if hasSBOMSources {
		if err := d.enqueuer.EnqueueSBOMIngestion(ctx, project.ID); err != nil {
			d.log.WithError(err).WarnContext(ctx, "sbom ingestion enqueue failed", "project_id", project.ID)
		}
	}

	for reportType, identifiers := range identifiersByType {
		if len(identifiers) == 0 {
			continue
		}
		if err := d.enqueuer.EnqueueDroppedResolution(ctx, project.ID, reportType, identifiers); err != nil {
			d.log.WithError(err).WarnContext(ctx, "dropped resolution enqueue failed",
				"project_id", project.ID,
				"report_type", string(reportType),
			)
		}
	}

	// Approval rules only re-evaluate for projects with scan-result
	// policies; everyone else skips the job entirely.
	usesPolicies, err := d.secondary.UsesScanResultPolicies(ctx, project.ID)
	if err != nil {
		d.log.WithError(err).WarnContext(ctx, "scan-result policy lookup failed", "project_id", project.ID)
		return
	}
	if usesPolicies {
		if err := d.enqueuer.EnqueueApprovalRuleSync(ctx, project.ID, pipeline.ID); err != nil {
			d.log.WithError(err).WarnContext(ctx, "approval rule sync enqueue failed", "project_id", project.ID)
		}
	}
}

// repairDriftedReads reloads the project and schedules a read-model repair
// when its denormalized attributes changed while ingestion ran.
func (d *ReportsIngestionDriver) repairDriftedReads(ctx context.Context, snapshot *report.Project) {
	current, err := d.primary.Project(ctx, snapshot.ID)
	if err != nil {
		d.log.WithError(err).WarnContext(ctx, "drift check failed", "project_id", snapshot.ID)
		return
	}
	if current.Archived == snapshot.Archived && slices.Equal(current.TraversalIDs, snapshot.TraversalIDs) {
		return
	}
	d.log.InfoContext(ctx, "project attributes drifted during ingestion, scheduling read repair",
		"project_id", snapshot.ID,
	)
	if err := d.enqueuer.EnqueueReadsRepair(ctx, snapshot.ID); err != nil {
		d.log.WithError(err).WarnContext(ctx, "reads repair enqueue failed", "project_id", snapshot.ID)
	}
}
