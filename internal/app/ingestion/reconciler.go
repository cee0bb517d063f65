package ingestion

import (
	"context"
	"fmt"

	"github.com/openctemio/ingest/internal/metrics"
	"github.com/openctemio/ingest/pkg/domain/audit"
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// ReconcileResult summarizes one reconciliation run for one scanner.
type ReconcileResult struct {
	// Flagged is how many vulnerabilities were marked no longer detected.
	Flagged int
	// AutoResolved is how many of the flagged vulnerabilities were closed
	// within the auto-resolve budget.
	AutoResolved int
}

// ResolutionReconciler diffs the vulnerability read model of one scanner
// against the ids the latest ingestion produced and flags everything the
// scanner stopped reporting.
//
// Flagging is unbounded; the automatic closure that may follow is budgeted
// per run and the two never gate each other.
type ResolutionReconciler struct {
	primary  PrimaryStore
	resolver AutoResolver
	recorder audit.Recorder
	log      *logger.Logger

	batchSize int
	budget    int
}

// NewResolutionReconciler builds a reconciler. batchSize bounds the keyset
// pages read from the read model; budget caps automatic closures per run.
func NewResolutionReconciler(
	primary PrimaryStore,
	resolver AutoResolver,
	recorder audit.Recorder,
	log *logger.Logger,
	batchSize int,
	budget int,
) *ResolutionReconciler {
	return &ResolutionReconciler{
		primary:   primary,
		resolver:  resolver,
		recorder:  recorder,
		log:       log.With("component", "resolution_reconciler"),
		batchSize: batchSize,
		budget:    budget,
	}
}

// reconcilePass is one (scanner, report type) pair to diff. Classic
// container and dependency scanners also supersede the synthetic continuous
// scanner for their report type, so their runs carry an extra pass.
type reconcilePass struct {
	scannerExternalID string
	reportType        report.Type
}

func passesFor(scannerExternalID string, reportType report.Type) []reconcilePass {
	passes := []reconcilePass{{scannerExternalID: scannerExternalID, reportType: reportType}}

	supersedes := false
	switch reportType {
	case report.TypeContainerScanning:
		supersedes = contains(report.ContainerScanningExternalIDs, scannerExternalID)
	case report.TypeDependencyScanning:
		supersedes = contains(report.DependencyScanningExternalIDs, scannerExternalID)
	}
	if supersedes {
		passes = append(passes, reconcilePass{
			scannerExternalID: report.ContinuousScannerExternalID,
			reportType:        reportType,
		})
	}
	return passes
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// Reconcile flags the vulnerabilities of one scanner that the given
// ingestion no longer reported, then auto-resolves as many of them as the
// budget allows. ingestedIDs must be the merged ids of every slice the
// scanner produced in this run.
func (r *ResolutionReconciler) Reconcile(
	ctx context.Context,
	project *report.Project,
	pipeline *report.Pipeline,
	scannerExternalID string,
	reportType report.Type,
	ingestedIDs []shared.ID,
) (*ReconcileResult, error) {
	ingested := make(map[shared.ID]struct{}, len(ingestedIDs))
	for _, id := range ingestedIDs {
		ingested[id] = struct{}{}
	}

	result := &ReconcileResult{}
	var flagged []shared.ID

	for _, pass := range passesFor(scannerExternalID, reportType) {
		passFlagged, err := r.flagMissing(ctx, project, pipeline, pass, ingested)
		if err != nil {
			return nil, err
		}
		flagged = append(flagged, passFlagged...)
	}
	result.Flagged = len(flagged)

	if r.resolver != nil && len(flagged) > 0 {
		toResolve := flagged
		if len(toResolve) > r.budget {
			toResolve = toResolve[:r.budget]
		}
		resolved, err := r.resolver.Resolve(ctx, project.ID, toResolve)
		result.AutoResolved = resolved
		metrics.VulnerabilitiesAutoResolvedTotal.Add(float64(resolved))
		if err != nil {
			// Flagging already committed; closure catches up on the next
			// run. One aggregated line per run, not one per failure.
			r.log.WithError(err).WarnContext(ctx, "auto-resolve incomplete",
				"project_id", project.ID,
				"scanner", scannerExternalID,
				"attempted", len(toResolve),
				"resolved", resolved,
			)
		}
	}

	return result, nil
}

// flagMissing walks one scanner's read model in keyset batches and flags
// every vulnerability absent from the ingested set.
func (r *ResolutionReconciler) flagMissing(
	ctx context.Context,
	project *report.Project,
	pipeline *report.Pipeline,
	pass reconcilePass,
	ingested map[shared.ID]struct{},
) ([]shared.ID, error) {
	var flagged []shared.ID
	var afterID shared.ID

	for {
		batch, err := r.primary.VulnerabilityReadIDs(ctx, project.ID, pass.scannerExternalID, pass.reportType, afterID, r.batchSize)
		if err != nil {
			return nil, fmt.Errorf("page vulnerability reads for %s: %w", pass.scannerExternalID, err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1]
		metrics.ReconciliationBatchesTotal.Inc()

		missing := make([]shared.ID, 0, len(batch))
		for _, id := range batch {
			if _, ok := ingested[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 {
			if len(batch) < r.batchSize {
				break
			}
			continue
		}

		resolvable, err := r.primary.ResolvableVulnerabilityIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("filter resolvable vulnerabilities: %w", err)
		}
		if len(resolvable) > 0 {
			changed, err := r.primary.MarkNoLongerDetected(ctx, resolvable)
			if err != nil {
				return nil, fmt.Errorf("mark no longer detected: %w", err)
			}
			metrics.VulnerabilitiesResolvedTotal.Add(float64(changed))

			var pipelineID shared.ID
			if pipeline != nil {
				pipelineID = pipeline.ID
			}
			if err := r.primary.CreateRepresentationInformation(ctx, project.ID, pipelineID, resolvable); err != nil {
				return nil, fmt.Errorf("create representation information: %w", err)
			}
			r.auditRepresentations(ctx, project.ID, pipelineID, pass, len(resolvable))
			r.audit(ctx, project.ID, pass, resolvable)

			flagged = append(flagged, resolvable...)
		}

		if len(batch) < r.batchSize {
			break
		}
	}

	return flagged, nil
}

// auditRepresentations records one event per created batch of
// representation rows, carrying the pipeline that retired them.
func (r *ResolutionReconciler) auditRepresentations(ctx context.Context, projectID, pipelineID shared.ID, pass reconcilePass, count int) {
	if r.recorder == nil {
		return
	}
	event := audit.NewEvent(audit.EventRepresentationInfoCreated, projectID)
	event.Details = map[string]any{
		"scanner":     pass.scannerExternalID,
		"report_type": string(pass.reportType),
		"count":       count,
	}
	if !pipelineID.IsZero() {
		event.Details["pipeline_id"] = pipelineID.String()
	}
	r.recorder.Record(ctx, event)
}

func (r *ResolutionReconciler) audit(ctx context.Context, projectID shared.ID, pass reconcilePass, ids []shared.ID) {
	if r.recorder == nil {
		return
	}
	for _, id := range ids {
		event := audit.NewEvent(audit.EventVulnerabilityNoLongerFound, projectID)
		event.TargetID = id
		event.Details = map[string]any{
			"scanner":     pass.scannerExternalID,
			"report_type": string(pass.reportType),
		}
		r.recorder.Record(ctx, event)
	}
}
