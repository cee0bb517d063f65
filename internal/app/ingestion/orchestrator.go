package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/openctemio/ingest/internal/metrics"
	"github.com/openctemio/ingest/pkg/domain/audit"
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// Result is the outcome of ingesting one slice.
type Result struct {
	VulnerabilityIDs []shared.ID
	NewRecords       int

	// QuotaExceeded marks a soft stop: the slice was skipped because the
	// project exhausted its vulnerability quota. Not an error.
	QuotaExceeded bool
}

// SliceIngestionOrchestrator runs the ordered task chain for one scan's
// finding maps: primary transaction, deferred callbacks, secondary
// transaction, then best-effort search index sync.
//
// The report-slice and continuous-scan configurations share everything but
// the task list and the UUID backfill step.
type SliceIngestionOrchestrator struct {
	primary   PrimaryStore
	secondary SecondaryStore
	quota     QuotaSource
	search    SearchTracker
	log       *logger.Logger

	tasks          []Task
	secondaryTasks []SecondaryTask
	continuous     bool
}

// NewReportSliceOrchestrator builds the orchestrator for regular report
// slices produced by CI pipelines.
func NewReportSliceOrchestrator(
	primary PrimaryStore,
	secondary SecondaryStore,
	quota QuotaSource,
	search SearchTracker,
	recorder audit.Recorder,
	log *logger.Logger,
) *SliceIngestionOrchestrator {
	return &SliceIngestionOrchestrator{
		primary:        primary,
		secondary:      secondary,
		quota:          quota,
		search:         search,
		log:            log.With("component", "slice_orchestrator"),
		tasks:          reportSliceTasks(recorder),
		secondaryTasks: secondarySliceTasks(),
	}
}

// NewContinuousScanOrchestrator builds the orchestrator for continuous
// vulnerability scanning. It provisions the synthetic scanner itself and
// accepts a nil pipeline.
func NewContinuousScanOrchestrator(
	primary PrimaryStore,
	secondary SecondaryStore,
	quota QuotaSource,
	search SearchTracker,
	recorder audit.Recorder,
	log *logger.Logger,
) *SliceIngestionOrchestrator {
	return &SliceIngestionOrchestrator{
		primary:        primary,
		secondary:      secondary,
		quota:          quota,
		search:         search,
		log:            log.With("component", "continuous_scan_orchestrator"),
		tasks:          continuousScanSliceTasks(recorder),
		secondaryTasks: secondarySliceTasks(),
		continuous:     true,
	}
}

// IngestSlice runs the full slice lifecycle for one scan and returns the
// vulnerability ids it produced. A quota soft stop returns an empty result
// with QuotaExceeded set and no error; sibling slices keep going.
func (o *SliceIngestionOrchestrator) IngestSlice(ctx context.Context, pipeline *report.Pipeline, scan *report.Scan, project *report.Project) (*Result, error) {
	started := time.Now()
	reportType := string(scan.Type)

	result, err := o.ingest(ctx, pipeline, scan, project)
	metrics.SliceDuration.WithLabelValues(reportType).Observe(time.Since(started).Seconds())

	switch {
	case err != nil:
		metrics.SlicesIngestedTotal.WithLabelValues(reportType, "failure").Inc()
	case result.QuotaExceeded:
		metrics.SlicesIngestedTotal.WithLabelValues(reportType, "quota_rejected").Inc()
	default:
		metrics.SlicesIngestedTotal.WithLabelValues(reportType, "success").Inc()
	}

	return result, err
}

func (o *SliceIngestionOrchestrator) ingest(ctx context.Context, pipeline *report.Pipeline, scan *report.Scan, project *report.Project) (*Result, error) {
	collection := NewFindingMapCollection(pipeline, scan)
	if collection.Len() == 0 {
		return &Result{}, nil
	}

	// UUID recalculations must be durable before the slice transaction
	// opens, so concurrent slices never race a half-renamed finding.
	if !o.continuous {
		if err := o.backfillUUIDs(ctx, scan); err != nil {
			return nil, err
		}
	}

	quota, err := o.quota.QuotaFor(ctx, scan.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve project quota: %w", err)
	}
	if err := quota.Validate(); err != nil {
		if shared.IsQuotaExceeded(err) {
			metrics.QuotaRejectionsTotal.Inc()
			o.log.WarnContext(ctx, "slice skipped, project quota exhausted",
				"project_id", scan.ProjectID,
				"report_type", string(scan.Type),
			)
			return &Result{QuotaExceeded: true}, nil
		}
		return nil, err
	}

	slice := &Slice{
		Pipeline: pipeline,
		Scan:     scan,
		Project:  project,
		Maps:     collection.Maps(),
		Context:  NewIngestionContext(),
	}

	if err := o.primary.InTransaction(ctx, func(tx PrimaryTx) error {
		if !o.continuous && scan.Scanner != nil {
			scannerID, err := tx.UpsertScanner(ctx, scan.ProjectID, scan.Scanner)
			if err != nil {
				return fmt.Errorf("upsert scanner %s: %w", scan.Scanner.ExternalID, err)
			}
			slice.ScannerID = scannerID
			scan.Scanner.ID = scannerID
		}
		for _, task := range o.tasks {
			if err := task.Execute(ctx, tx, slice); err != nil {
				return fmt.Errorf("task %s: %w", task.Name(), err)
			}
		}
		return nil
	}); err != nil {
		// A unique violation means two slices raced the same natural key
		// past the upsert retry. The slice is retriable as a whole; the
		// pipeline's other slices are unaffected.
		if shared.IsAlreadyExists(err) {
			return nil, shared.NewDomainError("INVALID_INPUT", "slice collided with a concurrent ingestion", err)
		}
		return nil, err
	}

	// Deferred work observes committed primary data. Failures here cannot
	// un-commit the slice, so they are logged and the run continues.
	if err := slice.Context.Drain(ctx); err != nil {
		o.log.WithError(err).WarnContext(ctx, "deferred ingestion callbacks aborted",
			"project_id", scan.ProjectID,
		)
	}

	if err := o.secondary.InTransaction(ctx, func(tx SecondaryTx) error {
		for _, task := range o.secondaryTasks {
			if err := task.Execute(ctx, tx, slice); err != nil {
				return fmt.Errorf("task %s: %w", task.Name(), err)
			}
		}
		return nil
	}); err != nil {
		// The primary side already committed; the secondary tasks are
		// idempotent and re-run on the next ingestion for this project.
		o.log.WithError(err).ErrorContext(ctx, "secondary datastore update failed",
			"project_id", scan.ProjectID,
		)
	}

	o.syncSearchIndex(ctx, slice)

	return &Result{
		VulnerabilityIDs: slice.VulnerabilityIDs(),
		NewRecords:       slice.NewRecordCount(),
	}, nil
}

// backfillUUIDs rewrites persisted findings from their overridden UUID to
// the recalculated one, old to new.
func (o *SliceIngestionOrchestrator) backfillUUIDs(ctx context.Context, scan *report.Scan) error {
	changes := make(map[string]string)
	for _, f := range scan.Findings {
		if f.OverriddenUUID != "" && f.OverriddenUUID != f.UUID {
			changes[f.OverriddenUUID] = f.UUID
		}
	}
	if len(changes) == 0 {
		return nil
	}
	if err := o.primary.BackfillFindingUUIDs(ctx, scan.ProjectID, changes); err != nil {
		return fmt.Errorf("backfill finding uuids: %w", err)
	}
	return nil
}

// syncSearchIndex queues the slice's vulnerabilities for index updates.
// Strictly best-effort: the index catches up through its own repair jobs.
func (o *SliceIngestionOrchestrator) syncSearchIndex(ctx context.Context, slice *Slice) {
	if o.search == nil {
		return
	}
	ids := slice.VulnerabilityIDs()
	if len(ids) == 0 {
		return
	}

	indexable, err := o.primary.VulnerabilitiesForIndexing(ctx, ids)
	if err != nil {
		metrics.SearchTrackTotal.WithLabelValues("error").Inc()
		o.log.WithError(err).WarnContext(ctx, "search index filter failed",
			"project_id", slice.ProjectID(),
		)
		return
	}
	if len(indexable) == 0 {
		return
	}

	if err := o.search.Track(ctx, indexable); err != nil {
		metrics.SearchTrackTotal.WithLabelValues("error").Inc()
		o.log.WithError(err).WarnContext(ctx, "search index tracking failed",
			"project_id", slice.ProjectID(),
		)
		return
	}
	metrics.SearchTrackTotal.WithLabelValues("ok").Add(float64(len(indexable)))
}
