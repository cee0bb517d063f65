package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
}

// ContinuousRunner runs a continuous vulnerability scan for one project.
type ContinuousRunner interface {
	IngestProject(ctx context.Context, projectID shared.ID) (*ingestion.Result, error)
}

// DroppedResolver resolves vulnerabilities whose primary identifiers no
// longer appear in the report type.
type DroppedResolver interface {
	ResolveDroppedByIdentifiers(ctx context.Context, projectID shared.ID, reportType report.Type, presentIdentifiers []string) (int, error)
}

// ReadsRepairer re-derives drifted read-model rows for a project.
type ReadsRepairer interface {
	RepairVulnerabilityReads(ctx context.Context, projectID shared.ID) (int, error)
}

// ControlTimeouter times out a pending control status.
type ControlTimeouter interface {
	Timeout(ctx context.Context, statusID shared.ID) error
}

// ApprovalNotifier tells the policy engine to re-evaluate approval rules
// for a pipeline.
type ApprovalNotifier interface {
	NotifyApprovalRuleSync(ctx context.Context, projectID, pipelineID shared.ID) error
}

// Worker processes background jobs.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logger.Logger

	continuous ContinuousRunner
	dropped    DroppedResolver
	repairer   ReadsRepairer
	controls   ControlTimeouter
	approvals  ApprovalNotifier
}

// NewWorker creates a new background job worker. Handlers without a
// registered dependency are not wired, so a worker can run a subset of the
// queues.
func NewWorker(
	cfg WorkerConfig,
	continuous ContinuousRunner,
	dropped DroppedResolver,
	repairer ReadsRepairer,
	controls ControlTimeouter,
	approvals ApprovalNotifier,
	log *logger.Logger,
) *Worker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueIngestion:   6,
				QueuePolicies:    3,
				QueueMaintenance: 1,
			},
		},
	)

	w := &Worker{
		server:     server,
		mux:        asynq.NewServeMux(),
		logger:     log.With("component", "job_worker"),
		continuous: continuous,
		dropped:    dropped,
		repairer:   repairer,
		controls:   controls,
		approvals:  approvals,
	}

	if w.continuous != nil {
		w.mux.HandleFunc(TypeSBOMIngestion, w.handleSBOMIngestion)
	}
	if w.dropped != nil {
		w.mux.HandleFunc(TypeDroppedResolution, w.handleDroppedResolution)
	}
	if w.approvals != nil {
		w.mux.HandleFunc(TypeApprovalRuleSync, w.handleApprovalRuleSync)
	}
	if w.repairer != nil {
		w.mux.HandleFunc(TypeReadsRepair, w.handleReadsRepair)
	}
	if w.controls != nil {
		w.mux.HandleFunc(TypeControlTimeout, w.handleControlTimeout)
	}

	return w
}

func (w *Worker) handleSBOMIngestion(ctx context.Context, t *asynq.Task) error {
	var payload SBOMIngestionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal sbom ingestion payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := w.continuous.IngestProject(ctx, payload.ProjectID)
	if err != nil {
		return fmt.Errorf("continuous scan for project %s: %w", payload.ProjectID, err)
	}

	w.logger.InfoContext(ctx, "continuous scan job finished",
		"project_id", payload.ProjectID,
		"ingested", len(result.VulnerabilityIDs),
		"quota_exceeded", result.QuotaExceeded,
	)
	return nil
}

func (w *Worker) handleDroppedResolution(ctx context.Context, t *asynq.Task) error {
	var payload DroppedResolutionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal dropped resolution payload: %v: %w", err, asynq.SkipRetry)
	}

	resolved, err := w.dropped.ResolveDroppedByIdentifiers(ctx, payload.ProjectID, report.Type(payload.ReportType), payload.PresentIdentifiers)
	if err != nil {
		return fmt.Errorf("resolve dropped identifiers for project %s: %w", payload.ProjectID, err)
	}

	if resolved > 0 {
		w.logger.InfoContext(ctx, "dropped identifiers resolved",
			"project_id", payload.ProjectID,
			"report_type", payload.ReportType,
			"resolved", resolved,
		)
	}
	return nil
}

func (w *Worker) handleApprovalRuleSync(ctx context.Context, t *asynq.Task) error {
	var payload ApprovalRuleSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal approval rule sync payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.approvals.NotifyApprovalRuleSync(ctx, payload.ProjectID, payload.PipelineID); err != nil {
		return fmt.Errorf("notify approval rule sync for pipeline %s: %w", payload.PipelineID, err)
	}
	return nil
}

func (w *Worker) handleReadsRepair(ctx context.Context, t *asynq.Task) error {
	var payload ReadsRepairPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal reads repair payload: %v: %w", err, asynq.SkipRetry)
	}

	repaired, err := w.repairer.RepairVulnerabilityReads(ctx, payload.ProjectID)
	if err != nil {
		return fmt.Errorf("repair reads for project %s: %w", payload.ProjectID, err)
	}

	w.logger.InfoContext(ctx, "vulnerability reads repaired",
		"project_id", payload.ProjectID,
		"repaired", repaired,
	)
	return nil
}

func (w *Worker) handleControlTimeout(ctx context.Context, t *asynq.Task) error {
	var payload ControlTimeoutPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal control timeout payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.controls.Timeout(ctx, payload.StatusID); err != nil {
		return fmt.Errorf("timeout control status %s: %w", payload.StatusID, err)
	}
	return nil
}

// Start starts the worker.
func (w *Worker) Start() error {
	w.logger.Info("starting job worker")
	return w.server.Start(w.mux)
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
}

// Run runs the worker until shutdown.
func (w *Worker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Start(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.Stop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
		return nil
	}
}
