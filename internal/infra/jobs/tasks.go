package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

// Task type names. The queue a type lands on reflects how urgent the work
// is relative to the ingestion path that enqueued it.
const (
	TypeSBOMIngestion     = "ingestion:sbom"
	TypeDroppedResolution = "ingestion:dropped_resolution"
	TypeApprovalRuleSync  = "ingestion:approval_sync"
	TypeReadsRepair       = "ingestion:reads_repair"
	TypeControlTimeout    = "control:timeout"
)

// Queue names with their processing priorities configured in the worker.
const (
	QueueIngestion   = "ingestion"
	QueuePolicies    = "policies"
	QueueMaintenance = "maintenance"
)

// SBOMIngestionPayload triggers a continuous vulnerability scan for the
// project after a pipeline delivered SBOM-capable report types.
type SBOMIngestionPayload struct {
	ProjectID shared.ID `json:"project_id"`
}

// NewSBOMIngestionTask creates a continuous-scan task.
func NewSBOMIngestionTask(payload SBOMIngestionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sbom ingestion payload: %w", err)
	}
	return asynq.NewTask(TypeSBOMIngestion, data,
		asynq.Queue(QueueIngestion),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	), nil
}

// DroppedResolutionPayload resolves vulnerabilities whose primary
// identifiers no longer appear in any ingested finding of the report type.
type DroppedResolutionPayload struct {
	ProjectID          shared.ID `json:"project_id"`
	ReportType         string    `json:"report_type"`
	PresentIdentifiers []string  `json:"present_identifiers"`
}

// NewDroppedResolutionTask creates a dropped-identifier resolution task.
func NewDroppedResolutionTask(payload DroppedResolutionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dropped resolution payload: %w", err)
	}
	return asynq.NewTask(TypeDroppedResolution, data,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	), nil
}

// ApprovalRuleSyncPayload notifies the policy engine that a pipeline's
// vulnerability state changed and approval rules may need re-evaluation.
type ApprovalRuleSyncPayload struct {
	ProjectID  shared.ID `json:"project_id"`
	PipelineID shared.ID `json:"pipeline_id"`
}

// NewApprovalRuleSyncTask creates an approval-rule sync task.
func NewApprovalRuleSyncTask(payload ApprovalRuleSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal approval rule sync payload: %w", err)
	}
	return asynq.NewTask(TypeApprovalRuleSync, data,
		asynq.Queue(QueuePolicies),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
	), nil
}

// ReadsRepairPayload re-derives the denormalized read rows of a project
// whose archival flag or namespace path drifted mid-ingestion.
type ReadsRepairPayload struct {
	ProjectID shared.ID `json:"project_id"`
}

// NewReadsRepairTask creates a read-model repair task.
func NewReadsRepairTask(payload ReadsRepairPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal reads repair payload: %w", err)
	}
	return asynq.NewTask(TypeReadsRepair, data,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	), nil
}

// ControlTimeoutPayload fails a pending external control status that never
// received a completion callback.
type ControlTimeoutPayload struct {
	StatusID shared.ID `json:"status_id"`
}

// NewControlTimeoutTask creates a control timeout task. The delay is applied
// at enqueue time via asynq.ProcessIn.
func NewControlTimeoutTask(payload ControlTimeoutPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal control timeout payload: %w", err)
	}
	return asynq.NewTask(TypeControlTimeout, data,
		asynq.Queue(QueuePolicies),
		asynq.MaxRetry(2),
		asynq.Timeout(time.Minute),
	), nil
}
