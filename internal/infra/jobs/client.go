// Package jobs implements the asynchronous side of ingestion on asynq:
// follow-up work enqueued after a pipeline commits, and the delayed
// timeout sweep for external controls.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/ingest/internal/app/control"
	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client *asynq.Client
	logger *logger.Logger
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	client := asynq.NewClient(redisOpt)

	return &Client{
		client: client,
		logger: log.With("component", "job_client"),
	}, nil
}

var (
	_ ingestion.Enqueuer       = (*Client)(nil)
	_ control.TimeoutScheduler = (*Client)(nil)
)

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueSBOMIngestion schedules a continuous vulnerability scan for the
// project.
func (c *Client) EnqueueSBOMIngestion(ctx context.Context, projectID shared.ID) error {
	task, err := NewSBOMIngestionTask(SBOMIngestionPayload{ProjectID: projectID})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, "project_id", projectID.String())
}

// EnqueueDroppedResolution schedules resolution of vulnerabilities whose
// primary identifiers disappeared from the report type.
func (c *Client) EnqueueDroppedResolution(ctx context.Context, projectID shared.ID, reportType report.Type, primaryIdentifiers []string) error {
	task, err := NewDroppedResolutionTask(DroppedResolutionPayload{
		ProjectID:          projectID,
		ReportType:         string(reportType),
		PresentIdentifiers: primaryIdentifiers,
	})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, "project_id", projectID.String(), "report_type", string(reportType))
}

// EnqueueApprovalRuleSync notifies the policy engine about the pipeline.
func (c *Client) EnqueueApprovalRuleSync(ctx context.Context, projectID, pipelineID shared.ID) error {
	task, err := NewApprovalRuleSyncTask(ApprovalRuleSyncPayload{
		ProjectID:  projectID,
		PipelineID: pipelineID,
	})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, "project_id", projectID.String(), "pipeline_id", pipelineID.String())
}

// EnqueueReadsRepair schedules a read-model repair for the project.
func (c *Client) EnqueueReadsRepair(ctx context.Context, projectID shared.ID) error {
	task, err := NewReadsRepairTask(ReadsRepairPayload{ProjectID: projectID})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, "project_id", projectID.String())
}

// ScheduleControlTimeout enqueues a delayed task that fails the control
// status if it is still pending when the delay elapses.
func (c *Client) ScheduleControlTimeout(ctx context.Context, statusID shared.ID, after time.Duration) error {
	task, err := NewControlTimeoutTask(ControlTimeoutPayload{StatusID: statusID})
	if err != nil {
		return err
	}

	info, err := c.client.EnqueueContext(ctx, task, asynq.ProcessIn(after))
	if err != nil {
		c.logger.Error("failed to enqueue control timeout",
			"status_id", statusID,
			"error", err,
		)
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}

	c.logger.Info("control timeout scheduled",
		"task_id", info.ID,
		"status_id", statusID,
		"process_in", after,
	)
	return nil
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, attrs ...any) error {
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue task", append([]any{"type", task.Type(), "error", err}, attrs...)...)
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}

	c.logger.Info("task queued", append([]any{"task_id", info.ID, "type", task.Type(), "queue", info.Queue}, attrs...)...)
	return nil
}
