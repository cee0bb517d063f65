package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

// approvalSyncChannel is subscribed to by the policy engine.
const approvalSyncChannel = "approval_rules:sync"

// ApprovalNotifier publishes approval-rule sync notifications for the
// policy engine over redis pub/sub.
type ApprovalNotifier struct {
	client *Client
}

// NewApprovalNotifier creates the notifier.
func NewApprovalNotifier(client *Client) *ApprovalNotifier {
	return &ApprovalNotifier{client: client}
}

type approvalSyncMessage struct {
	ProjectID  shared.ID `json:"project_id"`
	PipelineID shared.ID `json:"pipeline_id"`
}

// NotifyApprovalRuleSync publishes the pipeline to the sync channel.
func (n *ApprovalNotifier) NotifyApprovalRuleSync(ctx context.Context, projectID, pipelineID shared.ID) error {
	data, err := json.Marshal(approvalSyncMessage{ProjectID: projectID, PipelineID: pipelineID})
	if err != nil {
		return fmt.Errorf("marshal approval sync message: %w", err)
	}

	if err := n.client.Raw().Publish(ctx, approvalSyncChannel, data).Err(); err != nil {
		return fmt.Errorf("publish approval sync: %w", err)
	}
	return nil
}
