// Package audit defines the structured audit events emitted by ingestion
// and the external-control service.
package audit

import (
	"context"
	"time"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

// Event types.
const (
	EventControlRequestSucceeded      = "external_control_request_succeeded"
	EventControlRequestFailed         = "external_control_request_failed"
	EventRepresentationInfoCreated    = "vulnerability_representation_information_created"
	EventVulnerabilityDetected        = "vulnerability_detected"
	EventVulnerabilityNoLongerFound   = "vulnerability_no_longer_detected"
	EventVulnerabilityAutoResolved    = "vulnerability_auto_resolved"
	EventContinuousScannerProvisioned = "continuous_scanner_provisioned"
)

// ActorSystem is used when no authenticated actor triggered the event.
const ActorSystem = "system"

// Event is one structured audit record.
type Event struct {
	Type      string
	Actor     string
	ProjectID shared.ID
	TargetID  shared.ID
	Details   map[string]any
	CreatedAt time.Time
}

// NewEvent creates an audit event with the system actor.
func NewEvent(eventType string, projectID shared.ID) Event {
	return Event{
		Type:      eventType,
		Actor:     ActorSystem,
		ProjectID: projectID,
		CreatedAt: time.Now().UTC(),
	}
}

// Recorder persists audit events. Failures must not abort the operation
// being audited.
type Recorder interface {
	Record(ctx context.Context, event Event)
}
