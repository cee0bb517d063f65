// Package control implements the external-control trigger service: it
// dispatches signed webhook requests to external compliance systems and
// tracks the per-project control status lifecycle.
package control

import (
	"context"
	"time"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

// Status values of one control for one project.
const (
	StatusPending = "pending"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// Failure types carried by structured trigger results. HTTP-status failures
// and transport failures are deliberately distinct.
const (
	FailureHTTPError    = "http_error"
	FailureNetworkError = "network_error"
	FailureValidation   = "validation_error"
)

// Control is one compliance control configured for a project. External
// controls delegate their verdict to an outside system via webhook.
type Control struct {
	ID           shared.ID
	ProjectID    shared.ID
	Name         string
	External     bool
	ExternalURL  string
	SharedSecret string
}

// ControlStatus tracks the current verdict of one control for one project.
// Unique per (project, control).
type ControlStatus struct {
	ID        shared.ID
	ProjectID shared.ID
	ControlID shared.ID
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TriggerParams are the validated inputs of one external-control trigger.
type TriggerParams struct {
	ProjectID   shared.ID `validate:"required"`
	ControlName string    `validate:"required,min=1,max=255"`
}

// TriggerResult is the structured outcome returned to the caller. The
// trigger boundary never surfaces raw errors for expected failure modes.
type TriggerResult struct {
	Success     bool
	StatusID    shared.ID
	FailureType string
	Message     string
	// HTTPStatus is set for http_error failures.
	HTTPStatus int
}

// Store is the secondary-datastore surface the service needs.
type Store interface {
	// ControlByName loads a control of the project. shared.ErrNotFound when
	// absent.
	ControlByName(ctx context.Context, projectID shared.ID, name string) (*Control, error)

	// CreateStatus inserts the pending status row for (project, control).
	// shared.ErrAlreadyExists when a concurrent trigger won the race.
	CreateStatus(ctx context.Context, projectID, controlID shared.ID) (*ControlStatus, error)

	// StatusByControl loads the existing status row.
	StatusByControl(ctx context.Context, projectID, controlID shared.ID) (*ControlStatus, error)

	// TransitionStatus moves a status row to the given status.
	TransitionStatus(ctx context.Context, statusID shared.ID, status string) error
}

// TimeoutScheduler schedules the delayed job that fails a pending external
// control that never reported back.
type TimeoutScheduler interface {
	ScheduleControlTimeout(ctx context.Context, statusID shared.ID, after time.Duration) error
}
