package control

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openctemio/ingest/pkg/domain/audit"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// Service triggers external controls: it creates the pending status row,
// delivers the signed webhook, transitions the status on success, and
// schedules the delayed timeout job.
type Service struct {
	store     Store
	client    *WebhookClient
	scheduler TimeoutScheduler
	recorder  audit.Recorder
	log       *logger.Logger
	validate  *validator.Validate

	// timeoutAfter is how long a dispatched external control may stay
	// pending before the timeout job fails it.
	timeoutAfter time.Duration
}

// NewService wires the external-control service.
func NewService(
	store Store,
	client *WebhookClient,
	scheduler TimeoutScheduler,
	recorder audit.Recorder,
	log *logger.Logger,
	timeoutAfter time.Duration,
) *Service {
	if timeoutAfter <= 0 {
		timeoutAfter = 31 * time.Minute
	}
	return &Service{
		store:        store,
		client:       client,
		scheduler:    scheduler,
		recorder:     recorder,
		log:          log.With("component", "control_service"),
		validate:     validator.New(),
		timeoutAfter: timeoutAfter,
	}
}

// Trigger dispatches one external control for a project. Expected failure
// modes come back as structured results; only infrastructure faults return
// an error.
func (s *Service) Trigger(ctx context.Context, params TriggerParams) (*TriggerResult, error) {
	if err := s.validate.Struct(params); err != nil {
		return &TriggerResult{
			Success:     false,
			FailureType: FailureValidation,
			Message:     "invalid control parameters: " + err.Error(),
		}, nil
	}

	ctrl, err := s.store.ControlByName(ctx, params.ProjectID, params.ControlName)
	if err != nil {
		if shared.IsNotFound(err) {
			return &TriggerResult{
				Success:     false,
				FailureType: FailureValidation,
				Message:     "unknown control " + params.ControlName,
			}, nil
		}
		return nil, err
	}
	if !ctrl.External {
		return &TriggerResult{
			Success:     false,
			FailureType: FailureValidation,
			Message:     "control " + ctrl.Name + " is not external",
		}, nil
	}

	status, result, err := s.ensureStatus(ctx, ctrl)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	delivery, err := s.client.Deliver(ctx, ctrl, WebhookPayload{
		ProjectID:       ctrl.ProjectID,
		ControlID:       ctrl.ID,
		ControlName:     ctrl.Name,
		ControlStatusID: status.ID,
		Status:          status.Status,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	if !delivery.Success {
		s.audit(ctx, audit.EventControlRequestFailed, ctrl, status, map[string]any{
			"failure_type": delivery.FailureType,
			"http_status":  delivery.StatusCode,
		})
		return &TriggerResult{
			Success:     false,
			StatusID:    status.ID,
			FailureType: delivery.FailureType,
			Message:     delivery.Message,
			HTTPStatus:  delivery.StatusCode,
		}, nil
	}

	// The external system acknowledged; it now owes us a verdict within
	// the timeout window.
	if err := s.scheduler.ScheduleControlTimeout(ctx, status.ID, s.timeoutAfter); err != nil {
		s.log.WithError(err).WarnContext(ctx, "control timeout scheduling failed",
			"control_status_id", status.ID,
		)
	}

	s.audit(ctx, audit.EventControlRequestSucceeded, ctrl, status, nil)

	return &TriggerResult{Success: true, StatusID: status.ID}, nil
}

// ensureStatus creates the pending status row, retrying a create race
// exactly once. A second conflict comes back as a structured validation
// failure rather than another retry.
func (s *Service) ensureStatus(ctx context.Context, ctrl *Control) (*ControlStatus, *TriggerResult, error) {
	status, err := s.store.CreateStatus(ctx, ctrl.ProjectID, ctrl.ID)
	if err == nil {
		return status, nil, nil
	}
	if !shared.IsAlreadyExists(err) {
		return nil, nil, err
	}

	s.log.InfoContext(ctx, "control status create raced, retrying once",
		"project_id", ctrl.ProjectID,
		"control", ctrl.Name,
	)

	status, err = s.store.StatusByControl(ctx, ctrl.ProjectID, ctrl.ID)
	if err == nil {
		return status, nil, nil
	}
	if !shared.IsNotFound(err) {
		return nil, nil, err
	}

	// The racing row vanished between the conflict and the lookup. One
	// more create; a second conflict is surfaced, not retried.
	status, err = s.store.CreateStatus(ctx, ctrl.ProjectID, ctrl.ID)
	if err == nil {
		return status, nil, nil
	}
	if shared.IsAlreadyExists(err) {
		return nil, &TriggerResult{
			Success:     false,
			FailureType: FailureValidation,
			Message:     "control " + ctrl.Name + " is already being triggered",
		}, nil
	}
	return nil, nil, err
}

// Complete records the verdict an external system reported back and closes
// the pending status.
func (s *Service) Complete(ctx context.Context, statusID shared.ID, passed bool) error {
	to := StatusPassed
	if !passed {
		to = StatusFailed
	}
	return s.store.TransitionStatus(ctx, statusID, to)
}

// Timeout fails a status that is still pending when the delayed job fires.
// Already-completed statuses are left alone.
func (s *Service) Timeout(ctx context.Context, statusID shared.ID) error {
	return s.store.TransitionStatus(ctx, statusID, StatusTimeout)
}

func (s *Service) audit(ctx context.Context, eventType string, ctrl *Control, status *ControlStatus, details map[string]any) {
	if s.recorder == nil {
		return
	}
	event := audit.NewEvent(eventType, ctrl.ProjectID)
	event.TargetID = status.ID
	if details == nil {
		details = map[string]any{}
	}
	details["control"] = ctrl.Name
	event.Details = details
	s.recorder.Record(ctx, event)
}
