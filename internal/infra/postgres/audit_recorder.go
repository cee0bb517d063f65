package postgres

import (
	"context"

	"github.com/openctemio/ingest/pkg/domain/audit"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// AuditRecorder persists structured audit events on the primary database.
// Recording failures are logged and swallowed; an audit write must never
// abort the operation it documents.
type AuditRecorder struct {
	db  *DB
	log *logger.Logger
}

// NewAuditRecorder creates the recorder.
func NewAuditRecorder(db *DB, log *logger.Logger) *AuditRecorder {
	return &AuditRecorder{db: db, log: log.With("component", "audit_recorder")}
}

var _ audit.Recorder = (*AuditRecorder)(nil)

// Record persists one audit event.
func (r *AuditRecorder) Record(ctx context.Context, event audit.Event) {
	details, err := toJSONB(event.Details)
	if err != nil {
		r.log.WithError(err).WarnContext(ctx, "audit details marshal failed", "event_type", event.Type)
		details = nil
	}

	var targetID any
	if !event.TargetID.IsZero() {
		targetID = event.TargetID.String()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, actor, project_id, target_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		shared.NewID(), event.Type, event.Actor, event.ProjectID, targetID,
		nullBytes(details), event.CreatedAt,
	)
	if err != nil {
		r.log.WithError(err).WarnContext(ctx, "audit event write failed",
			"event_type", event.Type,
			"project_id", event.ProjectID,
		)
	}
}
