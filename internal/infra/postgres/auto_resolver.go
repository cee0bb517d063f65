package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/pkg/domain/audit"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

// AutoResolver closes vulnerabilities the reconciler flagged as no longer
// detected. Dismissed vulnerabilities are never touched.
type AutoResolver struct {
	db       *DB
	recorder audit.Recorder
}

// NewAutoResolver creates the resolver on the primary database.
func NewAutoResolver(db *DB, recorder audit.Recorder) *AutoResolver {
	return &AutoResolver{db: db, recorder: recorder}
}

var _ ingestion.AutoResolver = (*AutoResolver)(nil)

// Resolve transitions the given vulnerabilities to resolved and returns how
// many changed.
func (r *AutoResolver) Resolve(ctx context.Context, projectID shared.ID, ids []shared.ID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var resolved []shared.ID
	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE vulnerabilities
			SET state = 'resolved',
				resolved_on_default_branch = TRUE,
				updated_at = NOW()
			WHERE id = ANY($1) AND state IN ('detected', 'confirmed')
			RETURNING id`,
			idArray(ids),
		)
		if err != nil {
			return fmt.Errorf("auto-resolve vulnerabilities: %w", err)
		}
		defer func() { _ = rows.Close() }()

		resolved, err = scanIDs(rows)
		if err != nil {
			return err
		}

		if len(resolved) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE vulnerability_reads
			SET state = 'resolved', resolved_on_default_branch = TRUE
			WHERE vulnerability_id = ANY($1)`,
			idArray(resolved),
		); err != nil {
			return fmt.Errorf("sync resolved reads: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if r.recorder != nil {
		for _, id := range resolved {
			event := audit.NewEvent(audit.EventVulnerabilityAutoResolved, projectID)
			event.TargetID = id
			r.recorder.Record(ctx, event)
		}
	}

	return len(resolved), nil
}
