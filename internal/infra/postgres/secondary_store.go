package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openctemio/ingest/internal/app/control"
	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

// SecondaryStore is the postgres-backed secondary datastore: project
// settings, scan-result policies and control statuses. It is a different
// database from the primary; nothing here joins across the two.
type SecondaryStore struct {
	db *DB
}

// NewSecondaryStore creates the secondary store on the sec database.
func NewSecondaryStore(db *DB) *SecondaryStore {
	return &SecondaryStore{db: db}
}

var (
	_ ingestion.SecondaryStore = (*SecondaryStore)(nil)
	_ control.Store            = (*SecondaryStore)(nil)
)

// InTransaction runs fn inside one secondary transaction.
func (s *SecondaryStore) InTransaction(ctx context.Context, fn func(tx ingestion.SecondaryTx) error) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(&secondaryTx{tx: tx})
	})
}

// UsesScanResultPolicies reports whether the project has scan-result
// policies configured.
func (s *SecondaryStore) UsesScanResultPolicies(ctx context.Context, projectID shared.ID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM scan_result_policies WHERE project_id = $1)`,
		projectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query scan result policies: %w", err)
	}
	return exists, nil
}

// ControlByName loads a control of the project.
func (s *SecondaryStore) ControlByName(ctx context.Context, projectID shared.ID, name string) (*control.Control, error) {
	query := `
		SELECT id, project_id, name, external, external_url, shared_secret
		FROM controls
		WHERE project_id = $1 AND name = $2`

	c := &control.Control{}
	var externalURL, sharedSecret sql.NullString
	err := s.db.QueryRowContext(ctx, query, projectID, name).Scan(
		&c.ID, &c.ProjectID, &c.Name, &c.External, &externalURL, &sharedSecret,
	)
	if err == sql.ErrNoRows {
		return nil, shared.NewDomainError("NOT_FOUND", "control not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query control: %w", err)
	}
	c.ExternalURL = nullStringValue(externalURL)
	c.SharedSecret = nullStringValue(sharedSecret)
	return c, nil
}

// CreateStatus inserts the pending status row for (project, control).
func (s *SecondaryStore) CreateStatus(ctx context.Context, projectID, controlID shared.ID) (*control.ControlStatus, error) {
	now := time.Now().UTC()
	status := &control.ControlStatus{
		ID:        shared.NewID(),
		ProjectID: projectID,
		ControlID: controlID,
		Status:    control.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO control_statuses (id, project_id, control_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		status.ID, projectID, controlID, status.Status, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, shared.NewDomainError("ALREADY_EXISTS", "control status already exists", shared.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create control status: %w", err)
	}
	return status, nil
}

// StatusByControl loads the existing status row.
func (s *SecondaryStore) StatusByControl(ctx context.Context, projectID, controlID shared.ID) (*control.ControlStatus, error) {
	query := `
		SELECT id, project_id, control_id, status, created_at, updated_at
		FROM control_statuses
		WHERE project_id = $1 AND control_id = $2`

	status := &control.ControlStatus{}
	err := s.db.QueryRowContext(ctx, query, projectID, controlID).Scan(
		&status.ID, &status.ProjectID, &status.ControlID,
		&status.Status, &status.CreatedAt, &status.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, shared.NewDomainError("NOT_FOUND", "control status not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query control status: %w", err)
	}
	return status, nil
}

// TransitionStatus moves a status row to the given status. Timeouts only
// apply to rows still pending.
func (s *SecondaryStore) TransitionStatus(ctx context.Context, statusID shared.ID, to string) error {
	query := `UPDATE control_statuses SET status = $2, updated_at = NOW() WHERE id = $1`
	if to == control.StatusTimeout {
		query += ` AND status = '` + control.StatusPending + `'`
	}
	if _, err := s.db.ExecContext(ctx, query, statusID, to); err != nil {
		return fmt.Errorf("transition control status: %w", err)
	}
	return nil
}

// secondaryTx implements the transaction-scoped secondary surface.
type secondaryTx struct {
	tx *sql.Tx
}

var _ ingestion.SecondaryTx = (*secondaryTx)(nil)

// SetProjectVulnerable flags the project as having vulnerabilities. The
// flag is sticky; ingestion never clears it.
func (t *secondaryTx) SetProjectVulnerable(ctx context.Context, projectID shared.ID) error {
	query := `
		INSERT INTO project_settings (project_id, has_vulnerabilities, updated_at)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (project_id) DO UPDATE SET
			has_vulnerabilities = TRUE,
			updated_at = NOW()`

	if _, err := t.tx.ExecContext(ctx, query, projectID); err != nil {
		return fmt.Errorf("set project vulnerable: %w", err)
	}
	return nil
}
