package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

// QuotaSource resolves the per-project vulnerability quota from the primary
// datastore. Usage is the project's current vulnerability total, so the
// quota naturally relaxes as vulnerabilities are resolved and purged.
type QuotaSource struct {
	db *DB

	// defaultLimit applies to projects without an explicit quota row.
	defaultLimit int
}

// NewQuotaSource creates the quota source. defaultLimit <= 0 means projects
// without an explicit quota row are unenforced.
func NewQuotaSource(db *DB, defaultLimit int) *QuotaSource {
	return &QuotaSource{db: db, defaultLimit: defaultLimit}
}

var _ ingestion.QuotaSource = (*QuotaSource)(nil)

// QuotaFor loads the quota for a project.
func (q *QuotaSource) QuotaFor(ctx context.Context, projectID shared.ID) (*ingestion.Quota, error) {
	quota := &ingestion.Quota{ProjectID: projectID}

	var limit sql.NullInt64
	err := q.db.QueryRowContext(ctx, `
		SELECT max_vulnerabilities FROM vulnerability_quotas WHERE project_id = $1`,
		projectID,
	).Scan(&limit)
	switch {
	case err == sql.ErrNoRows:
		if q.defaultLimit > 0 {
			quota.Limit = q.defaultLimit
			quota.Enforced = true
		}
	case err != nil:
		return nil, fmt.Errorf("query vulnerability quota: %w", err)
	case limit.Valid && limit.Int64 > 0:
		quota.Limit = int(limit.Int64)
		quota.Enforced = true
	}

	if !quota.Enforced {
		return quota, nil
	}

	var used sql.NullInt64
	err = q.db.QueryRowContext(ctx, `
		SELECT total FROM vulnerability_statistics WHERE project_id = $1`,
		projectID,
	).Scan(&used)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query vulnerability usage: %w", err)
	}
	quota.Used = int(used.Int64)

	return quota, nil
}
