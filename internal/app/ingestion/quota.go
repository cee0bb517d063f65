package ingestion

import (
	"context"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

// Quota is the per-project cap on newly ingested vulnerabilities,
// enforced as backpressure. A failed validation is a soft stop: the current
// slice returns empty and sibling slices continue.
type Quota struct {
	ProjectID shared.ID
	Limit     int
	Used      int
	Enforced  bool
}

// Validate checks the quota. It returns a quota error when the project has
// exhausted its allowance; callers treat that as a soft stop, not a
// failure.
func (q *Quota) Validate() error {
	if !q.Enforced {
		return nil
	}
	if q.Used >= q.Limit {
		return shared.NewDomainError("QUOTA_EXCEEDED", "project vulnerability quota exhausted", shared.ErrQuotaExceeded)
	}
	return nil
}

// Remaining returns how many new vulnerabilities the project may still
// ingest. Unenforced quotas report a negative value meaning unlimited.
func (q *Quota) Remaining() int {
	if !q.Enforced {
		return -1
	}
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// QuotaSource resolves the quota for a project.
type QuotaSource interface {
	QuotaFor(ctx context.Context, projectID shared.ID) (*Quota, error)
}
