package vulnerability

import (
	"time"

	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

// State is the detection lifecycle state of a vulnerability.
type State string

// Vulnerability states. Terminal states (dismissed) are reached only
// through explicit actions outside the ingestion core.
const (
	StateDetected  State = "detected"
	StateConfirmed State = "confirmed"
	StateResolved  State = "resolved"
	StateDismissed State = "dismissed"
)

// Vulnerability is the durable record produced by ingestion.
//
// Invariant: present_on_default_branch and resolved_on_default_branch are
// never left inconsistent; a resolved vulnerability transitions back to
// detected only through MarkDetectedAgain.
type Vulnerability struct {
	ID        shared.ID
	ProjectID shared.ID

	// FindingID is backfilled for legacy rows that predate the link.
	FindingID shared.ID

	Title      string
	Severity   string
	ReportType report.Type
	State      State

	PresentOnDefaultBranch  bool
	ResolvedOnDefaultBranch bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewVulnerability creates a detected vulnerability from a finding.
func NewVulnerability(projectID shared.ID, f *Finding) (*Vulnerability, error) {
	if f == nil {
		return nil, shared.NewDomainError("VALIDATION", "finding is required", shared.ErrValidation)
	}
	title := f.Name
	if title == "" {
		title = f.UUID
	}
	now := time.Now().UTC()
	return &Vulnerability{
		ID:                     shared.NewID(),
		ProjectID:              projectID,
		FindingID:              f.ID,
		Title:                  title,
		Severity:               f.Severity,
		ReportType:             f.ReportType,
		State:                  StateDetected,
		PresentOnDefaultBranch: true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

// MarkNoLongerDetected flags the vulnerability as resolved on the default
// branch without changing its state. The optional auto-closure is a
// separate, budgeted operation.
func (v *Vulnerability) MarkNoLongerDetected() {
	v.ResolvedOnDefaultBranch = true
	v.UpdatedAt = time.Now().UTC()
}

// MarkDetectedAgain transitions a resolved vulnerability back to detected
// when its finding reappears in a later ingestion. This is the only path
// from resolved back to detected.
func (v *Vulnerability) MarkDetectedAgain() error {
	if v.State != StateResolved {
		return shared.NewDomainError("INVALID_STATE", "only resolved vulnerabilities can be re-detected", shared.ErrInvalidInput)
	}
	v.State = StateDetected
	v.PresentOnDefaultBranch = true
	v.ResolvedOnDefaultBranch = false
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// Resolve closes the vulnerability. Used by the auto-resolve pass of the
// resolution reconciler and by explicit user actions.
func (v *Vulnerability) Resolve() error {
	if v.State == StateDismissed {
		return shared.NewDomainError("INVALID_STATE", "dismissed vulnerabilities cannot be resolved", shared.ErrInvalidInput)
	}
	v.State = StateResolved
	v.ResolvedOnDefaultBranch = true
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// Detectable reports whether ingestion may act on this vulnerability's
// detection state at all.
func (v *Vulnerability) Detectable() bool {
	return v.State == StateDetected || v.State == StateResolved || v.State == StateConfirmed
}
