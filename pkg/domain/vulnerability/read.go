package vulnerability

import (
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

// Read is the denormalized per-vulnerability read model keyed by scanner,
// report type and resolution state. The resolution reconciler diffs against
// this table instead of scanning the full vulnerability table.
type Read struct {
	VulnerabilityID   shared.ID
	ProjectID         shared.ID
	ScannerExternalID string
	ReportType        report.Type
	Severity          string
	State             State

	ResolvedOnDefaultBranch bool

	// RequiresManualResolution marks vulnerabilities excluded from
	// auto-resolution by policy.
	RequiresManualResolution bool

	// Archived and TraversalIDs mirror project/namespace attributes and are
	// repaired asynchronously when they drift during ingestion.
	Archived     bool
	TraversalIDs []string
}

// NewRead derives the read row for a vulnerability.
func NewRead(v *Vulnerability, scannerExternalID string, project *report.Project) *Read {
	r := &Read{
		VulnerabilityID:         v.ID,
		ProjectID:               v.ProjectID,
		ScannerExternalID:       scannerExternalID,
		ReportType:              v.ReportType,
		Severity:                v.Severity,
		State:                   v.State,
		ResolvedOnDefaultBranch: v.ResolvedOnDefaultBranch,
	}
	if project != nil {
		r.Archived = project.Archived
		r.TraversalIDs = project.TraversalIDs
	}
	return r
}
