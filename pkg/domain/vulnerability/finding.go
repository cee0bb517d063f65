package vulnerability

import (
	"time"

	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

// Finding is the persisted counterpart of a raw report finding. Rows are
// keyed naturally by (project, uuid); ingestion upserts them so repeated
// pipeline runs never duplicate records.
type Finding struct {
	ID                  shared.ID
	ProjectID           shared.ID
	VulnerabilityID     shared.ID
	ScannerID           shared.ID
	UUID                string
	Name                string
	Description         string
	Solution            string
	Severity            string
	ReportType          report.Type
	LocationFingerprint string
	Location            report.Location
	RawMetadata         map[string]any
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewFinding builds a persisted finding from the raw/report pair of one
// finding map. Report metadata may be nil; the raw record alone is enough
// to keep the occurrence durable.
func NewFinding(projectID shared.ID, scannerID shared.ID, reportType report.Type, raw *report.Finding, parsed *report.ReportFinding) (*Finding, error) {
	if raw == nil {
		return nil, shared.NewDomainError("VALIDATION", "raw finding is required", shared.ErrValidation)
	}
	if raw.UUID == "" {
		return nil, shared.NewDomainError("VALIDATION", "finding uuid is required", shared.ErrValidation)
	}

	now := time.Now().UTC()
	f := &Finding{
		ID:                  shared.NewID(),
		ProjectID:           projectID,
		ScannerID:           scannerID,
		UUID:                raw.UUID,
		Severity:            raw.Severity,
		ReportType:          reportType,
		LocationFingerprint: raw.LocationFingerprint,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if parsed != nil {
		f.Name = parsed.Name
		f.Description = parsed.Description
		f.Solution = parsed.Solution
		if parsed.Severity != "" {
			f.Severity = parsed.Severity
		}
		f.Location = parsed.Location
		f.RawMetadata = parsed.RawMetadata
	}

	return f, nil
}

// FindingLink is a reference URL persisted for a finding.
type FindingLink struct {
	ID        shared.ID
	FindingID shared.ID
	Name      string
	URL       string
}

// FindingSignature is a tracking signature persisted for a finding.
type FindingSignature struct {
	ID        shared.ID
	FindingID shared.ID
	Algorithm string
	Value     string
}

// FindingEvidence is the evidence blob persisted for a finding.
type FindingEvidence struct {
	ID        shared.ID
	FindingID shared.ID
	Summary   string
	Data      map[string]any
}

// Remediation is a scanner-suggested fix, deduplicated per project by its
// diff checksum.
type Remediation struct {
	ID        shared.ID
	ProjectID shared.ID
	Checksum  string
	Summary   string
	Diff      string
}

// FindingFlag records scanner-side analysis about a finding, e.g. a likely
// false positive verdict.
type FindingFlag struct {
	ID          shared.ID
	FindingID   shared.ID
	Type        string
	Origin      string
	Description string
}
