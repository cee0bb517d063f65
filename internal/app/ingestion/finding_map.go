// Package ingestion implements the security report ingestion core: it turns
// parsed scan reports into durable vulnerability records across the primary
// and secondary datastores, and reconciles vulnerabilities that are no
// longer reported.
package ingestion

import (
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/domain/vulnerability"
)

// FindingMap joins a raw scanner finding with its parsed report counterpart
// and accumulates the identifiers assigned while the task chain runs. It is
// owned by exactly one ingestion run and discarded after the slice
// completes; its only durable effect is the ids it leaves in the datastore.
type FindingMap struct {
	Pipeline *report.Pipeline
	Scan     *report.Scan
	Raw      *report.Finding

	// Report is nil when the raw finding had no parsed counterpart. That is
	// recoverable: the occurrence is persisted from the raw record alone.
	Report *report.ReportFinding

	// Outcome fields, mutated task by task.
	FindingID              shared.ID
	VulnerabilityID        shared.ID
	VulnerabilityState     vulnerability.State
	IdentifierIDs          []shared.ID
	NewRecord              bool
	TransitionedToDetected bool
}

// NewFindingMap creates a finding map for one raw finding of a scan.
func NewFindingMap(pipeline *report.Pipeline, scan *report.Scan, raw *report.Finding) *FindingMap {
	return &FindingMap{
		Pipeline: pipeline,
		Scan:     scan,
		Raw:      raw,
		Report:   scan.ReportFindings[raw.JoinUUID()],
	}
}

// UUID is the canonical UUID the finding is persisted under.
func (m *FindingMap) UUID() string {
	return m.Raw.UUID
}

// Severity prefers the parsed report severity over the raw one.
func (m *FindingMap) Severity() string {
	if m.Report != nil && m.Report.Severity != "" {
		return m.Report.Severity
	}
	return m.Raw.Severity
}

// IdentifiersLimited returns the report identifiers capped at the
// per-finding maximum.
func (m *FindingMap) IdentifiersLimited() []report.Identifier {
	if m.Report == nil {
		return nil
	}
	ids := m.Report.Identifiers
	if len(ids) > vulnerability.MaxIdentifiersPerFinding {
		ids = ids[:vulnerability.MaxIdentifiersPerFinding]
	}
	return ids
}
