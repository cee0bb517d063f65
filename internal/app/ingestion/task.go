package ingestion

import (
	"context"

	"github.com/openctemio/ingest/pkg/domain/audit"
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/domain/vulnerability"
)

// Slice carries the state of one task-chain execution: one scan's finding
// maps plus the per-slice deferred callback queue. Tasks mutate the finding
// maps and the accumulated statistic delta as they run.
type Slice struct {
	// Pipeline is nil in continuous-vulnerability-scan mode.
	Pipeline *report.Pipeline
	Scan     *report.Scan
	Project  *report.Project
	Maps     []*FindingMap
	Context  *IngestionContext

	// ScannerID is the persisted scanner row the slice's findings point
	// at. Preset from the scan for report slices; provisioned by a task in
	// continuous mode.
	ScannerID shared.ID

	statDelta vulnerability.StatisticDelta
}

// ProjectID returns the owning project of the slice.
func (s *Slice) ProjectID() shared.ID {
	return s.Scan.ProjectID
}

// ReportType returns the scan's report type.
func (s *Slice) ReportType() report.Type {
	return s.Scan.Type
}

// VulnerabilityIDs returns the vulnerability ids the slice produced, in
// finding-map order, skipping maps that never got one.
func (s *Slice) VulnerabilityIDs() []shared.ID {
	ids := make([]shared.ID, 0, len(s.Maps))
	for _, m := range s.Maps {
		if !m.VulnerabilityID.IsZero() {
			ids = append(ids, m.VulnerabilityID)
		}
	}
	return ids
}

// NewRecordCount returns how many finding maps produced new vulnerability
// records.
func (s *Slice) NewRecordCount() int {
	n := 0
	for _, m := range s.Maps {
		if m.NewRecord {
			n++
		}
	}
	return n
}

// Task is one unit of idempotent work operating on a slice's finding maps
// inside the primary transaction. Re-running a slice with the same inputs
// must not create duplicate rows; tasks rely on upsert and find-or-create
// semantics keyed on natural keys.
type Task interface {
	Name() string
	Execute(ctx context.Context, tx PrimaryTx, s *Slice) error
}

// SecondaryTask is a unit of idempotent work inside the secondary
// datastore transaction. Secondary effects are at-least-once: the task must
// be safely re-runnable if the primary committed but the secondary failed.
type SecondaryTask interface {
	Name() string
	Execute(ctx context.Context, tx SecondaryTx, s *Slice) error
}

// reportSliceTasks is the ordered primary task list for a regular report
// slice. The order is part of the ingestion contract.
func reportSliceTasks(recorder audit.Recorder) []Task {
	return []Task{
		TaskIdentifiers{},
		TaskFindings{},
		TaskVulnerabilities{},
		TaskMarkResolvedDetectedAgain{},
		TaskCounters{},
		TaskAttachFindingsToVulnerabilities{},
		TaskFindingIdentifiers{},
		TaskFindingLinks{},
		TaskFindingSignatures{},
		TaskFindingEvidence{},
		TaskVulnerabilityFlags{},
		TaskVulnerabilityReads{},
		TaskVulnerabilityStatistics{},
		TaskNamespaceStatistics{},
		TaskRemediations{},
		TaskHooks{Recorder: recorder},
	}
}

// continuousScanSliceTasks is the superset used by continuous vulnerability
// scanning: the synthetic scanner is provisioned before anything else and
// no pipeline is required.
func continuousScanSliceTasks(recorder audit.Recorder) []Task {
	return append([]Task{TaskProvisionContinuousScanner{Recorder: recorder}}, reportSliceTasks(recorder)...)
}

// secondarySliceTasks is the (short) secondary datastore task list shared
// by both slice variants.
func secondarySliceTasks() []SecondaryTask {
	return []SecondaryTask{
		TaskMarkProjectVulnerable{},
	}
}
