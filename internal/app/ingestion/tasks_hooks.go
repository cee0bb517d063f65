package ingestion

import (
	"context"
	"fmt"

	"github.com/openctemio/ingest/pkg/domain/audit"
	"github.com/openctemio/ingest/pkg/domain/report"
)

// TaskHooks queues the post-commit side effects for the slice: one audit
// event per vulnerability that became detected in this run. The callbacks
// run after the primary transaction commits so observers never see ids that
// may still roll back.
type TaskHooks struct {
	Recorder audit.Recorder
}

func (TaskHooks) Name() string { return "ingest_hooks" }

func (t TaskHooks) Execute(_ context.Context, _ PrimaryTx, s *Slice) error {
	if t.Recorder == nil {
		return nil
	}
	for _, m := range s.Maps {
		if !m.NewRecord && !m.TransitionedToDetected {
			continue
		}
		vulnerabilityID := m.VulnerabilityID
		uuid := m.UUID()
		redetected := m.TransitionedToDetected
		s.Context.RunAfterCommit(func(ctx context.Context) error {
			event := audit.NewEvent(audit.EventVulnerabilityDetected, s.ProjectID())
			event.TargetID = vulnerabilityID
			event.Details = map[string]any{
				"finding_uuid": uuid,
				"report_type":  string(s.ReportType()),
				"redetected":   redetected,
			}
			t.Recorder.Record(ctx, event)
			return nil
		})
	}
	return nil
}

// TaskProvisionContinuousScanner find-or-creates the synthetic scanner row
// backing continuous vulnerability scanning and points the slice at it.
// Report slices skip this; their scanner rows come from the parsed report.
type TaskProvisionContinuousScanner struct {
	Recorder audit.Recorder
}

func (TaskProvisionContinuousScanner) Name() string { return "provision_continuous_scanner" }

func (t TaskProvisionContinuousScanner) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	scanner := &report.Scanner{
		ExternalID: report.ContinuousScannerExternalID,
		Name:       "Continuous Vulnerability Scanner",
		Vendor:     "openctemio",
	}
	id, err := tx.UpsertScanner(ctx, s.ProjectID(), scanner)
	if err != nil {
		return fmt.Errorf("provision continuous scanner: %w", err)
	}

	scanner.ID = id
	s.ScannerID = id
	s.Scan.Scanner = scanner

	if t.Recorder != nil {
		s.Context.RunAfterCommit(func(ctx context.Context) error {
			event := audit.NewEvent(audit.EventContinuousScannerProvisioned, s.ProjectID())
			event.TargetID = id
			t.Recorder.Record(ctx, event)
			return nil
		})
	}
	return nil
}

// TaskMarkProjectVulnerable flags the project as having vulnerabilities in
// the secondary datastore. Runs only when the slice produced at least one
// vulnerability; the flag is never cleared by ingestion.
type TaskMarkProjectVulnerable struct{}

func (TaskMarkProjectVulnerable) Name() string { return "mark_project_vulnerable" }

func (TaskMarkProjectVulnerable) Execute(ctx context.Context, tx SecondaryTx, s *Slice) error {
	if len(s.VulnerabilityIDs()) == 0 {
		return nil
	}
	if err := tx.SetProjectVulnerable(ctx, s.ProjectID()); err != nil {
		return fmt.Errorf("mark project vulnerable: %w", err)
	}
	return nil
}
