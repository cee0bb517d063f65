package ingestion

import (
	"context"
	"fmt"

	"github.com/openctemio/ingest/pkg/domain/vulnerability"
)

// TaskVulnerabilityReads refreshes the denormalized read model for every
// vulnerability the slice touched. The resolution reconciler diffs against
// these rows, so they must reflect this ingestion before the transaction
// commits.
type TaskVulnerabilityReads struct{}

func (TaskVulnerabilityReads) Name() string { return "ingest_vulnerability_reads" }

func (TaskVulnerabilityReads) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	scannerExternalID := ""
	if s.Scan.Scanner != nil {
		scannerExternalID = s.Scan.Scanner.ExternalID
	}

	reads := make([]*vulnerability.Read, 0, len(s.Maps))
	for _, m := range s.Maps {
		if m.VulnerabilityID.IsZero() {
			continue
		}
		state := m.VulnerabilityState
		if state == "" {
			state = vulnerability.StateDetected
		}
		v := &vulnerability.Vulnerability{
			ID:         m.VulnerabilityID,
			ProjectID:  s.ProjectID(),
			Severity:   m.Severity(),
			ReportType: s.ReportType(),
			State:      state,
		}
		reads = append(reads, vulnerability.NewRead(v, scannerExternalID, s.Project))
	}

	if len(reads) == 0 {
		return nil
	}
	if err := tx.UpsertVulnerabilityReads(ctx, reads); err != nil {
		return fmt.Errorf("upsert vulnerability reads: %w", err)
	}
	return nil
}

// TaskVulnerabilityStatistics applies the slice's statistic delta to the
// project counters.
type TaskVulnerabilityStatistics struct{}

func (TaskVulnerabilityStatistics) Name() string { return "ingest_vulnerability_statistics" }

func (TaskVulnerabilityStatistics) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	if s.statDelta.Empty() {
		return nil
	}
	if err := tx.IncrementVulnerabilityStatistics(ctx, s.ProjectID(), &s.statDelta); err != nil {
		return fmt.Errorf("increment project statistics: %w", err)
	}
	return nil
}

// TaskNamespaceStatistics rolls the same delta up to the project's root
// namespace.
type TaskNamespaceStatistics struct{}

func (TaskNamespaceStatistics) Name() string { return "ingest_namespace_statistics" }

func (TaskNamespaceStatistics) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	if s.statDelta.Empty() || s.Project == nil || s.Project.NamespaceID.IsZero() {
		return nil
	}
	if err := tx.IncrementNamespaceStatistics(ctx, s.Project.NamespaceID, &s.statDelta); err != nil {
		return fmt.Errorf("increment namespace statistics: %w", err)
	}
	return nil
}
