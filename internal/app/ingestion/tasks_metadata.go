package ingestion

import (
	"context"
	"fmt"

	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/domain/vulnerability"
)

// TaskFindingIdentifiers rewrites the finding/identifier join rows so each
// finding reflects exactly the identifiers of the latest report.
type TaskFindingIdentifiers struct{}

func (TaskFindingIdentifiers) Name() string { return "ingest_finding_identifiers" }

func (TaskFindingIdentifiers) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	for _, m := range s.Maps {
		if m.FindingID.IsZero() {
			continue
		}
		if err := tx.ReplaceFindingIdentifiers(ctx, m.FindingID, m.IdentifierIDs); err != nil {
			return fmt.Errorf("replace identifiers for finding %s: %w", m.UUID(), err)
		}
	}
	return nil
}

// TaskFindingLinks persists reference URLs reported alongside each finding.
type TaskFindingLinks struct{}

func (TaskFindingLinks) Name() string { return "ingest_finding_links" }

func (TaskFindingLinks) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	for _, m := range s.Maps {
		if m.Report == nil || len(m.Report.Links) == 0 {
			continue
		}
		links := make([]*vulnerability.FindingLink, 0, len(m.Report.Links))
		for _, l := range m.Report.Links {
			if l.URL == "" {
				continue
			}
			links = append(links, &vulnerability.FindingLink{
				ID:        shared.NewID(),
				FindingID: m.FindingID,
				Name:      l.Name,
				URL:       l.URL,
			})
		}
		if len(links) == 0 {
			continue
		}
		if err := tx.UpsertFindingLinks(ctx, m.FindingID, links); err != nil {
			return fmt.Errorf("upsert links for finding %s: %w", m.UUID(), err)
		}
	}
	return nil
}

// TaskFindingSignatures persists the tracking signatures used to
// re-identify findings across code movement.
type TaskFindingSignatures struct{}

func (TaskFindingSignatures) Name() string { return "ingest_finding_signatures" }

func (TaskFindingSignatures) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	for _, m := range s.Maps {
		if m.Report == nil || len(m.Report.Signatures) == 0 {
			continue
		}
		sigs := make([]*vulnerability.FindingSignature, 0, len(m.Report.Signatures))
		for _, sig := range m.Report.Signatures {
			sigs = append(sigs, &vulnerability.FindingSignature{
				ID:        shared.NewID(),
				FindingID: m.FindingID,
				Algorithm: sig.Algorithm,
				Value:     sig.Value,
			})
		}
		if err := tx.UpsertFindingSignatures(ctx, m.FindingID, sigs); err != nil {
			return fmt.Errorf("upsert signatures for finding %s: %w", m.UUID(), err)
		}
	}
	return nil
}

// TaskFindingEvidence persists the request/response evidence blob, when the
// report carried one.
type TaskFindingEvidence struct{}

func (TaskFindingEvidence) Name() string { return "ingest_finding_evidence" }

func (TaskFindingEvidence) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	for _, m := range s.Maps {
		if m.Report == nil || m.Report.Evidence == nil {
			continue
		}
		ev := &vulnerability.FindingEvidence{
			ID:        shared.NewID(),
			FindingID: m.FindingID,
			Summary:   m.Report.Evidence.Summary,
			Data:      m.Report.Evidence.Data,
		}
		if err := tx.UpsertFindingEvidence(ctx, m.FindingID, ev); err != nil {
			return fmt.Errorf("upsert evidence for finding %s: %w", m.UUID(), err)
		}
	}
	return nil
}

// TaskVulnerabilityFlags persists scanner-side analysis flags such as
// likely false positive verdicts.
type TaskVulnerabilityFlags struct{}

func (TaskVulnerabilityFlags) Name() string { return "ingest_vulnerability_flags" }

func (TaskVulnerabilityFlags) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	for _, m := range s.Maps {
		if m.Report == nil || len(m.Report.Flags) == 0 {
			continue
		}
		flags := make([]*vulnerability.FindingFlag, 0, len(m.Report.Flags))
		for _, fl := range m.Report.Flags {
			flags = append(flags, &vulnerability.FindingFlag{
				ID:          shared.NewID(),
				FindingID:   m.FindingID,
				Type:        fl.Type,
				Origin:      fl.Origin,
				Description: fl.Description,
			})
		}
		if err := tx.UpsertFindingFlags(ctx, m.FindingID, flags); err != nil {
			return fmt.Errorf("upsert flags for finding %s: %w", m.UUID(), err)
		}
	}
	return nil
}

// TaskRemediations deduplicates the slice's remediations by checksum and
// associates them with their findings.
type TaskRemediations struct{}

func (TaskRemediations) Name() string { return "ingest_remediations" }

func (TaskRemediations) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	byChecksum := make(map[string]*vulnerability.Remediation)
	findingsByChecksum := make(map[string][]shared.ID)

	for _, m := range s.Maps {
		if m.Report == nil {
			continue
		}
		for _, r := range m.Report.Remediations {
			if r.Checksum == "" || r.Diff == "" {
				continue
			}
			if _, ok := byChecksum[r.Checksum]; !ok {
				byChecksum[r.Checksum] = &vulnerability.Remediation{
					ID:        shared.NewID(),
					ProjectID: s.ProjectID(),
					Checksum:  r.Checksum,
					Summary:   r.Summary,
					Diff:      r.Diff,
				}
			}
			findingsByChecksum[r.Checksum] = append(findingsByChecksum[r.Checksum], m.FindingID)
		}
	}

	for checksum, remediation := range byChecksum {
		err := tx.UpsertRemediations(ctx, s.ProjectID(), []*vulnerability.Remediation{remediation}, findingsByChecksum[checksum])
		if err != nil {
			return fmt.Errorf("upsert remediation %s: %w", checksum, err)
		}
	}

	return nil
}
