package ingestion

import (
	"context"
	"fmt"

	"github.com/openctemio/ingest/internal/metrics"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/domain/vulnerability"
)

// TaskIdentifiers find-or-creates the external identifiers reported for
// the slice's findings and records the assigned ids on each finding map,
// capped at the per-finding maximum.
type TaskIdentifiers struct{}

func (TaskIdentifiers) Name() string { return "ingest_identifiers" }

func (TaskIdentifiers) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	byFingerprint := make(map[string]*vulnerability.Identifier)
	order := make(map[*FindingMap][]string)

	for _, m := range s.Maps {
		for _, ri := range m.IdentifiersLimited() {
			identifier, err := vulnerability.NewIdentifier(s.ProjectID(), ri.ExternalType, ri.ExternalID, ri.Name, ri.URL)
			if err != nil {
				return fmt.Errorf("build identifier for finding %s: %w", m.UUID(), err)
			}
			fp := identifier.Fingerprint()
			if _, ok := byFingerprint[fp]; !ok {
				byFingerprint[fp] = identifier
			}
			order[m] = append(order[m], fp)
		}
	}

	if len(byFingerprint) == 0 {
		return nil
	}

	identifiers := make([]*vulnerability.Identifier, 0, len(byFingerprint))
	for _, identifier := range byFingerprint {
		identifiers = append(identifiers, identifier)
	}

	ids, err := tx.UpsertIdentifiers(ctx, identifiers)
	if err != nil {
		return fmt.Errorf("upsert identifiers: %w", err)
	}

	for _, m := range s.Maps {
		fps := order[m]
		m.IdentifierIDs = make([]shared.ID, 0, len(fps))
		for _, fp := range fps {
			if id, ok := ids[fp]; ok {
				m.IdentifierIDs = append(m.IdentifierIDs, id)
			}
		}
	}

	return nil
}

// TaskFindings upserts the persisted finding rows keyed by (project, uuid)
// and assigns FindingID / NewRecord on each map.
type TaskFindings struct{}

func (TaskFindings) Name() string { return "ingest_findings" }

func (TaskFindings) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	findings := make([]*vulnerability.Finding, 0, len(s.Maps))
	for _, m := range s.Maps {
		f, err := vulnerability.NewFinding(s.ProjectID(), s.ScannerID, s.ReportType(), m.Raw, m.Report)
		if err != nil {
			return fmt.Errorf("build finding %s: %w", m.UUID(), err)
		}
		findings = append(findings, f)
	}

	refs, err := tx.UpsertFindings(ctx, findings)
	if err != nil {
		return fmt.Errorf("upsert findings: %w", err)
	}

	for _, m := range s.Maps {
		ref, ok := refs[m.UUID()]
		if !ok {
			return fmt.Errorf("finding %s missing after upsert", m.UUID())
		}
		m.FindingID = ref.ID
		m.NewRecord = ref.New
	}

	return nil
}

// TaskVulnerabilities upserts one vulnerability per finding and assigns
// VulnerabilityID on each map. Existing vulnerabilities keep their state
// here; re-detection of resolved rows is a separate, explicit task.
type TaskVulnerabilities struct{}

func (TaskVulnerabilities) Name() string { return "ingest_vulnerabilities" }

func (TaskVulnerabilities) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	vulns := make([]*vulnerability.Vulnerability, 0, len(s.Maps))
	byFinding := make(map[shared.ID]*FindingMap, len(s.Maps))

	for _, m := range s.Maps {
		f := &vulnerability.Finding{
			ID:         m.FindingID,
			UUID:       m.UUID(),
			Severity:   m.Severity(),
			ReportType: s.ReportType(),
		}
		if m.Report != nil {
			f.Name = m.Report.Name
		}
		v, err := vulnerability.NewVulnerability(s.ProjectID(), f)
		if err != nil {
			return fmt.Errorf("build vulnerability for finding %s: %w", m.UUID(), err)
		}
		vulns = append(vulns, v)
		byFinding[m.FindingID] = m
	}

	refs, err := tx.UpsertVulnerabilities(ctx, vulns)
	if err != nil {
		return fmt.Errorf("upsert vulnerabilities: %w", err)
	}

	for findingID, ref := range refs {
		m, ok := byFinding[findingID]
		if !ok {
			continue
		}
		m.VulnerabilityID = ref.ID
		m.VulnerabilityState = ref.State
		// A map is a new record only when both rows are new; a legacy
		// vulnerability being re-attached to its finding is not.
		m.NewRecord = m.NewRecord && ref.New
	}

	return nil
}

// TaskMarkResolvedDetectedAgain transitions resolved vulnerabilities back
// to detected when their findings reappear. This is the only path from
// resolved back to detected.
type TaskMarkResolvedDetectedAgain struct{}

func (TaskMarkResolvedDetectedAgain) Name() string { return "mark_resolved_detected_again" }

func (TaskMarkResolvedDetectedAgain) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	candidates := make([]shared.ID, 0, len(s.Maps))
	byID := make(map[shared.ID]*FindingMap, len(s.Maps))
	for _, m := range s.Maps {
		if m.NewRecord || m.VulnerabilityID.IsZero() {
			continue
		}
		candidates = append(candidates, m.VulnerabilityID)
		byID[m.VulnerabilityID] = m
	}

	if len(candidates) == 0 {
		return nil
	}

	transitioned, err := tx.MarkDetectedAgain(ctx, candidates)
	if err != nil {
		return fmt.Errorf("mark detected again: %w", err)
	}

	for _, id := range transitioned {
		if m, ok := byID[id]; ok {
			m.TransitionedToDetected = true
			m.VulnerabilityState = vulnerability.StateDetected
		}
	}

	return nil
}

// TaskCounters accumulates the slice's statistic delta from its new
// records and bumps the ingestion counters. The delta is applied to the
// datastore by the statistics tasks further down the chain.
type TaskCounters struct{}

func (TaskCounters) Name() string { return "ingest_counters" }

func (TaskCounters) Execute(_ context.Context, _ PrimaryTx, s *Slice) error {
	s.statDelta = vulnerability.StatisticDelta{}
	for _, m := range s.Maps {
		if m.NewRecord {
			s.statDelta.Add(m.Severity())
		}
	}

	reportType := string(s.ReportType())
	metrics.FindingsIngestedTotal.WithLabelValues(reportType).Add(float64(len(s.Maps)))
	metrics.VulnerabilitiesCreatedTotal.WithLabelValues(reportType).Add(float64(s.statDelta.Total))

	return nil
}

// TaskAttachFindingsToVulnerabilities backfills the finding/vulnerability
// links in both directions; legacy vulnerability rows predate finding_id.
type TaskAttachFindingsToVulnerabilities struct{}

func (TaskAttachFindingsToVulnerabilities) Name() string { return "attach_findings_to_vulnerabilities" }

func (TaskAttachFindingsToVulnerabilities) Execute(ctx context.Context, tx PrimaryTx, s *Slice) error {
	links := make(map[shared.ID]shared.ID, len(s.Maps))
	for _, m := range s.Maps {
		if !m.FindingID.IsZero() && !m.VulnerabilityID.IsZero() {
			links[m.FindingID] = m.VulnerabilityID
		}
	}
	if len(links) == 0 {
		return nil
	}
	if err := tx.LinkFindingsToVulnerabilities(ctx, links); err != nil {
		return fmt.Errorf("link findings to vulnerabilities: %w", err)
	}
	return nil
}
