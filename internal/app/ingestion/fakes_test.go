package ingestion

import (
	"context"
	"sync"

	"github.com/openctemio/ingest/pkg/domain/audit"
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/domain/vulnerability"
)

// fakeVuln is one vulnerability row in the in-memory store.
type fakeVuln struct {
	id        shared.ID
	findingID shared.ID
	state     vulnerability.State
	severity  string
}

// fakePrimary is an in-memory PrimaryStore whose transactions expose the
// store itself as the PrimaryTx surface.
type fakePrimary struct {
	mu sync.Mutex

	project *report.Project
	// projectSeq, when non-empty, overrides project one load at a time.
	// Used to simulate attributes drifting mid-ingestion.
	projectSeq []*report.Project

	txCount      int
	failFindings error

	identifiers        map[string]shared.ID
	findings           map[string]shared.ID
	vulnsByFinding     map[shared.ID]*fakeVuln
	vulnsByID          map[shared.ID]*fakeVuln
	links              map[shared.ID]shared.ID
	findingIdentifiers map[shared.ID][]shared.ID
	reads              map[shared.ID]*vulnerability.Read
	scanners           map[string]shared.ID
	projectDeltas      []*vulnerability.StatisticDelta
	namespaceDeltas    []*vulnerability.StatisticDelta
	remediations       int

	backfills      []map[string]string
	latestPipeline *report.Pipeline

	findingUpserts [][]string

	// readModel backs VulnerabilityReadIDs, keyed by scanner external id
	// and report type, each slice pre-sorted ascending.
	readModel       map[string][]shared.ID
	readPages       int
	notResolvable   map[shared.ID]bool
	flaggedResolved []shared.ID
	representations [][]shared.ID
}

func newFakePrimary(project *report.Project) *fakePrimary {
	return &fakePrimary{
		project:            project,
		identifiers:        map[string]shared.ID{},
		findings:           map[string]shared.ID{},
		vulnsByFinding:     map[shared.ID]*fakeVuln{},
		vulnsByID:          map[shared.ID]*fakeVuln{},
		links:              map[shared.ID]shared.ID{},
		findingIdentifiers: map[shared.ID][]shared.ID{},
		reads:              map[shared.ID]*vulnerability.Read{},
		scanners:           map[string]shared.ID{},
		readModel:          map[string][]shared.ID{},
		notResolvable:      map[shared.ID]bool{},
	}
}

func readModelKey(scannerExternalID string, reportType report.Type) string {
	return scannerExternalID + "|" + string(reportType)
}

func (f *fakePrimary) InTransaction(ctx context.Context, fn func(tx PrimaryTx) error) error {
	f.mu.Lock()
	f.txCount++
	f.mu.Unlock()
	return fn(f)
}

func (f *fakePrimary) Project(context.Context, shared.ID) (*report.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.projectSeq) > 0 {
		p := f.projectSeq[0]
		f.projectSeq = f.projectSeq[1:]
		return p, nil
	}
	return f.project, nil
}

func (f *fakePrimary) BackfillFindingUUIDs(_ context.Context, _ shared.ID, changes map[string]string) error {
	f.backfills = append(f.backfills, changes)
	return nil
}

func (f *fakePrimary) RecordLatestPipeline(_ context.Context, pipeline *report.Pipeline) error {
	f.latestPipeline = pipeline
	return nil
}

func (f *fakePrimary) VulnerabilityReadIDs(_ context.Context, _ shared.ID, scannerExternalID string, reportType report.Type, afterID shared.ID, limit int) ([]shared.ID, error) {
	f.readPages++
	all := f.readModel[readModelKey(scannerExternalID, reportType)]

	var page []shared.ID
	for _, id := range all {
		if !afterID.IsZero() && id.Compare(afterID) <= 0 {
			continue
		}
		page = append(page, id)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *fakePrimary) ResolvableVulnerabilityIDs(_ context.Context, ids []shared.ID) ([]shared.ID, error) {
	out := make([]shared.ID, 0, len(ids))
	for _, id := range ids {
		if !f.notResolvable[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakePrimary) MarkNoLongerDetected(_ context.Context, ids []shared.ID) (int, error) {
	f.flaggedResolved = append(f.flaggedResolved, ids...)
	return len(ids), nil
}

func (f *fakePrimary) CreateRepresentationInformation(_ context.Context, _ shared.ID, _ shared.ID, ids []shared.ID) error {
	f.representations = append(f.representations, ids)
	return nil
}

func (f *fakePrimary) VulnerabilitiesForIndexing(_ context.Context, ids []shared.ID) ([]shared.ID, error) {
	return ids, nil
}

// PrimaryTx surface.

func (f *fakePrimary) UpsertIdentifiers(_ context.Context, identifiers []*vulnerability.Identifier) (map[string]shared.ID, error) {
	out := make(map[string]shared.ID, len(identifiers))
	for _, identifier := range identifiers {
		fp := identifier.Fingerprint()
		id, ok := f.identifiers[fp]
		if !ok {
			id = shared.NewID()
			f.identifiers[fp] = id
		}
		out[fp] = id
	}
	return out, nil
}

func (f *fakePrimary) UpsertFindings(_ context.Context, findings []*vulnerability.Finding) (map[string]FindingRef, error) {
	if f.failFindings != nil {
		return nil, f.failFindings
	}

	uuids := make([]string, 0, len(findings))
	out := make(map[string]FindingRef, len(findings))
	for _, finding := range findings {
		uuids = append(uuids, finding.UUID)
		id, ok := f.findings[finding.UUID]
		if !ok {
			id = shared.NewID()
			f.findings[finding.UUID] = id
		}
		out[finding.UUID] = FindingRef{ID: id, New: !ok}
	}
	f.findingUpserts = append(f.findingUpserts, uuids)
	return out, nil
}

func (f *fakePrimary) UpsertVulnerabilities(_ context.Context, vulns []*vulnerability.Vulnerability) (map[shared.ID]VulnerabilityRef, error) {
	out := make(map[shared.ID]VulnerabilityRef, len(vulns))
	for _, v := range vulns {
		existing, ok := f.vulnsByFinding[v.FindingID]
		if !ok {
			existing = &fakeVuln{
				id:        shared.NewID(),
				findingID: v.FindingID,
				state:     vulnerability.StateDetected,
				severity:  v.Severity,
			}
			f.vulnsByFinding[v.FindingID] = existing
			f.vulnsByID[existing.id] = existing
		}
		out[v.FindingID] = VulnerabilityRef{ID: existing.id, New: !ok, State: existing.state}
	}
	return out, nil
}

func (f *fakePrimary) MarkDetectedAgain(_ context.Context, ids []shared.ID) ([]shared.ID, error) {
	var transitioned []shared.ID
	for _, id := range ids {
		if v, ok := f.vulnsByID[id]; ok && v.state == vulnerability.StateResolved {
			v.state = vulnerability.StateDetected
			transitioned = append(transitioned, id)
		}
	}
	return transitioned, nil
}

func (f *fakePrimary) LinkFindingsToVulnerabilities(_ context.Context, links map[shared.ID]shared.ID) error {
	for findingID, vulnID := range links {
		f.links[findingID] = vulnID
	}
	return nil
}

func (f *fakePrimary) ReplaceFindingIdentifiers(_ context.Context, findingID shared.ID, identifierIDs []shared.ID) error {
	f.findingIdentifiers[findingID] = identifierIDs
	return nil
}

func (f *fakePrimary) UpsertFindingLinks(context.Context, shared.ID, []*vulnerability.FindingLink) error {
	return nil
}

func (f *fakePrimary) UpsertFindingSignatures(context.Context, shared.ID, []*vulnerability.FindingSignature) error {
	return nil
}

func (f *fakePrimary) UpsertFindingEvidence(context.Context, shared.ID, *vulnerability.FindingEvidence) error {
	return nil
}

func (f *fakePrimary) UpsertFindingFlags(context.Context, shared.ID, []*vulnerability.FindingFlag) error {
	return nil
}

func (f *fakePrimary) UpsertRemediations(_ context.Context, _ shared.ID, remediations []*vulnerability.Remediation, _ []shared.ID) error {
	f.remediations += len(remediations)
	return nil
}

func (f *fakePrimary) UpsertVulnerabilityReads(_ context.Context, reads []*vulnerability.Read) error {
	for _, r := range reads {
		f.reads[r.VulnerabilityID] = r
	}
	return nil
}

func (f *fakePrimary) IncrementVulnerabilityStatistics(_ context.Context, _ shared.ID, delta *vulnerability.StatisticDelta) error {
	f.projectDeltas = append(f.projectDeltas, delta)
	return nil
}

func (f *fakePrimary) IncrementNamespaceStatistics(_ context.Context, _ shared.ID, delta *vulnerability.StatisticDelta) error {
	f.namespaceDeltas = append(f.namespaceDeltas, delta)
	return nil
}

func (f *fakePrimary) UpsertScanner(_ context.Context, _ shared.ID, scanner *report.Scanner) (shared.ID, error) {
	id, ok := f.scanners[scanner.ExternalID]
	if !ok {
		id = shared.NewID()
		f.scanners[scanner.ExternalID] = id
	}
	return id, nil
}

// fakeSecondary is an in-memory SecondaryStore.
type fakeSecondary struct {
	vulnerableProjects map[shared.ID]bool
	usesPolicies       bool
	txCount            int
}

func newFakeSecondary() *fakeSecondary {
	return &fakeSecondary{vulnerableProjects: map[shared.ID]bool{}}
}

func (f *fakeSecondary) InTransaction(ctx context.Context, fn func(tx SecondaryTx) error) error {
	f.txCount++
	return fn(f)
}

func (f *fakeSecondary) UsesScanResultPolicies(context.Context, shared.ID) (bool, error) {
	return f.usesPolicies, nil
}

func (f *fakeSecondary) SetProjectVulnerable(_ context.Context, projectID shared.ID) error {
	f.vulnerableProjects[projectID] = true
	return nil
}

// fakeQuotaSource returns one fixed quota.
type fakeQuotaSource struct {
	quota *Quota
}

func (f *fakeQuotaSource) QuotaFor(_ context.Context, projectID shared.ID) (*Quota, error) {
	if f.quota != nil {
		return f.quota, nil
	}
	return &Quota{ProjectID: projectID}, nil
}

// fakeSearch records tracked vulnerability ids.
type fakeSearch struct {
	tracked []shared.ID
}

func (f *fakeSearch) Track(_ context.Context, ids []shared.ID) error {
	f.tracked = append(f.tracked, ids...)
	return nil
}

// fakeRecorder collects audit events.
type fakeRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeRecorder) Record(_ context.Context, event audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRecorder) byType(eventType string) []audit.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []audit.Event
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeResolver auto-resolves with an optional cap on how many it accepts.
type fakeResolver struct {
	resolved [][]shared.ID
}

func (f *fakeResolver) Resolve(_ context.Context, _ shared.ID, ids []shared.ID) (int, error) {
	f.resolved = append(f.resolved, ids)
	return len(ids), nil
}

// fakeScanSource serves fixed scans.
type fakeScanSource struct {
	scans []*report.Scan
}

func (f *fakeScanSource) LatestSucceededScans(context.Context, *report.Pipeline) ([]*report.Scan, error) {
	return f.scans, nil
}

// fakeEnqueuer records enqueued follow-up jobs.
type fakeEnqueuer struct {
	sbom        []shared.ID
	dropped     map[report.Type][]string
	approvals   int
	readRepairs []shared.ID
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{dropped: map[report.Type][]string{}}
}

func (f *fakeEnqueuer) EnqueueSBOMIngestion(_ context.Context, projectID shared.ID) error {
	f.sbom = append(f.sbom, projectID)
	return nil
}

func (f *fakeEnqueuer) EnqueueDroppedResolution(_ context.Context, _ shared.ID, reportType report.Type, primaryIdentifiers []string) error {
	f.dropped[reportType] = append(f.dropped[reportType], primaryIdentifiers...)
	return nil
}

func (f *fakeEnqueuer) EnqueueApprovalRuleSync(context.Context, shared.ID, shared.ID) error {
	f.approvals++
	return nil
}

func (f *fakeEnqueuer) EnqueueReadsRepair(_ context.Context, projectID shared.ID) error {
	f.readRepairs = append(f.readRepairs, projectID)
	return nil
}

// fakeContinuousSource serves one fixed continuous scan.
type fakeContinuousSource struct {
	scan *report.Scan
}

func (f *fakeContinuousSource) LatestContinuousScan(context.Context, shared.ID) (*report.Scan, error) {
	return f.scan, nil
}
