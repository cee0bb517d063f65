package ingestion

import (
	"context"

	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/domain/vulnerability"
)

// FindingRef is the outcome of upserting one finding row.
type FindingRef struct {
	ID  shared.ID
	New bool
}

// VulnerabilityRef is the outcome of upserting one vulnerability row.
type VulnerabilityRef struct {
	ID    shared.ID
	New   bool
	State vulnerability.State
}

// PrimaryStore is the primary datastore boundary. Repositories and the
// test fakes implement it.
type PrimaryStore interface {
	// InTransaction runs fn inside one primary transaction; fn errors roll
	// the transaction back.
	InTransaction(ctx context.Context, fn func(tx PrimaryTx) error) error

	// Project loads the project attributes ingestion snapshots.
	Project(ctx context.Context, projectID shared.ID) (*report.Project, error)

	// BackfillFindingUUIDs rewrites persisted finding rows from their
	// overridden UUID to the newly calculated one. Runs outside the slice
	// transaction, before the quota check.
	BackfillFindingUUIDs(ctx context.Context, projectID shared.ID, changes map[string]string) error

	// RecordLatestPipeline marks the pipeline as the project's latest for
	// statistics purposes.
	RecordLatestPipeline(ctx context.Context, pipeline *report.Pipeline) error

	// VulnerabilityReadIDs pages the read-model ids for one scanner,
	// ordered by vulnerability id, starting after the given marker. An
	// empty reportType matches all report types.
	VulnerabilityReadIDs(ctx context.Context, projectID shared.ID, scannerExternalID string, reportType report.Type, afterID shared.ID, limit int) ([]shared.ID, error)

	// ResolvableVulnerabilityIDs filters the given ids down to
	// vulnerabilities that are not already resolved on the default branch
	// and are not excluded from auto-resolution by policy.
	ResolvableVulnerabilityIDs(ctx context.Context, ids []shared.ID) ([]shared.ID, error)

	// MarkNoLongerDetected bulk-sets resolved_on_default_branch for the
	// given vulnerabilities and returns how many rows changed.
	MarkNoLongerDetected(ctx context.Context, ids []shared.ID) (int, error)

	// CreateRepresentationInformation records the audit rows documenting
	// why each vulnerability was flagged no longer detected.
	CreateRepresentationInformation(ctx context.Context, projectID shared.ID, pipelineID shared.ID, ids []shared.ID) error

	// VulnerabilitiesForIndexing filters the given ids down to those whose
	// indexing predicate holds.
	VulnerabilitiesForIndexing(ctx context.Context, ids []shared.ID) ([]shared.ID, error)
}

// PrimaryTx is the transaction-scoped surface tasks write through.
type PrimaryTx interface {
	// UpsertIdentifiers find-or-creates identifiers by fingerprint and
	// returns fingerprint -> id.
	UpsertIdentifiers(ctx context.Context, identifiers []*vulnerability.Identifier) (map[string]shared.ID, error)

	// UpsertFindings find-or-creates finding rows keyed by (project, uuid)
	// and returns uuid -> ref.
	UpsertFindings(ctx context.Context, findings []*vulnerability.Finding) (map[string]FindingRef, error)

	// UpsertVulnerabilities find-or-creates vulnerabilities keyed by their
	// finding and returns finding id -> ref. Existing rows keep their
	// state; only detection metadata is refreshed.
	UpsertVulnerabilities(ctx context.Context, vulns []*vulnerability.Vulnerability) (map[shared.ID]VulnerabilityRef, error)

	// MarkDetectedAgain transitions previously resolved vulnerabilities
	// back to detected and returns the ids that transitioned.
	MarkDetectedAgain(ctx context.Context, ids []shared.ID) ([]shared.ID, error)

	// LinkFindingsToVulnerabilities backfills finding_id on vulnerability
	// rows (legacy rows predate the link) and vulnerability_id on findings.
	LinkFindingsToVulnerabilities(ctx context.Context, links map[shared.ID]shared.ID) error

	// ReplaceFindingIdentifiers rewrites the finding/identifier join rows.
	ReplaceFindingIdentifiers(ctx context.Context, findingID shared.ID, identifierIDs []shared.ID) error

	UpsertFindingLinks(ctx context.Context, findingID shared.ID, links []*vulnerability.FindingLink) error
	UpsertFindingSignatures(ctx context.Context, findingID shared.ID, signatures []*vulnerability.FindingSignature) error
	UpsertFindingEvidence(ctx context.Context, findingID shared.ID, evidence *vulnerability.FindingEvidence) error
	UpsertFindingFlags(ctx context.Context, findingID shared.ID, flags []*vulnerability.FindingFlag) error

	// UpsertRemediations find-or-creates remediations by checksum and
	// associates them with the given findings.
	UpsertRemediations(ctx context.Context, projectID shared.ID, remediations []*vulnerability.Remediation, findingIDs []shared.ID) error

	// UpsertVulnerabilityReads refreshes the denormalized read model.
	UpsertVulnerabilityReads(ctx context.Context, reads []*vulnerability.Read) error

	// IncrementVulnerabilityStatistics applies a relative statistic delta
	// for the project.
	IncrementVulnerabilityStatistics(ctx context.Context, projectID shared.ID, delta *vulnerability.StatisticDelta) error

	// IncrementNamespaceStatistics applies a relative statistic delta for
	// the root namespace.
	IncrementNamespaceStatistics(ctx context.Context, namespaceID shared.ID, delta *vulnerability.StatisticDelta) error

	// UpsertScanner find-or-creates a scanner row by external id.
	UpsertScanner(ctx context.Context, projectID shared.ID, scanner *report.Scanner) (shared.ID, error)
}

// SecondaryStore is the secondary datastore boundary. Its tasks are
// idempotent and safely re-runnable: the primary commit strictly precedes
// the secondary transaction, so secondary effects are at-least-once.
type SecondaryStore interface {
	InTransaction(ctx context.Context, fn func(tx SecondaryTx) error) error

	// UsesScanResultPolicies reports whether the project has scan-result
	// policies configured.
	UsesScanResultPolicies(ctx context.Context, projectID shared.ID) (bool, error)
}

// SecondaryTx is the transaction-scoped surface of the secondary datastore.
type SecondaryTx interface {
	// SetProjectVulnerable flags the project as having vulnerabilities.
	SetProjectVulnerable(ctx context.Context, projectID shared.ID) error
}

// ScanSource supplies the eligible scans for a pipeline: the latest
// successful scan per scanner across the pipeline and its descendants,
// excluding scans with parse errors. Owned by the report-parsing subsystem.
type ScanSource interface {
	LatestSucceededScans(ctx context.Context, pipeline *report.Pipeline) ([]*report.Scan, error)
}

// Enqueuer schedules the fire-and-forget background jobs ingestion
// triggers.
type Enqueuer interface {
	EnqueueSBOMIngestion(ctx context.Context, projectID shared.ID) error
	EnqueueDroppedResolution(ctx context.Context, projectID shared.ID, reportType report.Type, primaryIdentifiers []string) error
	EnqueueApprovalRuleSync(ctx context.Context, projectID, pipelineID shared.ID) error
	EnqueueReadsRepair(ctx context.Context, projectID shared.ID) error
}

// SearchTracker queues vulnerabilities for search index updates. Failures
// are best-effort and never retried by the ingestion core.
type SearchTracker interface {
	Track(ctx context.Context, ids []shared.ID) error
}

// AutoResolver closes vulnerabilities automatically on behalf of the
// resolution reconciler. Implementations return how many of the given
// vulnerabilities were resolved.
type AutoResolver interface {
	Resolve(ctx context.Context, projectID shared.ID, ids []shared.ID) (int, error)
}
