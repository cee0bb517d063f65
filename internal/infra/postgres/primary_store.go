package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/domain/vulnerability"
)

// PrimaryStore is the postgres-backed primary datastore: findings,
// identifiers, vulnerabilities, reads, statistics and their satellites.
type PrimaryStore struct {
	db *DB
}

// NewPrimaryStore creates the primary store on the main database.
func NewPrimaryStore(db *DB) *PrimaryStore {
	return &PrimaryStore{db: db}
}

var _ ingestion.PrimaryStore = (*PrimaryStore)(nil)

// InTransaction runs fn inside one primary transaction.
func (s *PrimaryStore) InTransaction(ctx context.Context, fn func(tx ingestion.PrimaryTx) error) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(&primaryTx{tx: tx})
	})
}

// Project loads the project attributes ingestion snapshots.
func (s *PrimaryStore) Project(ctx context.Context, projectID shared.ID) (*report.Project, error) {
	query := `
		SELECT id, namespace_id, archived, traversal_ids
		FROM projects
		WHERE id = $1`

	p := &report.Project{}
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&p.ID, &p.NamespaceID, &p.Archived, pq.Array(&p.TraversalIDs),
	)
	if err == sql.ErrNoRows {
		return nil, shared.NewDomainError("NOT_FOUND", "project not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}
	return p, nil
}

// BackfillFindingUUIDs rewrites finding rows from their overridden UUID to
// the recalculated one. Updates run in sorted key order so two concurrent
// backfills touching overlapping UUID sets acquire row locks consistently.
func (s *PrimaryStore) BackfillFindingUUIDs(ctx context.Context, projectID shared.ID, changes map[string]string) error {
	if len(changes) == 0 {
		return nil
	}

	oldUUIDs := make([]string, 0, len(changes))
	for oldUUID := range changes {
		oldUUIDs = append(oldUUIDs, oldUUID)
	}
	sort.Strings(oldUUIDs)

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, oldUUID := range oldUUIDs {
			_, err := tx.ExecContext(ctx, `
				UPDATE findings
				SET uuid = $3, updated_at = NOW()
				WHERE project_id = $1 AND uuid = $2`,
				projectID, oldUUID, changes[oldUUID],
			)
			if err != nil {
				if isUniqueViolation(err) {
					// The target UUID already has a row; the old one is a
					// duplicate detection superseded by it.
					continue
				}
				return fmt.Errorf("backfill uuid %s: %w", oldUUID, err)
			}
		}
		return nil
	})
}

// RecordLatestPipeline marks the pipeline as the project's latest for
// statistics purposes.
func (s *PrimaryStore) RecordLatestPipeline(ctx context.Context, pipeline *report.Pipeline) error {
	query := `
		INSERT INTO latest_pipelines (project_id, pipeline_id, ref, recorded_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (project_id) DO UPDATE SET
			pipeline_id = EXCLUDED.pipeline_id,
			ref = EXCLUDED.ref,
			recorded_at = EXCLUDED.recorded_at`

	if _, err := s.db.ExecContext(ctx, query, pipeline.ProjectID, pipeline.ID, pipeline.Ref); err != nil {
		return fmt.Errorf("record latest pipeline: %w", err)
	}
	return nil
}

// VulnerabilityReadIDs pages the read-model ids for one scanner in keyset
// order.
func (s *PrimaryStore) VulnerabilityReadIDs(ctx context.Context, projectID shared.ID, scannerExternalID string, reportType report.Type, afterID shared.ID, limit int) ([]shared.ID, error) {
	query := `
		SELECT vulnerability_id
		FROM vulnerability_reads
		WHERE project_id = $1
		  AND scanner_external_id = $2
		  AND ($3 = '' OR report_type = $3)
		  AND ($4::uuid IS NULL OR vulnerability_id > $4)
		ORDER BY vulnerability_id ASC
		LIMIT $5`

	var after any
	if !afterID.IsZero() {
		after = afterID.String()
	}

	rows, err := s.db.QueryContext(ctx, query, projectID, scannerExternalID, string(reportType), after, limit)
	if err != nil {
		return nil, fmt.Errorf("query vulnerability reads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanIDs(rows)
}

// ResolvableVulnerabilityIDs filters ids down to vulnerabilities still open
// on the default branch and not excluded from auto-resolution by policy.
func (s *PrimaryStore) ResolvableVulnerabilityIDs(ctx context.Context, ids []shared.ID) ([]shared.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT vulnerability_id
		FROM vulnerability_reads
		WHERE vulnerability_id = ANY($1)
		  AND resolved_on_default_branch = FALSE
		  AND requires_manual_resolution = FALSE
		ORDER BY vulnerability_id ASC`

	rows, err := s.db.QueryContext(ctx, query, idArray(ids))
	if err != nil {
		return nil, fmt.Errorf("query resolvable vulnerabilities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanIDs(rows)
}

// MarkNoLongerDetected bulk-flags vulnerabilities as resolved on the
// default branch, mirrored into the read model, and returns how many rows
// changed.
func (s *PrimaryStore) MarkNoLongerDetected(ctx context.Context, ids []shared.ID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var changed int64
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE vulnerabilities
			SET resolved_on_default_branch = TRUE, updated_at = NOW()
			WHERE id = ANY($1) AND resolved_on_default_branch = FALSE`,
			idArray(ids),
		)
		if err != nil {
			return fmt.Errorf("flag vulnerabilities: %w", err)
		}
		changed, _ = res.RowsAffected()

		_, err = tx.ExecContext(ctx, `
			UPDATE vulnerability_reads
			SET resolved_on_default_branch = TRUE
			WHERE vulnerability_id = ANY($1)`,
			idArray(ids),
		)
		if err != nil {
			return fmt.Errorf("flag vulnerability reads: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(changed), nil
}

// CreateRepresentationInformation records why each vulnerability was
// flagged no longer detected. Re-runs are no-ops per (vulnerability,
// pipeline).
func (s *PrimaryStore) CreateRepresentationInformation(ctx context.Context, projectID shared.ID, pipelineID shared.ID, ids []shared.ID) error {
	query := `
		INSERT INTO representation_information (id, project_id, pipeline_id, vulnerability_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (vulnerability_id, pipeline_id) DO NOTHING`

	for _, id := range ids {
		var pipeline any
		if !pipelineID.IsZero() {
			pipeline = pipelineID.String()
		}
		if _, err := s.db.ExecContext(ctx, query, shared.NewID(), projectID, pipeline, id); err != nil {
			return fmt.Errorf("create representation information for %s: %w", id, err)
		}
	}
	return nil
}

// VulnerabilitiesForIndexing keeps the ids still present on the default
// branch; everything else is skipped by the search index sync.
func (s *PrimaryStore) VulnerabilitiesForIndexing(ctx context.Context, ids []shared.ID) ([]shared.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id
		FROM vulnerabilities
		WHERE id = ANY($1) AND present_on_default_branch = TRUE
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, idArray(ids))
	if err != nil {
		return nil, fmt.Errorf("query indexable vulnerabilities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanIDs(rows)
}

// primaryTx implements the transaction-scoped write surface.
type primaryTx struct {
	tx *sql.Tx
}

var _ ingestion.PrimaryTx = (*primaryTx)(nil)

// UpsertIdentifiers find-or-creates identifiers by (project, fingerprint).
// Rows are written in fingerprint order to keep lock acquisition
// deterministic across concurrent slices.
func (t *primaryTx) UpsertIdentifiers(ctx context.Context, identifiers []*vulnerability.Identifier) (map[string]shared.ID, error) {
	sorted := make([]*vulnerability.Identifier, len(identifiers))
	copy(sorted, identifiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Fingerprint() < sorted[j].Fingerprint() })

	query := `
		INSERT INTO identifiers (id, project_id, fingerprint, external_type, external_id, name, url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (project_id, fingerprint) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url
		RETURNING id`

	ids := make(map[string]shared.ID, len(sorted))
	for _, identifier := range sorted {
		var id shared.ID
		err := t.tx.QueryRowContext(ctx, query,
			identifier.ID, identifier.ProjectID, identifier.Fingerprint(),
			identifier.ExternalType, identifier.ExternalID,
			identifier.Name, nullString(identifier.URL),
		).Scan(&id)
		if err != nil {
			return nil, wrapConstraint(err, "upsert identifier")
		}
		ids[identifier.Fingerprint()] = id
	}
	return ids, nil
}

// UpsertFindings find-or-creates finding rows keyed by (project, uuid).
// xmax = 0 distinguishes freshly inserted rows from updated ones.
func (t *primaryTx) UpsertFindings(ctx context.Context, findings []*vulnerability.Finding) (map[string]ingestion.FindingRef, error) {
	query := `
		INSERT INTO findings (
			id, project_id, scanner_id, uuid, name, description, solution,
			severity, report_type, location_fingerprint, location, raw_metadata,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (project_id, uuid) DO UPDATE SET
			scanner_id = EXCLUDED.scanner_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			solution = EXCLUDED.solution,
			severity = EXCLUDED.severity,
			location_fingerprint = EXCLUDED.location_fingerprint,
			location = EXCLUDED.location,
			raw_metadata = EXCLUDED.raw_metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS new_record`

	refs := make(map[string]ingestion.FindingRef, len(findings))
	for _, f := range findings {
		location, err := toJSONB(f.Location)
		if err != nil {
			return nil, fmt.Errorf("marshal location for %s: %w", f.UUID, err)
		}
		metadata, err := toJSONB(f.RawMetadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata for %s: %w", f.UUID, err)
		}

		var ref ingestion.FindingRef
		err = t.tx.QueryRowContext(ctx, query,
			f.ID, f.ProjectID, f.ScannerID, f.UUID,
			f.Name, nullString(f.Description), nullString(f.Solution),
			f.Severity, string(f.ReportType), f.LocationFingerprint,
			nullBytes(location), nullBytes(metadata), time.Now().UTC(),
		).Scan(&ref.ID, &ref.New)
		if err != nil {
			return nil, wrapConstraint(err, "upsert finding")
		}
		refs[f.UUID] = ref
	}
	return refs, nil
}

// UpsertVulnerabilities find-or-creates vulnerabilities keyed by their
// finding. Existing rows keep their state; only detection metadata
// refreshes.
func (t *primaryTx) UpsertVulnerabilities(ctx context.Context, vulns []*vulnerability.Vulnerability) (map[shared.ID]ingestion.VulnerabilityRef, error) {
	query := `
		INSERT INTO vulnerabilities (
			id, project_id, finding_id, title, severity, report_type, state,
			present_on_default_branch, resolved_on_default_branch,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (finding_id) DO UPDATE SET
			title = EXCLUDED.title,
			severity = EXCLUDED.severity,
			updated_at = EXCLUDED.updated_at
		RETURNING id, state, (xmax = 0) AS new_record`

	refs := make(map[shared.ID]ingestion.VulnerabilityRef, len(vulns))
	for _, v := range vulns {
		var ref ingestion.VulnerabilityRef
		var state string
		err := t.tx.QueryRowContext(ctx, query,
			v.ID, v.ProjectID, v.FindingID, v.Title, v.Severity,
			string(v.ReportType), string(v.State),
			v.PresentOnDefaultBranch, v.ResolvedOnDefaultBranch,
			time.Now().UTC(),
		).Scan(&ref.ID, &state, &ref.New)
		if err != nil {
			return nil, wrapConstraint(err, "upsert vulnerability")
		}
		ref.State = vulnerability.State(state)
		refs[v.FindingID] = ref
	}
	return refs, nil
}

// MarkDetectedAgain transitions resolved vulnerabilities back to detected.
func (t *primaryTx) MarkDetectedAgain(ctx context.Context, ids []shared.ID) ([]shared.ID, error) {
	query := `
		UPDATE vulnerabilities
		SET state = 'detected',
			present_on_default_branch = TRUE,
			resolved_on_default_branch = FALSE,
			updated_at = NOW()
		WHERE id = ANY($1) AND state = 'resolved'
		RETURNING id`

	rows, err := t.tx.QueryContext(ctx, query, idArray(ids))
	if err != nil {
		return nil, fmt.Errorf("mark detected again: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanIDs(rows)
}

// LinkFindingsToVulnerabilities backfills the link in both directions.
func (t *primaryTx) LinkFindingsToVulnerabilities(ctx context.Context, links map[shared.ID]shared.ID) error {
	findingIDs := make([]shared.ID, 0, len(links))
	for findingID := range links {
		findingIDs = append(findingIDs, findingID)
	}
	sort.Slice(findingIDs, func(i, j int) bool { return findingIDs[i].Compare(findingIDs[j]) < 0 })

	for _, findingID := range findingIDs {
		vulnerabilityID := links[findingID]
		if _, err := t.tx.ExecContext(ctx, `
			UPDATE findings SET vulnerability_id = $2 WHERE id = $1 AND (vulnerability_id IS NULL OR vulnerability_id <> $2)`,
			findingID, vulnerabilityID,
		); err != nil {
			return fmt.Errorf("link finding %s: %w", findingID, err)
		}
		if _, err := t.tx.ExecContext(ctx, `
			UPDATE vulnerabilities SET finding_id = $1 WHERE id = $2 AND finding_id IS NULL`,
			findingID, vulnerabilityID,
		); err != nil {
			return fmt.Errorf("backfill vulnerability %s: %w", vulnerabilityID, err)
		}
	}
	return nil
}

// ReplaceFindingIdentifiers rewrites the finding/identifier join rows.
func (t *primaryTx) ReplaceFindingIdentifiers(ctx context.Context, findingID shared.ID, identifierIDs []shared.ID) error {
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM finding_identifiers
		WHERE finding_id = $1 AND NOT (identifier_id = ANY($2))`,
		findingID, idArray(identifierIDs),
	); err != nil {
		return fmt.Errorf("prune finding identifiers: %w", err)
	}

	for _, identifierID := range identifierIDs {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO finding_identifiers (finding_id, identifier_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			findingID, identifierID,
		); err != nil {
			return fmt.Errorf("attach identifier %s: %w", identifierID, err)
		}
	}
	return nil
}

func (t *primaryTx) UpsertFindingLinks(ctx context.Context, findingID shared.ID, links []*vulnerability.FindingLink) error {
	query := `
		INSERT INTO finding_links (id, finding_id, name, url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (finding_id, url) DO UPDATE SET name = EXCLUDED.name`

	for _, link := range links {
		if _, err := t.tx.ExecContext(ctx, query, link.ID, findingID, nullString(link.Name), link.URL); err != nil {
			return wrapConstraint(err, "upsert finding link")
		}
	}
	return nil
}

func (t *primaryTx) UpsertFindingSignatures(ctx context.Context, findingID shared.ID, signatures []*vulnerability.FindingSignature) error {
	query := `
		INSERT INTO finding_signatures (id, finding_id, algorithm, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (finding_id, algorithm) DO UPDATE SET value = EXCLUDED.value`

	for _, sig := range signatures {
		if _, err := t.tx.ExecContext(ctx, query, sig.ID, findingID, sig.Algorithm, sig.Value); err != nil {
			return wrapConstraint(err, "upsert finding signature")
		}
	}
	return nil
}

func (t *primaryTx) UpsertFindingEvidence(ctx context.Context, findingID shared.ID, evidence *vulnerability.FindingEvidence) error {
	data, err := toJSONB(evidence.Data)
	if err != nil {
		return fmt.Errorf("marshal evidence data: %w", err)
	}

	query := `
		INSERT INTO finding_evidence (id, finding_id, summary, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (finding_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			data = EXCLUDED.data`

	if _, err := t.tx.ExecContext(ctx, query, evidence.ID, findingID, nullString(evidence.Summary), nullBytes(data)); err != nil {
		return wrapConstraint(err, "upsert finding evidence")
	}
	return nil
}

func (t *primaryTx) UpsertFindingFlags(ctx context.Context, findingID shared.ID, flags []*vulnerability.FindingFlag) error {
	query := `
		INSERT INTO finding_flags (id, finding_id, flag_type, origin, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (finding_id, flag_type, origin) DO UPDATE SET description = EXCLUDED.description`

	for _, flag := range flags {
		if _, err := t.tx.ExecContext(ctx, query, flag.ID, findingID, flag.Type, flag.Origin, nullString(flag.Description)); err != nil {
			return wrapConstraint(err, "upsert finding flag")
		}
	}
	return nil
}

// UpsertRemediations find-or-creates remediations by checksum and
// associates them with the given findings.
func (t *primaryTx) UpsertRemediations(ctx context.Context, projectID shared.ID, remediations []*vulnerability.Remediation, findingIDs []shared.ID) error {
	upsert := `
		INSERT INTO remediations (id, project_id, checksum, summary, diff)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, checksum) DO UPDATE SET summary = EXCLUDED.summary
		RETURNING id`

	for _, remediation := range remediations {
		var remediationID shared.ID
		err := t.tx.QueryRowContext(ctx, upsert,
			remediation.ID, projectID, remediation.Checksum,
			nullString(remediation.Summary), remediation.Diff,
		).Scan(&remediationID)
		if err != nil {
			return wrapConstraint(err, "upsert remediation")
		}

		for _, findingID := range findingIDs {
			if _, err := t.tx.ExecContext(ctx, `
				INSERT INTO finding_remediations (finding_id, remediation_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING`,
				findingID, remediationID,
			); err != nil {
				return fmt.Errorf("attach remediation %s: %w", remediationID, err)
			}
		}
	}
	return nil
}

// UpsertVulnerabilityReads refreshes the denormalized read model.
func (t *primaryTx) UpsertVulnerabilityReads(ctx context.Context, reads []*vulnerability.Read) error {
	query := `
		INSERT INTO vulnerability_reads (
			vulnerability_id, project_id, scanner_external_id, report_type,
			severity, state, resolved_on_default_branch,
			requires_manual_resolution, archived, traversal_ids
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (vulnerability_id) DO UPDATE SET
			scanner_external_id = EXCLUDED.scanner_external_id,
			severity = EXCLUDED.severity,
			state = EXCLUDED.state,
			resolved_on_default_branch = EXCLUDED.resolved_on_default_branch,
			archived = EXCLUDED.archived,
			traversal_ids = EXCLUDED.traversal_ids`

	for _, r := range reads {
		if _, err := t.tx.ExecContext(ctx, query,
			r.VulnerabilityID, r.ProjectID, r.ScannerExternalID,
			string(r.ReportType), r.Severity, string(r.State),
			r.ResolvedOnDefaultBranch, r.RequiresManualResolution,
			r.Archived, pq.Array(r.TraversalIDs),
		); err != nil {
			return wrapConstraint(err, "upsert vulnerability read")
		}
	}
	return nil
}

// IncrementVulnerabilityStatistics applies a relative delta to the project
// counters.
func (t *primaryTx) IncrementVulnerabilityStatistics(ctx context.Context, projectID shared.ID, delta *vulnerability.StatisticDelta) error {
	query := `
		INSERT INTO vulnerability_statistics (project_id, total, critical, high, medium, low, info, unknown, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (project_id) DO UPDATE SET
			total = vulnerability_statistics.total + EXCLUDED.total,
			critical = vulnerability_statistics.critical + EXCLUDED.critical,
			high = vulnerability_statistics.high + EXCLUDED.high,
			medium = vulnerability_statistics.medium + EXCLUDED.medium,
			low = vulnerability_statistics.low + EXCLUDED.low,
			info = vulnerability_statistics.info + EXCLUDED.info,
			unknown = vulnerability_statistics.unknown + EXCLUDED.unknown,
			updated_at = NOW()`

	if _, err := t.tx.ExecContext(ctx, query,
		projectID, delta.Total, delta.Critical, delta.High,
		delta.Medium, delta.Low, delta.Info, delta.Unknown,
	); err != nil {
		return fmt.Errorf("increment vulnerability statistics: %w", err)
	}
	return nil
}

// IncrementNamespaceStatistics rolls the delta up to the root namespace.
func (t *primaryTx) IncrementNamespaceStatistics(ctx context.Context, namespaceID shared.ID, delta *vulnerability.StatisticDelta) error {
	query := `
		INSERT INTO namespace_statistics (namespace_id, total, critical, high, medium, low, info, unknown, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (namespace_id) DO UPDATE SET
			total = namespace_statistics.total + EXCLUDED.total,
			critical = namespace_statistics.critical + EXCLUDED.critical,
			high = namespace_statistics.high + EXCLUDED.high,
			medium = namespace_statistics.medium + EXCLUDED.medium,
			low = namespace_statistics.low + EXCLUDED.low,
			info = namespace_statistics.info + EXCLUDED.info,
			unknown = namespace_statistics.unknown + EXCLUDED.unknown,
			updated_at = NOW()`

	if _, err := t.tx.ExecContext(ctx, query,
		namespaceID, delta.Total, delta.Critical, delta.High,
		delta.Medium, delta.Low, delta.Info, delta.Unknown,
	); err != nil {
		return fmt.Errorf("increment namespace statistics: %w", err)
	}
	return nil
}

// UpsertScanner find-or-creates a scanner row by external id.
func (t *primaryTx) UpsertScanner(ctx context.Context, projectID shared.ID, scanner *report.Scanner) (shared.ID, error) {
	query := `
		INSERT INTO scanners (id, project_id, external_id, name, vendor)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			vendor = EXCLUDED.vendor
		RETURNING id`

	id := scanner.ID
	if id.IsZero() {
		id = shared.NewID()
	}

	var scannerID shared.ID
	err := t.tx.QueryRowContext(ctx, query, id, projectID, scanner.ExternalID, scanner.Name, nullString(scanner.Vendor)).Scan(&scannerID)
	if err != nil {
		return shared.ID{}, wrapConstraint(err, "upsert scanner")
	}
	return scannerID, nil
}

// wrapConstraint maps unique violations to the already-exists domain error
// so the orchestrator can apply its race semantics.
func wrapConstraint(err error, op string) error {
	if isUniqueViolation(err) {
		return shared.NewDomainError("ALREADY_EXISTS", op+" hit a unique constraint", shared.ErrAlreadyExists)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// idArray converts ids for ANY($n) parameters.
func idArray(ids []shared.ID) any {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return pq.Array(out)
}

func scanIDs(rows *sql.Rows) ([]shared.ID, error) {
	var ids []shared.ID
	for rows.Next() {
		var id shared.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return ids, nil
}

// ResolveDroppedByIdentifiers resolves dismissed-as-dropped vulnerabilities
// whose primary identifier is no longer reported for the report type.
// Invoked by the dropped-resolution background job.
func (s *PrimaryStore) ResolveDroppedByIdentifiers(ctx context.Context, projectID shared.ID, reportType report.Type, presentIdentifiers []string) (int, error) {
	query := `
		UPDATE vulnerabilities v
		SET state = 'resolved', resolved_on_default_branch = TRUE, updated_at = NOW()
		WHERE v.project_id = $1
		  AND v.report_type = $2
		  AND v.state = 'detected'
		  AND v.resolved_on_default_branch = TRUE
		  AND NOT EXISTS (
			SELECT 1
			FROM findings f
			JOIN finding_identifiers fi ON fi.finding_id = f.id
			JOIN identifiers i ON i.id = fi.identifier_id
			WHERE f.vulnerability_id = v.id AND i.external_id = ANY($3)
		  )`

	res, err := s.db.ExecContext(ctx, query, projectID, string(reportType), pq.Array(presentIdentifiers))
	if err != nil {
		return 0, fmt.Errorf("resolve dropped vulnerabilities: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RepairVulnerabilityReads re-syncs the denormalized project attributes on
// the read model after they drifted during ingestion.
func (s *PrimaryStore) RepairVulnerabilityReads(ctx context.Context, projectID shared.ID) (int, error) {
	query := `
		UPDATE vulnerability_reads vr
		SET archived = p.archived, traversal_ids = p.traversal_ids
		FROM projects p
		WHERE vr.project_id = p.id
		  AND p.id = $1
		  AND (vr.archived <> p.archived OR vr.traversal_ids <> p.traversal_ids)`

	res, err := s.db.ExecContext(ctx, query, projectID)
	if err != nil {
		return 0, fmt.Errorf("repair vulnerability reads: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Pipeline loads one pipeline by id.
func (s *PrimaryStore) Pipeline(ctx context.Context, pipelineID shared.ID) (*report.Pipeline, error) {
	query := `
		SELECT id, project_id, COALESCE(root_ancestor_id, id), ref, created_at
		FROM pipelines
		WHERE id = $1`

	pipeline := &report.Pipeline{}
	err := s.db.QueryRowContext(ctx, query, pipelineID).Scan(
		&pipeline.ID, &pipeline.ProjectID, &pipeline.RootAncestorID, &pipeline.Ref, &pipeline.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, shared.NewDomainError("NOT_FOUND", fmt.Sprintf("pipeline %s not found", pipelineID), shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query pipeline: %w", err)
	}
	return pipeline, nil
}
