package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

// ScanSource reads the parsed scans the report-parsing subsystem persisted
// for a pipeline family. Raw and parsed findings are stored as JSONB
// payloads by the parsing layer; this side only decodes them.
type ScanSource struct {
	db *DB
}

// NewScanSource creates the scan source on the primary database.
func NewScanSource(db *DB) *ScanSource {
	return &ScanSource{db: db}
}

var (
	_ ingestion.ScanSource       = (*ScanSource)(nil)
	_ ingestion.ContinuousSource = (*ScanSource)(nil)
)

// LatestSucceededScans returns the latest successful scan per (scanner,
// report type) across the pipeline and its descendants, excluding scans
// with parse errors.
func (s *ScanSource) LatestSucceededScans(ctx context.Context, pipeline *report.Pipeline) ([]*report.Scan, error) {
	query := `
		SELECT DISTINCT ON (sc.scanner_external_id, sc.report_type)
			sc.id, sc.pipeline_id, sc.project_id, sc.report_type,
			sc.scanner_external_id, sc.scanner_name, sc.scanner_vendor,
			sc.raw_findings, sc.report_findings
		FROM scans sc
		JOIN pipelines p ON p.id = sc.pipeline_id
		WHERE (p.id = $1 OR p.root_ancestor_id = $1)
		  AND sc.status = 'succeeded'
		  AND sc.has_errors = FALSE
		ORDER BY sc.scanner_external_id, sc.report_type, sc.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, pipeline.ID)
	if err != nil {
		return nil, fmt.Errorf("query pipeline scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scans []*report.Scan
	for rows.Next() {
		scan := &report.Scan{}
		scanner := &report.Scanner{}
		var reportType string
		var rawFindings, reportFindings []byte

		if err := rows.Scan(
			&scan.ID, &scan.PipelineID, &scan.ProjectID, &reportType,
			&scanner.ExternalID, &scanner.Name, &scanner.Vendor,
			&rawFindings, &reportFindings,
		); err != nil {
			return nil, fmt.Errorf("scan pipeline scan row: %w", err)
		}

		scan.Type = report.Type(reportType)
		if scanner.ExternalID != "" {
			scan.Scanner = scanner
		}

		if err := fromJSONB(rawFindings, &scan.Findings); err != nil {
			return nil, fmt.Errorf("decode raw findings for scan %s: %w", scan.ID, err)
		}
		if err := fromJSONB(reportFindings, &scan.ReportFindings); err != nil {
			return nil, fmt.Errorf("decode report findings for scan %s: %w", scan.ID, err)
		}

		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline scans: %w", err)
	}
	return scans, nil
}

// LatestContinuousScan returns the newest SBOM-derived scan for a project,
// or nil when the project has no SBOM data.
func (s *ScanSource) LatestContinuousScan(ctx context.Context, projectID shared.ID) (*report.Scan, error) {
	query := `
		SELECT id, project_id, report_type, raw_findings, report_findings
		FROM continuous_scans
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	scan := &report.Scan{}
	var reportType string
	var rawFindings, reportFindings []byte

	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&scan.ID, &scan.ProjectID, &reportType, &rawFindings, &reportFindings,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query continuous scan: %w", err)
	}

	scan.Type = report.Type(reportType)
	if err := fromJSONB(rawFindings, &scan.Findings); err != nil {
		return nil, fmt.Errorf("decode continuous raw findings: %w", err)
	}
	if err := fromJSONB(reportFindings, &scan.ReportFindings); err != nil {
		return nil, fmt.Errorf("decode continuous report findings: %w", err)
	}
	return scan, nil
}

// ProjectsWithContinuousScans lists the projects the continuous-scan
// scheduler should visit.
func (s *ScanSource) ProjectsWithContinuousScans(ctx context.Context) ([]shared.ID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT project_id FROM continuous_scans ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("query continuous scan projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanIDs(rows)
}
