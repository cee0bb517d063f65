package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

type driverFixture struct {
	*orchestratorFixture
	scans    *fakeScanSource
	enqueuer *fakeEnqueuer
}

func newDriverFixture(scans ...*report.Scan) *driverFixture {
	return &driverFixture{
		orchestratorFixture: newOrchestratorFixture(),
		scans:               &fakeScanSource{scans: scans},
		enqueuer:            newFakeEnqueuer(),
	}
}

func (f *driverFixture) driver() *ReportsIngestionDriver {
	log := logger.NewNop()
	reconciler := NewResolutionReconciler(f.primary, &fakeResolver{}, f.recorder, log, 1000, 1000)
	return NewReportsIngestionDriver(f.primary, f.secondary, f.scans, f.reportOrchestrator(), reconciler, f.enqueuer, log)
}

func TestIngestPipeline_IngestsAllScans(t *testing.T) {
	f := newDriverFixture()
	f.scans.scans = []*report.Scan{
		f.sastScan(&report.Finding{UUID: "s-aa", Deduplicated: true, Severity: "high"}),
		f.sastScan(&report.Finding{UUID: "s-bb", Deduplicated: true, Severity: "low"}),
	}

	result, err := f.driver().IngestPipeline(context.Background(), f.pipeline)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SlicesIngested)
	assert.Equal(t, 0, result.SlicesSkipped)
	// Both scans ran the same scanner, so their ids merge into one entry.
	require.Contains(t, result.IngestedIDs, "semgrep")
	assert.Len(t, result.IngestedIDs["semgrep"], 2)

	require.NotNil(t, f.primary.latestPipeline)
	assert.Equal(t, f.pipeline.ID, f.primary.latestPipeline.ID)
}

func TestIngestPipeline_MergedReconciliation(t *testing.T) {
	f := newDriverFixture()
	f.scans.scans = []*report.Scan{
		f.sastScan(&report.Finding{UUID: "s-aa", Deduplicated: true, Severity: "high"}),
		f.sastScan(&report.Finding{UUID: "s-bb", Deduplicated: true, Severity: "low"}),
	}
	// A vulnerability from an older pipeline that neither scan reports now.
	stale := shared.NewID()
	f.primary.readModel[readModelKey("semgrep", report.TypeSAST)] = []shared.ID{stale}

	result, err := f.driver().IngestPipeline(context.Background(), f.pipeline)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Flagged)
	assert.Equal(t, []shared.ID{stale}, f.primary.flaggedResolved)
}

func TestIngestPipeline_SkipsScanWithoutScanner(t *testing.T) {
	f := newDriverFixture()
	broken := f.sastScan(&report.Finding{UUID: "s-aa", Deduplicated: true, Severity: "high"})
	broken.Scanner = nil
	f.scans.scans = []*report.Scan{
		broken,
		f.sastScan(&report.Finding{UUID: "s-bb", Deduplicated: true, Severity: "low"}),
	}

	result, err := f.driver().IngestPipeline(context.Background(), f.pipeline)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SlicesIngested)
	assert.Equal(t, 1, result.SlicesSkipped)
	assert.Len(t, result.IngestedIDs["semgrep"], 1)
}

func TestIngestPipeline_ArchivedProject(t *testing.T) {
	f := newDriverFixture()
	f.project.Archived = true

	result, err := f.driver().IngestPipeline(context.Background(), f.pipeline)
	require.NoError(t, err)

	assert.Equal(t, 0, result.SlicesIngested)
	assert.Equal(t, 0, f.primary.txCount)
	assert.Nil(t, f.primary.latestPipeline)
}

func TestIngestPipeline_FollowUpJobs(t *testing.T) {
	t.Run("sbom sources trigger sbom ingestion", func(t *testing.T) {
		f := newDriverFixture()
		scan := f.sastScan(&report.Finding{UUID: "d-aa", Deduplicated: true, Severity: "high"})
		scan.Type = report.TypeDependencyScanning
		scan.Scanner = &report.Scanner{ExternalID: "gemnasium", Name: "Gemnasium", Vendor: "acme"}
		f.scans.scans = []*report.Scan{scan}

		_, err := f.driver().IngestPipeline(context.Background(), f.pipeline)
		require.NoError(t, err)
		assert.Equal(t, []shared.ID{f.project.ID}, f.enqueuer.sbom)
	})

	t.Run("sast alone does not", func(t *testing.T) {
		f := newDriverFixture()
		f.scans.scans = []*report.Scan{f.sastScan(&report.Finding{UUID: "s-aa", Deduplicated: true, Severity: "high"})}

		_, err := f.driver().IngestPipeline(context.Background(), f.pipeline)
		require.NoError(t, err)
		assert.Empty(t, f.enqueuer.sbom)
	})

	t.Run("dropped resolution carries the primary identifiers", func(t *testing.T) {
		f := newDriverFixture()
		f.scans.scans = []*report.Scan{f.sastScan(&report.Finding{UUID: "s-aa", Deduplicated: true, Severity: "high"})}

		_, err := f.driver().IngestPipeline(context.Background(), f.pipeline)
		require.NoError(t, err)
		assert.Equal(t, []string{"CVE-2026-s-aa"}, f.enqueuer.dropped[report.TypeSAST])
	})

	t.Run("approval sync only for policy projects", func(t *testing.T) {
		f := newDriverFixture()
		f.scans.scans = []*report.Scan{f.sastScan(&report.Finding{UUID: "s-aa", Deduplicated: true, Severity: "high"})}

		_, err := f.driver().IngestPipeline(context.Background(), f.pipeline)
		require.NoError(t, err)
		assert.Equal(t, 0, f.enqueuer.approvals)

		f.secondary.usesPolicies = true
		_, err = f.driver().IngestPipeline(context.Background(), f.pipeline)
		require.NoError(t, err)
		assert.Equal(t, 1, f.enqueuer.approvals)
	})
}

func TestIngestPipeline_RepairsDriftedReads(t *testing.T) {
	f := newDriverFixture()
	f.scans.scans = []*report.Scan{f.sastScan(&report.Finding{UUID: "s-aa", Deduplicated: true, Severity: "high"})}

	drifted := &report.Project{
		ID:           f.project.ID,
		NamespaceID:  f.project.NamespaceID,
		TraversalIDs: []string{"9", "42", "77"},
	}
	f.primary.projectSeq = []*report.Project{f.project, drifted}

	_, err := f.driver().IngestPipeline(context.Background(), f.pipeline)
	require.NoError(t, err)
	assert.Equal(t, []shared.ID{f.project.ID}, f.enqueuer.readRepairs)
}

func TestContinuousScanService_IngestProject(t *testing.T) {
	t.Run("no sbom data is a no-op", func(t *testing.T) {
		f := newOrchestratorFixture()
		svc := NewContinuousScanService(f.primary, &fakeContinuousSource{}, f.continuousOrchestrator(), nil, logger.NewNop())

		result, err := svc.IngestProject(context.Background(), f.project.ID)
		require.NoError(t, err)
		assert.Equal(t, &Result{}, result)
		assert.Equal(t, 0, f.primary.txCount)
	})

	t.Run("ingests and reconciles the synthetic scanner", func(t *testing.T) {
		f := newOrchestratorFixture()
		scan := &report.Scan{
			ID:        shared.NewID(),
			ProjectID: f.project.ID,
			Type:      report.TypeDependencyScanning,
			Findings: []*report.Finding{
				{UUID: "c-aa", ScannerExternalID: report.ContinuousScannerExternalID, Deduplicated: true, Severity: "high"},
			},
			ReportFindings: map[string]*report.ReportFinding{},
		}
		stale := shared.NewID()
		f.primary.readModel[readModelKey(report.ContinuousScannerExternalID, report.TypeDependencyScanning)] = []shared.ID{stale}

		log := logger.NewNop()
		reconciler := NewResolutionReconciler(f.primary, &fakeResolver{}, f.recorder, log, 1000, 1000)
		svc := NewContinuousScanService(f.primary, &fakeContinuousSource{scan: scan}, f.continuousOrchestrator(), reconciler, log)

		result, err := svc.IngestProject(context.Background(), f.project.ID)
		require.NoError(t, err)
		assert.Len(t, result.VulnerabilityIDs, 1)
		assert.Equal(t, []shared.ID{stale}, f.primary.flaggedResolved)
	})

	t.Run("quota stop skips reconciliation", func(t *testing.T) {
		f := newOrchestratorFixture()
		f.quota.quota = &Quota{ProjectID: f.project.ID, Limit: 1, Used: 1, Enforced: true}
		scan := &report.Scan{
			ID:        shared.NewID(),
			ProjectID: f.project.ID,
			Type:      report.TypeDependencyScanning,
			Findings: []*report.Finding{
				{UUID: "c-aa", ScannerExternalID: report.ContinuousScannerExternalID, Deduplicated: true, Severity: "high"},
			},
			ReportFindings: map[string]*report.ReportFinding{},
		}
		stale := shared.NewID()
		f.primary.readModel[readModelKey(report.ContinuousScannerExternalID, report.TypeDependencyScanning)] = []shared.ID{stale}

		svc := NewContinuousScanService(f.primary, &fakeContinuousSource{scan: scan}, f.continuousOrchestrator(), nil, logger.NewNop())

		result, err := svc.IngestProject(context.Background(), f.project.ID)
		require.NoError(t, err)
		assert.True(t, result.QuotaExceeded)
		// Quota stops must never resolve existing vulnerabilities.
		assert.Empty(t, f.primary.flaggedResolved)
	})
}
