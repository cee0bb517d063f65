package ingestion

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/ingest/pkg/domain/audit"
	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

func sortedIDs(n int) []shared.ID {
	ids := make([]shared.ID, n)
	for i := range ids {
		ids[i] = shared.NewID()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids
}

func TestReconcile_FlagsMissingAcrossBatches(t *testing.T) {
	project := &report.Project{ID: shared.NewID()}
	pipeline := &report.Pipeline{ID: shared.NewID(), ProjectID: project.ID}
	primary := newFakePrimary(project)
	resolver := &fakeResolver{}
	recorder := &fakeRecorder{}

	known := sortedIDs(2500)
	primary.readModel[readModelKey("semgrep", report.TypeSAST)] = known
	ingested := known[:2000]
	missing := known[2000:]

	r := NewResolutionReconciler(primary, resolver, recorder, logger.NewNop(), 1000, 1000)
	result, err := r.Reconcile(context.Background(), project, pipeline, "semgrep", report.TypeSAST, ingested)
	require.NoError(t, err)

	assert.Equal(t, 500, result.Flagged)
	assert.Equal(t, 500, result.AutoResolved)
	assert.ElementsMatch(t, missing, primary.flaggedResolved)
	assert.Equal(t, 3, primary.readPages)

	// Each flagged vulnerability gets representation info and an audit row.
	require.Len(t, primary.representations, 1)
	assert.Len(t, primary.representations[0], 500)
	assert.Len(t, recorder.byType(audit.EventVulnerabilityNoLongerFound), 500)

	// The representation rows themselves are audited once per batch.
	repEvents := recorder.byType(audit.EventRepresentationInfoCreated)
	require.Len(t, repEvents, 1)
	assert.Equal(t, 500, repEvents[0].Details["count"])
	assert.Equal(t, pipeline.ID.String(), repEvents[0].Details["pipeline_id"])
	assert.Equal(t, "semgrep", repEvents[0].Details["scanner"])
}

func TestReconcile_AutoResolveBudget(t *testing.T) {
	project := &report.Project{ID: shared.NewID()}
	primary := newFakePrimary(project)
	resolver := &fakeResolver{}

	known := sortedIDs(1500)
	primary.readModel[readModelKey("semgrep", report.TypeSAST)] = known

	r := NewResolutionReconciler(primary, resolver, nil, logger.NewNop(), 2000, 1000)
	result, err := r.Reconcile(context.Background(), project, nil, "semgrep", report.TypeSAST, nil)
	require.NoError(t, err)

	// Flagging is unbounded; automatic closure stops at the budget.
	assert.Equal(t, 1500, result.Flagged)
	assert.Equal(t, 1000, result.AutoResolved)
	require.Len(t, resolver.resolved, 1)
	assert.Len(t, resolver.resolved[0], 1000)
}

func TestReconcile_SkipsUnresolvable(t *testing.T) {
	project := &report.Project{ID: shared.NewID()}
	primary := newFakePrimary(project)

	known := sortedIDs(3)
	primary.readModel[readModelKey("semgrep", report.TypeSAST)] = known
	primary.notResolvable[known[1]] = true

	r := NewResolutionReconciler(primary, nil, nil, logger.NewNop(), 100, 100)
	result, err := r.Reconcile(context.Background(), project, nil, "semgrep", report.TypeSAST, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Flagged)
	assert.Equal(t, 0, result.AutoResolved)
	assert.ElementsMatch(t, []shared.ID{known[0], known[2]}, primary.flaggedResolved)
}

func TestReconcile_IngestedStayDetected(t *testing.T) {
	project := &report.Project{ID: shared.NewID()}
	primary := newFakePrimary(project)

	known := sortedIDs(4)
	primary.readModel[readModelKey("trivy", report.TypeContainerScanning)] = known

	r := NewResolutionReconciler(primary, nil, nil, logger.NewNop(), 100, 100)
	result, err := r.Reconcile(context.Background(), project, nil, "trivy", report.TypeContainerScanning, known)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Flagged)
	assert.Empty(t, primary.flaggedResolved)
}

func TestReconcile_ClassicScannerSupersedesContinuous(t *testing.T) {
	project := &report.Project{ID: shared.NewID()}

	cases := []struct {
		name       string
		scanner    string
		reportType report.Type
		supersedes bool
	}{
		{"trivy container scanning", "trivy", report.TypeContainerScanning, true},
		{"gemnasium dependency scanning", "gemnasium", report.TypeDependencyScanning, true},
		{"gemnasium-maven dependency scanning", "gemnasium-maven", report.TypeDependencyScanning, true},
		{"semgrep sast", "semgrep", report.TypeSAST, false},
		{"trivy dependency scanning", "trivy", report.TypeDependencyScanning, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			primary := newFakePrimary(project)
			own := sortedIDs(2)
			synthetic := sortedIDs(3)
			primary.readModel[readModelKey(tc.scanner, tc.reportType)] = own
			primary.readModel[readModelKey(report.ContinuousScannerExternalID, tc.reportType)] = synthetic

			r := NewResolutionReconciler(primary, nil, nil, logger.NewNop(), 100, 100)
			result, err := r.Reconcile(context.Background(), project, nil, tc.scanner, tc.reportType, nil)
			require.NoError(t, err)

			if tc.supersedes {
				// The classic scanner also retires the synthetic scanner's rows.
				assert.Equal(t, 5, result.Flagged)
			} else {
				assert.Equal(t, 2, result.Flagged)
			}
		})
	}
}
