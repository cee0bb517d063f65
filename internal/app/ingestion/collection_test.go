package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

func TestFindingMapCollection_Ordering(t *testing.T) {
	pipeline := &report.Pipeline{ID: shared.NewID(), ProjectID: shared.NewID()}
	findings := []*report.Finding{
		{UUID: "cccc", Deduplicated: true},
		{UUID: "aaaa", Deduplicated: true},
		{UUID: "zzzz", OverriddenUUID: "old-z", Deduplicated: true},
		{UUID: "bbbb", OverriddenUUID: "old-b", Deduplicated: true},
	}
	collect := func(findings []*report.Finding) []string {
		c := NewFindingMapCollection(pipeline, &report.Scan{
			ProjectID: pipeline.ProjectID,
			Type:      report.TypeSAST,
			Findings:  findings,
		})
		require.Equal(t, 4, c.Len())
		var uuids []string
		for m := range c.All() {
			uuids = append(uuids, m.UUID())
		}
		return uuids
	}

	// Overridden findings first, then UUID ascending within each group.
	want := []string{"bbbb", "zzzz", "aaaa", "cccc"}
	assert.Equal(t, want, collect(findings))

	// The same findings in a different input order produce the same sequence.
	shuffled := []*report.Finding{findings[3], findings[1], findings[0], findings[2]}
	assert.Equal(t, want, collect(shuffled))
}

func TestFindingMapCollection_SkipsNonDeduplicated(t *testing.T) {
	scan := &report.Scan{
		Type: report.TypeSAST,
		Findings: []*report.Finding{
			{UUID: "keep", Deduplicated: true},
			{UUID: "drop", Deduplicated: false},
		},
	}

	c := NewFindingMapCollection(&report.Pipeline{}, scan)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, "keep", c.Maps()[0].UUID())
}

func TestFindingMapCollection_ContinuousScannerFindings(t *testing.T) {
	scan := &report.Scan{
		Type: report.TypeDependencyScanning,
		Findings: []*report.Finding{
			{UUID: "regular", ScannerExternalID: "gemnasium", Deduplicated: true},
			{UUID: "synthetic", ScannerExternalID: report.ContinuousScannerExternalID, Deduplicated: true},
		},
	}

	t.Run("report slices exclude the synthetic scanner", func(t *testing.T) {
		c := NewFindingMapCollection(&report.Pipeline{}, scan)
		require.Equal(t, 1, c.Len())
		assert.Equal(t, "regular", c.Maps()[0].UUID())
	})

	t.Run("continuous slices keep their own findings", func(t *testing.T) {
		c := NewFindingMapCollection(nil, scan)
		assert.Equal(t, 2, c.Len())
	})
}

func TestFindingMapCollection_JoinsReportFindings(t *testing.T) {
	scan := &report.Scan{
		Type: report.TypeSAST,
		Findings: []*report.Finding{
			{UUID: "new-uuid", OverriddenUUID: "old-uuid", Deduplicated: true},
			{UUID: "plain", Deduplicated: true},
			{UUID: "orphan", Deduplicated: true},
		},
		ReportFindings: map[string]*report.ReportFinding{
			// Overridden findings join on the UUID the report still carries.
			"old-uuid": {UUID: "old-uuid", Name: "SQL injection"},
			"plain":    {UUID: "plain", Name: "XSS"},
		},
	}

	c := NewFindingMapCollection(&report.Pipeline{}, scan)
	require.Equal(t, 3, c.Len())

	byUUID := make(map[string]*FindingMap)
	for _, m := range c.Maps() {
		byUUID[m.UUID()] = m
	}
	require.NotNil(t, byUUID["new-uuid"].Report)
	assert.Equal(t, "SQL injection", byUUID["new-uuid"].Report.Name)
	require.NotNil(t, byUUID["plain"].Report)
	// A missing parsed counterpart is recoverable, not an error.
	assert.Nil(t, byUUID["orphan"].Report)
}
