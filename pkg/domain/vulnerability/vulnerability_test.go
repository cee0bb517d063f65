package vulnerability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/ingest/pkg/domain/report"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

func TestNewVulnerability(t *testing.T) {
	projectID := shared.NewID()

	t.Run("from a named finding", func(t *testing.T) {
		f := &Finding{ID: shared.NewID(), UUID: "uuid-1", Name: "SQL injection", Severity: "high", ReportType: report.TypeSAST}
		v, err := NewVulnerability(projectID, f)
		require.NoError(t, err)
		assert.Equal(t, "SQL injection", v.Title)
		assert.Equal(t, StateDetected, v.State)
		assert.True(t, v.PresentOnDefaultBranch)
		assert.False(t, v.ResolvedOnDefaultBranch)
	})

	t.Run("falls back to the uuid as title", func(t *testing.T) {
		v, err := NewVulnerability(projectID, &Finding{UUID: "uuid-2"})
		require.NoError(t, err)
		assert.Equal(t, "uuid-2", v.Title)
	})

	t.Run("requires a finding", func(t *testing.T) {
		_, err := NewVulnerability(projectID, nil)
		assert.True(t, shared.IsValidation(err))
	})
}

func TestVulnerability_Lifecycle(t *testing.T) {
	newDetected := func() *Vulnerability {
		v, err := NewVulnerability(shared.NewID(), &Finding{UUID: "uuid"})
		require.NoError(t, err)
		return v
	}

	t.Run("no longer detected keeps the state", func(t *testing.T) {
		v := newDetected()
		v.MarkNoLongerDetected()
		assert.Equal(t, StateDetected, v.State)
		assert.True(t, v.ResolvedOnDefaultBranch)
	})

	t.Run("resolve then redetect", func(t *testing.T) {
		v := newDetected()
		require.NoError(t, v.Resolve())
		assert.Equal(t, StateResolved, v.State)
		assert.True(t, v.ResolvedOnDefaultBranch)

		require.NoError(t, v.MarkDetectedAgain())
		assert.Equal(t, StateDetected, v.State)
		assert.True(t, v.PresentOnDefaultBranch)
		assert.False(t, v.ResolvedOnDefaultBranch)
	})

	t.Run("only resolved rows can be redetected", func(t *testing.T) {
		v := newDetected()
		assert.Error(t, v.MarkDetectedAgain())
	})

	t.Run("dismissed is terminal", func(t *testing.T) {
		v := newDetected()
		v.State = StateDismissed
		assert.Error(t, v.Resolve())
		assert.False(t, v.Detectable())
	})
}

func TestNewFinding(t *testing.T) {
	projectID := shared.NewID()
	scannerID := shared.NewID()

	t.Run("raw record alone is enough", func(t *testing.T) {
		raw := &report.Finding{UUID: "uuid-1", Severity: "low", LocationFingerprint: "fp"}
		f, err := NewFinding(projectID, scannerID, report.TypeSAST, raw, nil)
		require.NoError(t, err)
		assert.Equal(t, "uuid-1", f.UUID)
		assert.Equal(t, "low", f.Severity)
		assert.Equal(t, "fp", f.LocationFingerprint)
	})

	t.Run("parsed metadata overrides severity", func(t *testing.T) {
		raw := &report.Finding{UUID: "uuid-1", Severity: "low"}
		parsed := &report.ReportFinding{Name: "XSS", Severity: "high", Location: report.Location{File: "app.go", StartLine: 3}}
		f, err := NewFinding(projectID, scannerID, report.TypeSAST, raw, parsed)
		require.NoError(t, err)
		assert.Equal(t, "XSS", f.Name)
		assert.Equal(t, "high", f.Severity)
		assert.Equal(t, "app.go", f.Location.File)
	})

	t.Run("rejects missing raw or uuid", func(t *testing.T) {
		_, err := NewFinding(projectID, scannerID, report.TypeSAST, nil, nil)
		assert.True(t, shared.IsValidation(err))
		_, err = NewFinding(projectID, scannerID, report.TypeSAST, &report.Finding{}, nil)
		assert.True(t, shared.IsValidation(err))
	})
}

func TestIdentifier(t *testing.T) {
	projectID := shared.NewID()

	t.Run("normalizes the external type", func(t *testing.T) {
		i, err := NewIdentifier(projectID, "CVE", "CVE-2026-1234", "CVE-2026-1234", "")
		require.NoError(t, err)
		assert.Equal(t, "cve", i.ExternalType)
	})

	t.Run("requires type and id", func(t *testing.T) {
		_, err := NewIdentifier(projectID, "", "CVE-2026-1234", "", "")
		assert.True(t, shared.IsValidation(err))
		_, err = NewIdentifier(projectID, "cve", "", "", "")
		assert.True(t, shared.IsValidation(err))
	})

	t.Run("fingerprint is stable per project and id", func(t *testing.T) {
		a, err := NewIdentifier(projectID, "CVE", "CVE-2026-1234", "a", "")
		require.NoError(t, err)
		b, err := NewIdentifier(projectID, "cve", "CVE-2026-1234", "b", "https://nvd.example")
		require.NoError(t, err)
		assert.Equal(t, a.Fingerprint(), b.Fingerprint())

		other, err := NewIdentifier(shared.NewID(), "cve", "CVE-2026-1234", "a", "")
		require.NoError(t, err)
		assert.NotEqual(t, a.Fingerprint(), other.Fingerprint())
	})
}

func TestStatisticDelta(t *testing.T) {
	var d StatisticDelta
	assert.True(t, d.Empty())

	for _, severity := range []string{"critical", "high", "high", "medium", "low", "info", "bogus"} {
		d.Add(severity)
	}
	assert.False(t, d.Empty())
	assert.Equal(t, 7, d.Total)
	assert.Equal(t, 1, d.Critical)
	assert.Equal(t, 2, d.High)
	assert.Equal(t, 1, d.Medium)
	assert.Equal(t, 1, d.Low)
	assert.Equal(t, 1, d.Info)
	assert.Equal(t, 1, d.Unknown)
}
