// Package report holds the parsed security report model consumed by the
// ingestion core. Pipelines and scans are produced by the CI subsystem and
// the report-parsing layer; they are read-only inputs here.
package report

import (
	"time"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

// Type identifies the kind of security report a scan produced.
type Type string

// Report types.
const (
	TypeSAST                  Type = "sast"
	TypeDependencyScanning    Type = "dependency_scanning"
	TypeContainerScanning     Type = "container_scanning"
	TypeSecretDetection       Type = "secret_detection"
	TypeContinuousVulnScan    Type = "continuous_vulnerability_scanning"
	TypeCoverageFuzzing       Type = "coverage_fuzzing"
	TypeAPIFuzzing            Type = "api_fuzzing"
	TypeClusterImageScanning  Type = "cluster_image_scanning"
	TypeDynamicApplicationSec Type = "dast"
)

// ContinuousScannerExternalID is the synthetic scanner that derives
// vulnerabilities from SBOM data rather than a dedicated scan job. Its raw
// findings are excluded from regular report slices.
const ContinuousScannerExternalID = "continuous-vulnerability-scanner"

// Scanner external id families whose classic scans supersede the synthetic
// continuous scanner for the same report type.
var (
	ContainerScanningExternalIDs  = []string{"trivy"}
	DependencyScanningExternalIDs = []string{"gemnasium", "gemnasium-maven", "gemnasium-python"}
)

// Scanner identifies the analyzer that produced a scan.
type Scanner struct {
	ID         shared.ID
	ExternalID string
	Name       string
	Vendor     string
}

// Project is the owning project of a pipeline, as seen by ingestion.
type Project struct {
	ID           shared.ID
	NamespaceID  shared.ID
	Archived     bool
	TraversalIDs []string
}

// Pipeline identifies one CI run. It owns zero or more scans.
type Pipeline struct {
	ID             shared.ID
	ProjectID      shared.ID
	RootAncestorID shared.ID
	Ref            string
	CreatedAt      time.Time
}

// Scan is one scanner execution result for one pipeline.
type Scan struct {
	ID         shared.ID
	PipelineID shared.ID
	ProjectID  shared.ID
	Type       Type
	Scanner    *Scanner
	HasErrors  bool

	// Findings are the raw, scanner-level records. ReportFindings carry the
	// parsed human-readable counterparts keyed by UUID.
	Findings       []*Finding
	ReportFindings map[string]*ReportFinding
}

// Finding is the raw record of one vulnerability occurrence. The scanner
// level dedup flag is computed upstream by the parsing layer.
type Finding struct {
	UUID              string
	OverriddenUUID    string
	ScannerExternalID string
	Severity          string
	Deduplicated      bool

	// LocationFingerprint is the natural key for the persisted finding row,
	// stable across pipelines for the same occurrence.
	LocationFingerprint string
}

// JoinUUID resolves the UUID used for joining against parsed report
// findings: the overridden UUID when present, the finding's own otherwise.
func (f *Finding) JoinUUID() string {
	if f.OverriddenUUID != "" {
		return f.OverriddenUUID
	}
	return f.UUID
}

// ReportFinding supplies the parsed, human-readable metadata for a raw
// finding. It may be absent when the report payload was malformed; ingestion
// treats that as recoverable.
type ReportFinding struct {
	UUID        string
	Name        string
	Description string
	Solution    string
	Severity    string

	Location     Location
	Identifiers  []Identifier
	Links        []Link
	Signatures   []Signature
	Evidence     *Evidence
	Remediations []Remediation
	Flags        []Flag

	RawMetadata map[string]any
}

// Location points at the place in the scanned artifact where the finding
// was observed.
type Location struct {
	File      string
	StartLine int
	EndLine   int
	Image     string
	Package   string
	Version   string
}

// Identifier is an external vulnerability identifier reported for a
// finding (CVE, CWE, scanner rule id).
type Identifier struct {
	ExternalType string
	ExternalID   string
	Name         string
	URL          string
}

// Link is a reference URL attached to a finding.
type Link struct {
	Name string
	URL  string
}

// Signature is a tracking signature used to re-identify a finding across
// code movement.
type Signature struct {
	Algorithm string
	Value     string
}

// Evidence is the request/response evidence captured for a finding.
type Evidence struct {
	Summary string
	Data    map[string]any
}

// Remediation is a patch-style fix suggested by the scanner.
type Remediation struct {
	Summary  string
	Checksum string
	Diff     string
}

// Flag marks a finding with scanner-provided analysis, e.g. a likely
// false positive.
type Flag struct {
	Type        string
	Origin      string
	Description string
}
