package ingestion

import (
	"iter"
	"sort"

	"github.com/openctemio/ingest/pkg/domain/report"
)

// FindingMapCollection produces the deduplicated, deterministically ordered
// sequence of finding maps for one scan.
//
// The order is a strict function of (overridden_uuid presence, uuid):
// findings carrying an overridden UUID come first, then UUID ascending.
// Overridden findings must be processed before their targets, and the
// stable global order keeps lock acquisition consistent when concurrent
// pipelines ingest overlapping UUID sets, which is what prevents
// transactional deadlocks.
type FindingMapCollection struct {
	pipeline *report.Pipeline
	scan     *report.Scan
	maps     []*FindingMap
}

// NewFindingMapCollection builds the collection for a scan. The pipeline is
// nil in continuous-vulnerability-scan mode.
func NewFindingMapCollection(pipeline *report.Pipeline, scan *report.Scan) *FindingMapCollection {
	c := &FindingMapCollection{pipeline: pipeline, scan: scan}
	c.maps = c.build()
	return c
}

func (c *FindingMapCollection) build() []*FindingMap {
	eligible := make([]*report.Finding, 0, len(c.scan.Findings))
	for _, f := range c.scan.Findings {
		// The synthetic SBOM scanner's raw findings never enter a regular
		// report slice. Continuous-scan slices (nil pipeline) are that
		// scanner's own ingestion path.
		if c.pipeline != nil && f.ScannerExternalID == report.ContinuousScannerExternalID {
			continue
		}
		// The scanner-level dedup verdict is computed upstream.
		if !f.Deduplicated {
			continue
		}
		eligible = append(eligible, f)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		aOverridden := a.OverriddenUUID != ""
		bOverridden := b.OverriddenUUID != ""
		if aOverridden != bOverridden {
			return aOverridden
		}
		return a.UUID < b.UUID
	})

	maps := make([]*FindingMap, 0, len(eligible))
	for _, f := range eligible {
		// Findings with no parsed report counterpart are still emitted;
		// the report side of the map stays nil.
		maps = append(maps, NewFindingMap(c.pipeline, c.scan, f))
	}
	return maps
}

// Len returns the number of finding maps in the collection.
func (c *FindingMapCollection) Len() int {
	return len(c.maps)
}

// Maps returns the ordered finding maps.
func (c *FindingMapCollection) Maps() []*FindingMap {
	return c.maps
}

// All iterates the finding maps in their deterministic order.
func (c *FindingMapCollection) All() iter.Seq[*FindingMap] {
	return func(yield func(*FindingMap) bool) {
		for _, m := range c.maps {
			if !yield(m) {
				return
			}
		}
	}
}
