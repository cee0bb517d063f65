// Package metrics defines the service's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion metrics
var (
	// SlicesIngestedTotal tracks ingested slices by report type and outcome.
	SlicesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_slices_total",
			Help: "Total number of ingested report slices by report type and outcome",
		},
		[]string{"report_type", "outcome"},
	)

	// SliceDuration tracks slice ingestion duration.
	SliceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestion_slice_duration_seconds",
			Help:    "Report slice ingestion duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"report_type"},
	)

	// FindingsIngestedTotal tracks persisted findings by report type.
	FindingsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_findings_total",
			Help: "Total number of findings persisted by report type",
		},
		[]string{"report_type"},
	)

	// VulnerabilitiesCreatedTotal tracks newly created vulnerabilities.
	VulnerabilitiesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_vulnerabilities_created_total",
			Help: "Total number of vulnerabilities created by report type",
		},
		[]string{"report_type"},
	)

	// QuotaRejectionsTotal tracks slices soft-stopped by the project quota.
	QuotaRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestion_quota_rejections_total",
			Help: "Total number of report slices rejected by the project vulnerability quota",
		},
	)
)

// Resolution metrics
var (
	// VulnerabilitiesResolvedTotal tracks vulnerabilities flagged no longer detected.
	VulnerabilitiesResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolution_vulnerabilities_resolved_total",
			Help: "Total number of vulnerabilities marked resolved on the default branch",
		},
	)

	// VulnerabilitiesAutoResolvedTotal tracks budgeted automatic closures.
	VulnerabilitiesAutoResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolution_vulnerabilities_auto_resolved_total",
			Help: "Total number of vulnerabilities automatically resolved",
		},
	)

	// ReconciliationBatchesTotal tracks processed vulnerability-read batches.
	ReconciliationBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolution_batches_total",
			Help: "Total number of vulnerability-read batches diffed during reconciliation",
		},
	)
)

// External control metrics
var (
	// ControlDeliveriesTotal tracks outbound control webhook deliveries by result.
	ControlDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_webhook_deliveries_total",
			Help: "Total number of external control webhook deliveries by result",
		},
		[]string{"result"},
	)

	// ControlDeliveryDuration tracks webhook round-trip duration.
	ControlDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "control_webhook_delivery_duration_seconds",
			Help:    "External control webhook delivery duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Search index metrics
var (
	// SearchTrackTotal tracks vulnerabilities queued for index updates.
	SearchTrackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_index_tracked_total",
			Help: "Total number of vulnerabilities queued for search index updates",
		},
		[]string{"outcome"},
	)
)
