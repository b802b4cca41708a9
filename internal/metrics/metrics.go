// Package metrics defines the Prometheus instrumentation surface.
// All collectors are registered on the default registry via promauto and
// exposed by the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simplechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simplechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simplechat_rate_limit_hits_total",
			Help: "Total requests rejected by the rate limiter",
		},
	)

	// Business metrics
	ChatTurnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simplechat_chat_turns_total",
			Help: "Total chat turns processed",
		},
	)

	SearchQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simplechat_search_queries_total",
			Help: "Total search queries",
		},
	)

	PIIFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simplechat_pii_findings_total",
			Help: "Total PII findings by kind",
		},
		[]string{"kind"},
	)

	// Control Center activity gauges, refreshed on snapshot recompute
	ActivityUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simplechat_activity_users",
			Help: "Total directory users",
		},
	)

	ActivityGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simplechat_activity_groups",
			Help: "Total groups",
		},
	)

	ActivityConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simplechat_activity_conversations",
			Help: "Total conversations",
		},
	)

	ActivityMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simplechat_activity_messages",
			Help: "Total messages",
		},
	)

	ActivityDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simplechat_activity_documents",
			Help: "Total documents",
		},
	)

	ActivityStorageBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "simplechat_activity_storage_bytes",
			Help: "Estimated document storage bytes by workspace scope",
		},
		[]string{"scope"},
	)

	SnapshotRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simplechat_activity_snapshot_refreshes_total",
			Help: "Activity snapshot recomputations by outcome",
		},
		[]string{"outcome"}, // "ok" or "error"
	)
)
