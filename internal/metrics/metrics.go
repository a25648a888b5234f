// Package metrics provides Prometheus metrics for the card pricing backend.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tcg_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Price tracker API Metrics
	PriceTrackerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_price_tracker_requests_total",
			Help: "Price tracker API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"}, // outcome: "ok", "not_found", "upstream_error", "transport_error", "rate_limited"
	)

	PriceTrackerLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcg_price_tracker_latency_seconds",
			Help:    "Price tracker API call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	PriceTrackerQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcg_price_tracker_quota_remaining",
			Help: "Remaining price tracker API requests for today (UTC)",
		},
	)

	PriceTrackerQuotaLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcg_price_tracker_quota_limit",
			Help: "Daily price tracker API request limit",
		},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_cache_hits_total",
			Help: "Cache hit count by store",
		},
		[]string{"store"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_cache_misses_total",
			Help: "Cache miss count by store",
		},
		[]string{"store"},
	)

	// Price history Metrics
	PriceHistoryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_price_history_requests_total",
			Help: "Price history charts served, by the source that produced them",
		},
		[]string{"source"}, // "hybrid", "archive-history", "scrape", "synthetic", "empty", "panic"
	)

	PriceHistoryPoints = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcg_price_history_points",
			Help:    "Number of labels in a served price history chart",
			Buckets: []float64{0, 1, 7, 24, 30, 60, 180, 365, 1000},
		},
	)

	ArchiveFetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_archive_fetch_errors_total",
			Help: "Archive price lookups that failed and degraded to empty",
		},
		[]string{"source"}, // "http", "store"
	)

	// Archive sync Metrics
	ArchiveSyncRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcg_archive_sync_rows_total",
			Help: "Total archive price rows upserted by the sync worker",
		},
	)

	ArchiveSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcg_archive_sync_duration_seconds",
			Help:    "Time taken by one archive sync run",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	ArchiveSyncFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcg_archive_sync_failures_total",
			Help: "Archive sync group fetches that failed",
		},
	)

	ArchiveSyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcg_archive_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last archive sync run without failures",
		},
	)

	// Card catalog Metrics
	CardCatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcg_card_catalog_size",
			Help: "Number of cards in the local catalog",
		},
	)

	CardResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_card_resolutions_total",
			Help: "Product id resolutions by outcome",
		},
		[]string{"outcome"}, // "product_id", "catalog", "search", "ambiguous", "unresolved"
	)
)
