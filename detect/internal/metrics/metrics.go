package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Detection pass metrics
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_detect_passes_total",
			Help: "Total number of detection passes",
		},
		[]string{"trigger"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_detect_alerts_generated_total",
			Help: "Total number of alerts produced by each rule",
		},
		[]string{"rule"},
	)

	NewAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_detect_new_alerts_total",
			Help: "Total number of alerts stored for the first time",
		},
	)

	// Rule metrics
	RuleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_detect_rule_failures_total",
			Help: "Total number of rule evaluations that panicked",
		},
		[]string{"rule"},
	)

	RuleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telhawk_detect_rule_duration_seconds",
			Help:    "Duration of a single rule evaluation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"rule"},
	)

	// Event source metrics
	EventsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_detect_events_fetched_total",
			Help: "Total number of events fetched from the event source",
		},
		[]string{"mode"},
	)

	FallbackFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_detect_fallback_fetches_total",
			Help: "Total number of all-events fetches after an empty recent window",
		},
	)

	EventSourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_detect_event_source_errors_total",
			Help: "Total number of event source failures",
		},
		[]string{"mode"},
	)

	// Storage metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_detect_store_errors_total",
			Help: "Total number of alert store failures",
		},
		[]string{"operation"},
	)

	// Sync metrics
	EventsSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_detect_events_synced_total",
			Help: "Total number of events copied from Log Analytics into OpenSearch",
		},
	)

	SyncErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_detect_sync_errors_total",
			Help: "Total number of failed event sync runs",
		},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_detect_token_refreshes_total",
			Help: "Total number of access token refreshes",
		},
		[]string{"status"},
	)

	// Notification metrics
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_detect_notifications_total",
			Help: "Total number of alert notifications published",
		},
		[]string{"status"},
	)
)
