package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_processed_total",
			Help: "Total number of security events processed",
		},
		[]string{"type", "severity"},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_event_processing_duration_seconds",
			Help:    "Time taken to process a security event end to end",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ProcessingFallbacks counts events answered with the synthetic low-risk fallback
	ProcessingFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_processing_fallbacks_total",
			Help: "Total number of events that fell back to a synthetic low-risk result",
		},
	)

	RulesFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_rules_fired_total",
			Help: "Total number of threat rule firings",
		},
		[]string{"rule_id"},
	)

	AnomaliesTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_anomalies_triggered_total",
			Help: "Total number of anomaly detector triggers",
		},
	)

	ResponseActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_response_actions_total",
			Help: "Total number of automated response actions executed",
		},
		[]string{"action", "outcome"},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_incidents_created_total",
			Help: "Total number of security incidents opened",
		},
		[]string{"severity"},
	)

	EventCacheSubjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_event_cache_subjects",
			Help: "Number of subjects currently held in the event cache",
		},
	)

	RegexTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_regex_timeouts_total",
			Help: "Total number of regex match conditions that hit the match timeout",
		},
		[]string{"rule_id"},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity", "source"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by deduplication",
		},
	)

	DedupErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_dedup_errors_total",
			Help: "Total number of shared dedup index errors by operation",
		},
		[]string{"op"},
	)

	AlertDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alert_deliveries_total",
			Help: "Total number of alert delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	AlertDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_alert_delivery_duration_seconds",
			Help:    "Time taken by channel senders",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	AlertsAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_alerts_acknowledged_total",
			Help: "Total number of alerts acknowledged by operators",
		},
	)

	RetentionPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_retention_pruned_total",
			Help: "Total number of records removed by retention sweeps",
		},
		[]string{"kind"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_queue_size",
			Help: "Number of tasks waiting in a worker pool queue",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed by a worker pool",
		},
		[]string{"pool"},
	)

	GoroutinePanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_goroutine_panics_total",
			Help: "Total number of recovered goroutine panics",
		},
		[]string{"goroutine"},
	)

	// BusInlineDeliveries counts processed events delivered on the ingest goroutine because the bus queue was full
	BusInlineDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_bus_inline_deliveries_total",
			Help: "Total number of events delivered inline because the event bus queue was full",
		},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "method", "code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	APIRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_api_rate_limited_total",
			Help: "Total number of API requests rejected by the per-client rate limiter",
		},
	)
)
