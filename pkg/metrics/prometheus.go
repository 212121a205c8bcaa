// Package metrics provides Prometheus metrics for the aura ranking engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingestion metrics
	eventsIngested  *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
	eventsDuplicate prometheus.Counter

	// Batch worker metrics
	batchRuns         prometheus.Counter
	batchDuration     prometheus.Histogram
	itemsProcessed    prometheus.Counter
	itemsFailed       *prometheus.CounterVec
	itemsRequeued     prometheus.Counter
	claimLatency      prometheus.Histogram
	dirtyBacklog      prometheus.Gauge
	scoresPublished   prometheus.Counter
	publishSuppressed prometheus.Counter

	// Selection metrics
	selectionRequests *prometheus.CounterVec
	selectionRepeats  prometheus.Counter
	selectionStarved  prometheus.Counter

	// Store scale metrics
	itemsTracked  prometheus.Gauge
	ratersTracked prometheus.Gauge

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "aura",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.eventsIngested = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_ingested_total",
			Help:      "Total number of events accepted into the log, by kind",
		},
		[]string{"kind"},
	)

	m.eventsRejected = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_rejected_total",
			Help:      "Total number of events rejected at validation, by kind",
		},
		[]string{"kind"},
	)

	m.eventsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_duplicate_total",
		Help:      "Total number of duplicate event ids short-circuited at ingestion",
	})

	m.batchRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_runs_total",
		Help:      "Total number of batch worker cycles",
	})

	m.batchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_duration_milliseconds",
		Help:      "Histogram of full batch cycle duration in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.itemsProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "items_processed_total",
		Help:      "Total number of dirty items replayed successfully",
	})

	m.itemsFailed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "items_failed_total",
			Help:      "Total number of per-item replay failures, by reason",
		},
		[]string{"reason"},
	)

	m.itemsRequeued = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "items_requeued_total",
		Help:      "Total number of dirty entries requeued after a failure or budget cut",
	})

	m.claimLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "claim_latency_milliseconds",
		Help:      "Histogram of dirty-set claim latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.dirtyBacklog = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dirty_backlog",
		Help:      "Current number of unclaimed dirty entries (recompute backlog)",
	})

	m.scoresPublished = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scores_published_total",
		Help:      "Total number of published score updates",
	})

	m.publishSuppressed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "publish_suppressed_total",
		Help:      "Total number of recomputes below publish thresholds (debounced)",
	})

	m.selectionRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "selection_requests_total",
			Help:      "Total number of selection requests, by mode",
		},
		[]string{"mode"},
	)

	m.selectionRepeats = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "selection_repeats_total",
		Help:      "Total number of pair selections that fell back to a recent repeat",
	})

	m.selectionStarved = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "selection_starved_total",
		Help:      "Total number of selection requests answered from an exhausted pool",
	})

	m.itemsTracked = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "items_tracked",
		Help:      "Total number of items with rating state",
	})

	m.ratersTracked = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "raters_tracked",
		Help:      "Total number of raters with calibration state",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)
}

// Package-level helpers against the global manager.

func RecordEventIngested(kind string) {
	globalManager.eventsIngested.WithLabelValues(kind).Inc()
}

func RecordEventRejected(kind string) {
	globalManager.eventsRejected.WithLabelValues(kind).Inc()
}

func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

func RecordBatchRun() {
	globalManager.batchRuns.Inc()
}

func RecordBatchDuration(latencyMs float64) {
	globalManager.batchDuration.Observe(latencyMs)
}

func RecordItemProcessed() {
	globalManager.itemsProcessed.Inc()
}

func RecordItemFailed(reason string) {
	globalManager.itemsFailed.WithLabelValues(reason).Inc()
}

func RecordItemRequeued() {
	globalManager.itemsRequeued.Inc()
}

func RecordClaimLatency(latencyMs float64) {
	globalManager.claimLatency.Observe(latencyMs)
}

func UpdateDirtyBacklog(n int) {
	globalManager.dirtyBacklog.Set(float64(n))
}

func RecordScorePublished() {
	globalManager.scoresPublished.Inc()
}

func RecordPublishSuppressed() {
	globalManager.publishSuppressed.Inc()
}

func RecordSelectionRequest(mode string) {
	globalManager.selectionRequests.WithLabelValues(mode).Inc()
}

func RecordSelectionRepeat() {
	globalManager.selectionRepeats.Inc()
}

func RecordSelectionStarved() {
	globalManager.selectionStarved.Inc()
}

func UpdateItemsTracked(n int) {
	globalManager.itemsTracked.Set(float64(n))
}

func UpdateRatersTracked(n int) {
	globalManager.ratersTracked.Set(float64(n))
}

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry returns the custom registry used by the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
