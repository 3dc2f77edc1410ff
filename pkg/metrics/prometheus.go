// Package metrics provides Prometheus metrics for the stresstrack service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default bucket layouts.
var (
	// stressScoreBuckets covers typical scores; a busy page easily exceeds 100.
	stressScoreBuckets = []float64{1, 5, 10, 20, 50, 100, 250, 500, 1000}
	// batchSizeBuckets counts mouse samples per ingested batch.
	batchSizeBuckets = []float64{0, 10, 50, 100, 250, 500, 1000, 2500, 5000}
)

// Manager manages all Prometheus metrics for the stresstrack service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Ingestion
	recordsIngested    prometheus.Counter
	recordsDuplicate   prometheus.Counter
	recordsRejected    *prometheus.CounterVec
	movementsIngested  prometheus.Counter
	movementsPerBatch  prometheus.Histogram
	stressScore        prometheus.Histogram
	scoreWritesSkipped prometheus.Counter

	// Store
	storeLatency   *prometheus.HistogramVec
	storeErrors    *prometheus.CounterVec
	documentsTotal prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimited         prometheus.Counter

	// Relay queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Relay workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter
	forwardResults          *prometheus.CounterVec

	// Observer
	observerFlushes        *prometheus.CounterVec
	observerBatchesDropped prometheus.Counter
	observerSamplesDropped *prometheus.CounterVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
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
		namespace:        "stresstrack",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	m.recordsIngested = m.counter("records_ingested_total", "Behavior records merged into the store")
	m.recordsDuplicate = m.counter("records_duplicate_total", "Behavior batches skipped because their batch id was already seen")
	m.recordsRejected = m.counterVec("records_rejected_total", "Behavior records rejected before touching the store", "reason")
	m.movementsIngested = m.counter("mouse_movements_ingested_total", "Mouse movement samples appended to stored documents")
	m.movementsPerBatch = m.histogram("mouse_movements_per_batch", "Mouse movement samples per ingested batch", batchSizeBuckets)
	m.stressScore = m.histogram("stress_score", "Stress score of documents after each merge", stressScoreBuckets)
	m.scoreWritesSkipped = m.counter("score_writes_skipped_total", "Score write-backs skipped because a newer merge already happened")

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Behavior store operation latency in milliseconds", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Behavior store operation failures", "op")
	m.documentsTotal = m.gauge("documents_total", "Number of (website, date) documents in the store")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")
	m.rateLimited = m.counter("http_rate_limited_total", "Requests rejected by the per-client rate limiter")

	m.queueSize = m.gauge("relay_queue_size", "Current number of messages waiting in the relay queue")
	m.queueCapacity = m.gauge("relay_queue_capacity", "Maximum capacity of the relay queue")
	m.queueUtilization = m.gauge("relay_queue_utilization_ratio", "Relay queue utilization (0.0 to 1.0)")
	m.queueEnqueueRate = m.counter("relay_queue_enqueue_total", "Messages enqueued into the relay queue")
	m.queueDequeueRate = m.counter("relay_queue_dequeue_total", "Messages dequeued from the relay queue")
	m.queueEnqueueErrors = m.counter("relay_queue_enqueue_errors_total", "Relay enqueue failures (full or closed)")
	m.queueProcessingLatency = m.histogram("relay_queue_processing_latency_milliseconds", "Relay enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("relay_worker_active_count", "Number of relay forwarding workers")
	m.workerProcessingLatency = m.histogram("relay_worker_processing_latency_milliseconds", "Time to forward one batch to the ingestion endpoint", m.histogramBuckets)
	m.workerErrorRate = m.counter("relay_worker_errors_total", "Relay forwarding failures")
	m.forwardResults = m.counterVec("relay_forward_results_total", "Relay forwarding outcomes", "result")

	m.observerFlushes = m.counterVec("observer_flushes_total", "Observer flush attempts by outcome", "outcome")
	m.observerBatchesDropped = m.counter("observer_batches_dropped_total", "Batches abandoned after exhausting retries")
	m.observerSamplesDropped = m.counterVec("observer_samples_dropped_total", "Mouse samples not recorded by the observer", "reason")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by HTTP endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of failed operations in milliseconds", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Current memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Current number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time in milliseconds", m.histogramBuckets)
}

// Ingestion.

// RecordIngested records one merged record and its mouse sample count.
func RecordIngested(movements int) {
	globalManager.recordsIngested.Inc()
	globalManager.movementsIngested.Add(float64(movements))
	globalManager.movementsPerBatch.Observe(float64(movements))
}

// RecordDuplicate records a batch skipped by idempotency.
func RecordDuplicate() {
	globalManager.recordsDuplicate.Inc()
}

// RecordRejected records a record rejected by validation.
func RecordRejected(reason string) {
	globalManager.recordsRejected.WithLabelValues(reason).Inc()
}

// RecordStressScore observes a freshly computed score.
func RecordStressScore(score float64) {
	globalManager.stressScore.Observe(score)
}

// RecordScoreWriteSkipped records a superseded score write-back.
func RecordScoreWriteSkipped() {
	globalManager.scoreWritesSkipped.Inc()
}

// Store.

// RecordStoreLatency records latency of a store operation.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreError records a failed store operation.
func RecordStoreError(op string) {
	globalManager.storeErrors.WithLabelValues(op).Inc()
}

// UpdateDocumentsTotal sets the number of stored documents.
func UpdateDocumentsTotal(count int) {
	globalManager.documentsTotal.Set(float64(count))
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordRateLimited records a request rejected by the rate limiter.
func RecordRateLimited() {
	globalManager.rateLimited.Inc()
}

// Relay queue.

// UpdateQueueSize updates the relay queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity updates the relay queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization updates the relay queue utilization.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue records a successful enqueue.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue records a dequeue.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError records an enqueue failure.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Relay workers.

// UpdateWorkerActiveCount sets the number of forwarding workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records the time to forward one batch.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError records a forwarding failure.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordForwardResult records a forwarding outcome ("success", "rejected", "unreachable").
func RecordForwardResult(result string) {
	globalManager.forwardResults.WithLabelValues(result).Inc()
}

// Observer.

// RecordObserverFlush records a flush outcome ("sent", "failed", "empty", "waiting").
func RecordObserverFlush(outcome string) {
	globalManager.observerFlushes.WithLabelValues(outcome).Inc()
}

// RecordObserverBatchDropped records a batch abandoned after its last retry.
func RecordObserverBatchDropped() {
	globalManager.observerBatchesDropped.Inc()
}

// RecordObserverSampleDropped records a mouse sample that was not kept.
func RecordObserverSampleDropped(reason string) {
	globalManager.observerSamplesDropped.WithLabelValues(reason).Inc()
}

// Errors.

// RecordErrorByComponent records errors by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records errors by type and severity.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records errors by endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records latency of a failed operation.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System.

// UpdateSystemMemoryUsage updates memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount updates goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry the global metrics live in.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
