// Package metrics provides Prometheus metrics for the reputation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the reputation service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Core business metrics
	recomputes           *prometheus.CounterVec
	recomputeLatency     prometheus.Histogram
	coalescedTriggers    prometheus.Counter
	reviewsSuppressed    *prometheus.CounterVec
	invalidRows          *prometheus.CounterVec
	recomputeRetries     *prometheus.CounterVec
	transactionConflicts prometheus.Counter
	schedulingFailures   prometheus.Counter
	lawyersTotal         prometheus.Gauge
	tierDistribution     *prometheus.GaugeVec

	// Store metrics
	breakerState           *prometheus.GaugeVec
	repositoryQueryLatency *prometheus.HistogramVec

	// Queue metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Trigger bus and sweeper
	busMessages    *prometheus.CounterVec
	sweeps         prometheus.Counter
	sweepTriggered prometheus.Counter
	sweepDuration  prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	// System metrics
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
		namespace:        "repute",
		subsystem:        "reputation",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.recomputes = auto.NewCounterVec(
		m.counterOpts("recomputes_total", "Lawyer recomputes by outcome (ok, failed, cancelled)"),
		[]string{"outcome"},
	)
	m.recomputeLatency = auto.NewHistogram(
		m.histogramOpts("recompute_latency_milliseconds", "End-to-end latency of one lawyer recompute", m.histogramBuckets),
	)
	m.coalescedTriggers = auto.NewCounter(
		m.counterOpts("coalesced_triggers_total", "Triggers folded into an in-flight recompute"),
	)
	m.reviewsSuppressed = auto.NewCounterVec(
		m.counterOpts("reviews_suppressed_total", "Reviews excluded by the anti-gaming filter"),
		[]string{"reason"},
	)
	m.invalidRows = auto.NewCounterVec(
		m.counterOpts("invalid_rows_total", "Event rows skipped during aggregation"),
		[]string{"kind"},
	)
	m.recomputeRetries = auto.NewCounterVec(
		m.counterOpts("recompute_retries_total", "Recompute attempts retried by cause"),
		[]string{"cause"},
	)
	m.transactionConflicts = auto.NewCounter(
		m.counterOpts("transaction_conflicts_total", "Snapshot writes rejected by a revision mismatch"),
	)
	m.schedulingFailures = auto.NewCounter(
		m.counterOpts("scheduling_failures_total", "Recomputes abandoned after exhausting retries"),
	)
	m.lawyersTotal = auto.NewGauge(
		m.gaugeOpts("lawyers_total", "Lawyers with a materialized snapshot"),
	)
	m.tierDistribution = auto.NewGaugeVec(
		m.gaugeOpts("tier_lawyers", "Lawyers per reputation tier"),
		[]string{"tier"},
	)

	m.breakerState = auto.NewGaugeVec(
		m.gaugeOpts("circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open)"),
		[]string{"name"},
	)
	m.repositoryQueryLatency = auto.NewHistogramVec(
		m.histogramOpts("repository_query_latency_milliseconds", "Event store operation latency", m.histogramBuckets),
		[]string{"operation"},
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current number of pending recompute requests"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum recompute queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue utilization ratio (0.0 to 1.0)"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total", "Recompute requests enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeued_total", "Recompute requests dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Rejected enqueue attempts"))
	m.queueProcessingLatency = auto.NewHistogram(
		m.histogramOpts("queue_wait_milliseconds", "Time a request spent queued before a worker picked it up", m.histogramBuckets),
	)

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured worker count"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Workers currently processing a request"))
	m.workerIdleCount = auto.NewGauge(m.gaugeOpts("worker_idle_count", "Workers waiting for a request"))
	m.workerProcessingLatency = auto.NewHistogram(
		m.histogramOpts("worker_processing_latency_milliseconds", "Worker handler latency", m.histogramBuckets),
	)
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Requests whose handler returned an error"))

	m.busMessages = auto.NewCounterVec(
		m.counterOpts("bus_messages_total", "Trigger bus messages by topic and outcome"),
		[]string{"topic", "outcome"},
	)
	m.sweeps = auto.NewCounter(m.counterOpts("sweeps_total", "Completed recompute sweeps"))
	m.sweepTriggered = auto.NewCounter(m.counterOpts("sweep_triggered_total", "Lawyers triggered by sweeps"))
	m.sweepDuration = auto.NewHistogram(
		m.histogramOpts("sweep_duration_milliseconds", "Duration of one sweep", m.histogramBuckets),
	)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorsByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(
		m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}),
	)
}

// Recompute metrics.

// RecordRecompute counts one finished recompute and observes its latency.
func RecordRecompute(outcome string, latencyMs float64) {
	globalManager.recomputes.WithLabelValues(outcome).Inc()
	globalManager.recomputeLatency.Observe(latencyMs)
}

// RecordCoalescedTrigger increments the coalesced trigger counter.
func RecordCoalescedTrigger() {
	globalManager.coalescedTriggers.Inc()
}

// RecordReviewsSuppressed adds n suppressed reviews for a reason.
func RecordReviewsSuppressed(reason string, n int) {
	globalManager.reviewsSuppressed.WithLabelValues(reason).Add(float64(n))
}

// RecordInvalidRow counts one skipped event row.
func RecordInvalidRow(kind string) {
	globalManager.invalidRows.WithLabelValues(kind).Inc()
}

// RecordRecomputeRetry counts one retried attempt.
func RecordRecomputeRetry(cause string) {
	globalManager.recomputeRetries.WithLabelValues(cause).Inc()
}

// RecordTransactionConflict increments the conflict counter.
func RecordTransactionConflict() {
	globalManager.transactionConflicts.Inc()
}

// RecordSchedulingFailure increments the scheduling failure counter.
func RecordSchedulingFailure() {
	globalManager.schedulingFailures.Inc()
}

// UpdateLawyersTotal sets the number of lawyers with a snapshot.
func UpdateLawyersTotal(count int) {
	globalManager.lawyersTotal.Set(float64(count))
}

// UpdateTierDistribution sets the lawyer count per tier.
func UpdateTierDistribution(counts map[string]int) {
	for tier, n := range counts {
		globalManager.tierDistribution.WithLabelValues(tier).Set(float64(n))
	}
}

// Store metrics.

// UpdateBreakerState sets the state gauge of a named circuit breaker.
func UpdateBreakerState(name string, state int) {
	globalManager.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRepositoryQueryLatency records event store operation latency.
func RecordRepositoryQueryLatency(operation string, latencyMs float64) {
	globalManager.repositoryQueryLatency.WithLabelValues(operation).Observe(latencyMs)
}

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records how long a request waited in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker metrics.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// Bus and sweep metrics.

// RecordBusMessage counts one trigger bus message.
func RecordBusMessage(topic, outcome string) {
	globalManager.busMessages.WithLabelValues(topic, outcome).Inc()
}

// RecordSweep counts one sweep and the lawyers it triggered.
func RecordSweep(triggered int, latencyMs float64) {
	globalManager.sweeps.Inc()
	globalManager.sweepTriggered.Add(float64(triggered))
	globalManager.sweepDuration.Observe(latencyMs)
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
