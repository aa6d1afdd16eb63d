// Package metrics provides Prometheus metrics for the tournament engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lane outcome label values.
const (
	OutcomePromoted = "promoted"
	OutcomeRetained = "retained"
	OutcomeStalled  = "stalled"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Tournament lifecycle
	tournamentsCreated  prometheus.Counter
	tournamentsFinished *prometheus.CounterVec
	roundsCompleted     prometheus.Counter
	roundDuration       prometheus.Histogram
	roundCommitFailures prometheus.Counter
	tournamentsActive   prometheus.Gauge

	// Lanes
	laneOutcomes   *prometheus.CounterVec
	laneScoreDelta prometheus.Histogram

	// External collaborators (proposer / scorer)
	externalLatency *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	externalRetries *prometheus.CounterVec

	// Store
	storeCommitLatency prometheus.Histogram

	// Hub
	hubSubscribers      prometheus.Gauge
	hubEventsPublished  prometheus.Counter
	hubSubscriberDrops  prometheus.Counter
	hubReplayedRoundsTL prometheus.Counter

	// Round job queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec
	workerCount        prometheus.Gauge
	workerJobs         *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tourney",
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

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	latencyBuckets := []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

	m.tournamentsCreated = m.counter("tournaments_created_total", "Total number of tournaments created")
	m.tournamentsFinished = m.counterVec("tournaments_finished_total", "Tournaments reaching a terminal state by status", "status")
	m.roundsCompleted = m.counter("rounds_completed_total", "Total number of rounds committed")
	m.roundDuration = m.histogram("round_duration_milliseconds", "Wall time of a full round including the lane barrier", latencyBuckets)
	m.roundCommitFailures = m.counter("round_commit_failures_total", "Round commits rolled back because the store failed")
	m.tournamentsActive = m.gauge("tournaments_in_progress", "Tournaments not yet in a terminal state")

	m.laneOutcomes = m.counterVec("lane_outcomes_total", "Lane results per round by outcome", "outcome")
	m.laneScoreDelta = m.histogram("lane_score_delta", "Champion score improvement of promoted lanes",
		[]float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 4})

	m.externalLatency = m.histogramVec("external_call_latency_milliseconds", "Latency of proposer and scorer calls", "call")
	m.externalErrors = m.counterVec("external_call_errors_total", "Failed proposer and scorer attempts", "call")
	m.externalRetries = m.counterVec("external_call_retries_total", "Retried proposer and scorer attempts", "call")

	m.storeCommitLatency = m.histogram("store_commit_latency_milliseconds", "Latency of atomic round commits", m.histogramBuckets)

	m.hubSubscribers = m.gauge("hub_subscribers", "Currently attached stream subscribers")
	m.hubEventsPublished = m.counter("hub_events_published_total", "Events handed to the hub for fan-out")
	m.hubSubscriberDrops = m.counter("hub_subscriber_drops_total", "Subscribers dropped because their backlog overflowed")
	m.hubReplayedRoundsTL = m.counter("hub_replayed_rounds_total", "Historical rounds replayed to new subscribers")

	m.queueSize = m.gauge("queue_size", "Current number of queued round jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum round job queue capacity")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Round jobs enqueued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Rejected round jobs by reason", "reason")
	m.workerCount = m.gauge("worker_count", "Number of round driver workers")
	m.workerJobs = m.counterVec("worker_jobs_total", "Round jobs processed by result", "result")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.gauge("system_gc_pause_milliseconds", "Average GC pause in milliseconds")
}

// RecordTournamentCreated increments the created counter.
func RecordTournamentCreated() { globalManager.tournamentsCreated.Inc() }

// RecordTournamentFinished counts a tournament reaching status.
func RecordTournamentFinished(status string) {
	globalManager.tournamentsFinished.WithLabelValues(status).Inc()
}

// RecordRoundCompleted records a committed round and its duration.
func RecordRoundCompleted(durationMs float64) {
	globalManager.roundsCompleted.Inc()
	globalManager.roundDuration.Observe(durationMs)
}

// RecordRoundCommitFailure counts a rolled back round.
func RecordRoundCommitFailure() { globalManager.roundCommitFailures.Inc() }

// RecordLaneOutcome counts a lane result. delta is only observed for promotions.
func RecordLaneOutcome(outcome string, delta float64) {
	globalManager.laneOutcomes.WithLabelValues(outcome).Inc()
	if outcome == OutcomePromoted {
		globalManager.laneScoreDelta.Observe(delta)
	}
}

// RecordExternalCall records latency of a proposer/scorer attempt.
func RecordExternalCall(call string, latencyMs float64, err error) {
	globalManager.externalLatency.WithLabelValues(call).Observe(latencyMs)
	if err != nil {
		globalManager.externalErrors.WithLabelValues(call).Inc()
	}
}

// RecordExternalRetry counts a retried attempt.
func RecordExternalRetry(call string) { globalManager.externalRetries.WithLabelValues(call).Inc() }

// RecordStoreCommitLatency records the latency of a round commit.
func RecordStoreCommitLatency(latencyMs float64) { globalManager.storeCommitLatency.Observe(latencyMs) }

// UpdateHubSubscribers sets the attached subscriber gauge.
func UpdateHubSubscribers(count int) { globalManager.hubSubscribers.Set(float64(count)) }

// RecordHubEventPublished counts an event handed to the hub.
func RecordHubEventPublished() { globalManager.hubEventsPublished.Inc() }

// RecordHubSubscriberDropped counts an overflowed subscriber.
func RecordHubSubscriberDropped() { globalManager.hubSubscriberDrops.Inc() }

// RecordHubReplayedRounds counts replayed history rounds.
func RecordHubReplayedRounds(n int) { globalManager.hubReplayedRoundsTL.Add(float64(n)) }

// UpdateQueueSize sets the queue length gauge.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts an accepted job.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueEnqueueError counts a rejected job.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the worker gauge.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerJob counts a processed job by result.
func RecordWorkerJob(result string) { globalManager.workerJobs.WithLabelValues(result).Inc() }

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent counts an error for a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the memory gauge.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime sets the average GC pause.
func RecordSystemGCPauseTime(ms float64) { globalManager.systemGCPauseTime.Set(ms) }

// UpdateTournamentsInProgress sets the number of running tournaments.
func UpdateTournamentsInProgress(count int) { globalManager.tournamentsActive.Set(float64(count)) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
