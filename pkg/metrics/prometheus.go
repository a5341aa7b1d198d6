// Package metrics provides Prometheus metrics for the pulse session service.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Subsystems group collectors by the part of the service they observe.
const (
	subIngest   = "ingest"
	subTimeline = "timeline"
	subSession  = "session"
	subRewards  = "rewards"
	subStore    = "store"
	subQueue    = "queue"
	subHTTP     = "http"
	subLive     = "live"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace      string
	latencyBuckets []float64
	tickBuckets    []float64
	registry       prometheus.Registerer

	// Ingestion
	samplesIngested *prometheus.CounterVec
	samplesRejected *prometheus.CounterVec

	// Timeline
	ticks        prometheus.Counter
	catchUpTicks prometheus.Counter
	droppedKeys  prometheus.Counter
	tickLatency  prometheus.Histogram
	seriesCount  prometheus.Gauge

	// Session lifecycle
	activeCount      prometheus.Gauge
	sessionState     *prometheus.GaugeVec
	sessionsStarted  prometheus.Counter
	sessionsEnded    *prometheus.CounterVec
	identityMismatch prometheus.Counter

	// Rewards
	coinsAwarded     *prometheus.CounterVec
	awardsSuppressed prometheus.Counter
	transfers        prometheus.Counter

	// Persistence
	savesAccepted  prometheus.Counter
	savesRejected  *prometheus.CounterVec
	persistErrors  prometheus.Counter
	persistLatency prometheus.Histogram

	// Queue
	queueSize          *prometheus.GaugeVec
	queueEnqueueErrors *prometheus.CounterVec
	queueLatency       prometheus.Histogram

	// HTTP
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	// Live feed
	liveClients prometheus.Gauge
	liveDropped prometheus.Counter
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a metrics manager. Without options it registers on the
// default registerer under the "pulse" namespace.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "pulse",
		latencyBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		tickBuckets:    []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(sub, name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: sub,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) counterVec(sub, name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: sub,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) gauge(sub, name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: sub,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gaugeVec(sub, name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: sub,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) histogram(sub, name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: sub,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.samplesIngested = m.counterVec(subIngest, "samples_total", "Device samples accepted, by device type", "type")
	m.samplesRejected = m.counterVec(subIngest, "samples_rejected_total", "Device samples ignored, by reason", "reason")

	m.ticks = m.counter(subTimeline, "ticks_total", "Timeline ticks recorded")
	m.catchUpTicks = m.counter(subTimeline, "catchup_ticks_total", "Ticks fired to recover from scheduler drift")
	m.droppedKeys = m.counter(subTimeline, "dropped_series_keys_total", "Malformed series keys stripped from tick payloads")
	m.tickLatency = m.histogram(subTimeline, "tick_duration_milliseconds", "Time spent processing one tick in milliseconds", m.tickBuckets)
	m.seriesCount = m.gauge(subTimeline, "series", "Number of series in the live timeline")

	m.activeCount = m.gauge(subSession, "active_participants", "Participants currently broadcasting")
	m.sessionState = m.gaugeVec(subSession, "state", "Current orchestrator state (1 for the active state label)", "state")
	m.sessionsStarted = m.counter(subSession, "started_total", "Sessions that left the buffering state")
	m.sessionsEnded = m.counterVec(subSession, "ended_total", "Sessions ended, by trigger", "reason")
	m.identityMismatch = m.counter(subSession, "identity_mismatches_total", "Ledger assignments that disagree with the directory")

	m.coinsAwarded = m.counterVec(subRewards, "coins_total", "Coins credited, by zone color", "color")
	m.awardsSuppressed = m.counter(subRewards, "suppressed_total", "Awards withheld because the participant was not verified active")
	m.transfers = m.counter(subRewards, "entity_transfers_total", "Entity transfers performed")

	m.savesAccepted = m.counter(subStore, "saves_total", "Session summaries handed to the store")
	m.savesRejected = m.counterVec(subStore, "saves_rejected_total", "Session summaries rejected by validation, by reason", "reason")
	m.persistErrors = m.counter(subStore, "write_errors_total", "Store write failures")
	m.persistLatency = m.histogram(subStore, "write_duration_milliseconds", "Store write latency in milliseconds", m.latencyBuckets)

	m.queueSize = m.gaugeVec(subQueue, "depth", "Current queue depth, by queue name", "queue")
	m.queueEnqueueErrors = m.counterVec(subQueue, "enqueue_errors_total", "Rejected enqueues, by queue and reason", "queue", "reason")
	m.queueLatency = m.histogram(subQueue, "wait_milliseconds", "Time tasks spend queued before execution in milliseconds", m.latencyBuckets)

	m.httpRequests = m.counterVec(subHTTP, "requests_total", "HTTP requests, by route, method and status class", "route", "method", "class")
	m.httpLatency = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: subHTTP,
		Name:      "request_duration_milliseconds",
		Help:      "HTTP request latency in milliseconds, by route and method",
		Buckets:   m.latencyBuckets,
	}, []string{"route", "method"})

	m.liveClients = m.gauge(subLive, "clients", "Connected live feed clients")
	m.liveDropped = m.counter(subLive, "frames_dropped_total", "Live frames dropped because a client was too slow")
}

// RecordSampleIngested counts an accepted device sample.
func RecordSampleIngested(deviceType string) {
	globalManager.samplesIngested.WithLabelValues(deviceType).Inc()
}

// RecordSampleRejected counts an ignored device sample.
func RecordSampleRejected(reason string) {
	globalManager.samplesRejected.WithLabelValues(reason).Inc()
}

// RecordTick counts a recorded tick and its processing time.
func RecordTick(latencyMs float64) {
	globalManager.ticks.Inc()
	globalManager.tickLatency.Observe(latencyMs)
}

// RecordCatchUpTick counts a tick fired to recover from drift.
func RecordCatchUpTick() {
	globalManager.catchUpTicks.Inc()
}

// RecordDroppedKeys counts malformed series keys.
func RecordDroppedKeys(n int) {
	globalManager.droppedKeys.Add(float64(n))
}

// UpdateSeriesCount sets the number of live series.
func UpdateSeriesCount(n int) {
	globalManager.seriesCount.Set(float64(n))
}

// UpdateActiveParticipants sets the broadcasting participant count.
func UpdateActiveParticipants(n int) {
	globalManager.activeCount.Set(float64(n))
}

// UpdateSessionState marks state as the current orchestrator state.
func UpdateSessionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		globalManager.sessionState.WithLabelValues(s).Set(v)
	}
}

// RecordSessionStarted counts a started session.
func RecordSessionStarted() {
	globalManager.sessionsStarted.Inc()
}

// RecordSessionEnded counts an ended session.
func RecordSessionEnded(reason string) {
	globalManager.sessionsEnded.WithLabelValues(reason).Inc()
}

// RecordIdentityMismatch counts a ledger/directory disagreement.
func RecordIdentityMismatch() {
	globalManager.identityMismatch.Inc()
}

// RecordCoinsAwarded counts coins credited in a zone color.
func RecordCoinsAwarded(color string, coins int) {
	globalManager.coinsAwarded.WithLabelValues(color).Add(float64(coins))
}

// RecordAwardSuppressed counts an award withheld by the activity gate.
func RecordAwardSuppressed() {
	globalManager.awardsSuppressed.Inc()
}

// RecordTransfer counts an entity transfer.
func RecordTransfer() {
	globalManager.transfers.Inc()
}

// RecordSaveAccepted counts a summary that passed validation.
func RecordSaveAccepted() {
	globalManager.savesAccepted.Inc()
}

// RecordSaveRejected counts a summary rejected by validation.
func RecordSaveRejected(reason string) {
	globalManager.savesRejected.WithLabelValues(reason).Inc()
}

// RecordPersist records a store write.
func RecordPersist(latencyMs float64, err error) {
	globalManager.persistLatency.Observe(latencyMs)
	if err != nil {
		globalManager.persistErrors.Inc()
	}
}

// UpdateQueueSize sets the depth of the named queue.
func UpdateQueueSize(queue string, size int) {
	globalManager.queueSize.WithLabelValues(queue).Set(float64(size))
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(queue, reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(queue, reason).Inc()
}

// RecordQueueWait records how long a task waited before running.
func RecordQueueWait(latencyMs float64) {
	globalManager.queueLatency.Observe(latencyMs)
}

// RecordHTTPRequest counts a served request under its route label and
// status class ("2xx", "4xx" and so on) and observes its latency.
func RecordHTTPRequest(route, method string, status int, latencyMs float64) {
	globalManager.httpRequests.WithLabelValues(route, method, StatusClass(status)).Inc()
	globalManager.httpLatency.WithLabelValues(route, method).Observe(latencyMs)
}

// StatusClass folds an HTTP status code into its class label.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}

// UpdateLiveClients sets the number of live feed subscribers.
func UpdateLiveClients(n int) {
	globalManager.liveClients.Set(float64(n))
}

// RecordLiveFrameDropped counts a frame skipped for a slow client.
func RecordLiveFrameDropped() {
	globalManager.liveDropped.Inc()
}

// GetRegistry returns the registry every collector is registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
