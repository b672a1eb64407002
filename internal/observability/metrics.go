// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sync engine.
type Metrics struct {
	// Pipeline metrics
	FramesReceived   *prometheus.CounterVec
	EventsNormalized *prometheus.CounterVec
	ProtocolErrors   *prometheus.CounterVec
	ApplyLatency     prometheus.Histogram

	// Connection metrics
	ReconnectAttempts prometheus.Counter
	RetriesExhausted  prometheus.Counter
	ConnectedSessions prometheus.Gauge

	// Staleness metrics
	HeartbeatPolls     prometheus.Counter
	RefetchesTriggered prometheus.Counter
	RefetchFailures    prometheus.Counter

	// Cache metrics
	SnapshotCacheHits   prometheus.Counter
	SnapshotCacheMisses prometheus.Counter

	// Archive / publish metrics
	SessionsArchived prometheus.Counter
	TickRowsArchived prometheus.Counter
	ArchiveErrors    *prometheus.CounterVec
	EventsPublished  prometheus.Counter
	PublishErrors    prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tradewatch"
	}

	return &Metrics{
		FramesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "frames_received_total",
			Help:      "Total number of raw frames received by transport",
		}, []string{"transport"}),
		EventsNormalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_normalized_total",
			Help:      "Total number of canonical events produced by type",
		}, []string{"type"}),
		ProtocolErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "protocol_errors_total",
			Help:      "Total number of malformed payloads dropped",
		}, []string{"transport", "reason"}),
		ApplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "apply_latency_seconds",
			Help:      "Reconcile-and-notify latency per event",
			Buckets:   prometheus.DefBuckets,
		}),

		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts",
		}),
		RetriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "retries_exhausted_total",
			Help:      "Total number of sessions that hit the terminal error state",
		}),
		ConnectedSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "connected_sessions",
			Help:      "Number of sessions with an active transport connection",
		}),

		HeartbeatPolls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staleness",
			Name:      "heartbeat_polls_total",
			Help:      "Total number of heartbeat polls performed",
		}),
		RefetchesTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staleness",
			Name:      "refetches_triggered_total",
			Help:      "Total number of full snapshot refetches triggered",
		}),
		RefetchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staleness",
			Name:      "refetch_failures_total",
			Help:      "Total number of snapshot refetches that failed",
		}),

		SnapshotCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "snapshot_hits_total",
			Help:      "Total number of warm-start snapshot cache hits",
		}),
		SnapshotCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "snapshot_misses_total",
			Help:      "Total number of warm-start snapshot cache misses",
		}),

		SessionsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "sessions_archived_total",
			Help:      "Total number of completed sessions archived",
		}),
		TickRowsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "tick_rows_archived_total",
			Help:      "Total number of tick rows flushed to history storage",
		}),
		ArchiveErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "errors_total",
			Help:      "Total number of archive write errors by sink",
		}, []string{"sink"}),
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "events_published_total",
			Help:      "Total number of canonical events published to the bus",
		}),
		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "errors_total",
			Help:      "Total number of publish failures",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFrame increments the frames received counter for a transport.
func RecordFrame(transport string) {
	DefaultMetrics.FramesReceived.WithLabelValues(transport).Inc()
}

// RecordEventNormalized increments the normalized events counter for a type.
func RecordEventNormalized(eventType string) {
	DefaultMetrics.EventsNormalized.WithLabelValues(eventType).Inc()
}

// RecordProtocolError records a dropped malformed payload.
func RecordProtocolError(transport, reason string) {
	DefaultMetrics.ProtocolErrors.WithLabelValues(transport, reason).Inc()
}

// RecordApplyLatency records reconcile-and-notify latency.
func RecordApplyLatency(seconds float64) {
	DefaultMetrics.ApplyLatency.Observe(seconds)
}

// RecordReconnectAttempt increments the reconnect attempts counter.
func RecordReconnectAttempt() {
	DefaultMetrics.ReconnectAttempts.Inc()
}

// RecordRetriesExhausted increments the terminal error counter.
func RecordRetriesExhausted() {
	DefaultMetrics.RetriesExhausted.Inc()
}

// SetSessionConnected moves the connected sessions gauge.
func SetSessionConnected(connected bool) {
	if connected {
		DefaultMetrics.ConnectedSessions.Inc()
	} else {
		DefaultMetrics.ConnectedSessions.Dec()
	}
}

// RecordHeartbeatPoll increments the heartbeat polls counter.
func RecordHeartbeatPoll() {
	DefaultMetrics.HeartbeatPolls.Inc()
}

// RecordRefetch records a triggered refetch and whether it failed.
func RecordRefetch(failed bool) {
	DefaultMetrics.RefetchesTriggered.Inc()
	if failed {
		DefaultMetrics.RefetchFailures.Inc()
	}
}

// RecordCacheLookup records a warm-start cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		DefaultMetrics.SnapshotCacheHits.Inc()
		return
	}
	DefaultMetrics.SnapshotCacheMisses.Inc()
}

// RecordSessionArchived increments the archived sessions counter.
func RecordSessionArchived() {
	DefaultMetrics.SessionsArchived.Inc()
}

// RecordTicksArchived adds flushed tick rows.
func RecordTicksArchived(n int) {
	DefaultMetrics.TickRowsArchived.Add(float64(n))
}

// RecordArchiveError records an archive write failure for a sink.
func RecordArchiveError(sink string) {
	DefaultMetrics.ArchiveErrors.WithLabelValues(sink).Inc()
}

// RecordPublish records a publish attempt outcome.
func RecordPublish(err error) {
	if err != nil {
		DefaultMetrics.PublishErrors.Inc()
		return
	}
	DefaultMetrics.EventsPublished.Inc()
}
