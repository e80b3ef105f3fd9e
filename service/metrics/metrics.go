package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// All helper methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Node selection and node REST metrics
	nodeSelectionsTotal    *prometheus.CounterVec
	nodeRankingDuration    *prometheus.HistogramVec
	nodeCallsTotal         *prometheus.CounterVec
	nodeCallDuration       *prometheus.HistogramVec
	circuitBreakerState    *prometheus.GaugeVec
	circuitBreakerRejected *prometheus.CounterVec

	// Streaming connection metrics
	wsTransitionsTotal *prometheus.CounterVec
	wsReconnectsTotal  prometheus.Counter
	wsFramesTotal      *prometheus.CounterVec
	wsSubscribesTotal  *prometheus.CounterVec

	// Transaction tracking metrics
	recordsTotal          *prometheus.CounterVec
	historyLoadsTotal     *prometheus.CounterVec
	historyRecordsLoaded  prometheus.Histogram
	timestampLookupsTotal *prometheus.CounterVec

	// Notification metrics
	notificationsTotal   *prometheus.CounterVec
	notificationDuration prometheus.Histogram

	// Submission metrics
	submissionsTotal *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		nodeSelectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_node_selections_total",
				Help: "Total number of node selections by network and source (ranking, fallback, static)",
			},
			[]string{"network", "source"},
		),
		nodeRankingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "symfeed_node_ranking_duration_seconds",
				Help:    "Duration of ranking service queries in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 1.5, 2.5},
			},
			[]string{"network"},
		),
		nodeCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_node_calls_total",
				Help: "Total number of node REST calls by method and status",
			},
			[]string{"method", "status"},
		),
		nodeCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "symfeed_node_call_duration_seconds",
				Help:    "Duration of node REST calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "symfeed_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		circuitBreakerRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_circuit_breaker_rejected_total",
				Help: "Total number of requests rejected by an open circuit breaker",
			},
			[]string{"name"},
		),

		wsTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_ws_state_transitions_total",
				Help: "Total number of streaming connection state transitions by target state",
			},
			[]string{"state"},
		),
		wsReconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "symfeed_ws_reconnects_total",
				Help: "Total number of scheduled reconnection attempts",
			},
		),
		wsFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_ws_frames_total",
				Help: "Total number of inbound frames by outcome (handshake, dispatched, unknown_topic, invalid)",
			},
			[]string{"outcome"},
		),
		wsSubscribesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_ws_subscribes_total",
				Help: "Total number of subscribe requests by status (sent, dropped, error)",
			},
			[]string{"status"},
		),

		recordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_records_total",
				Help: "Total number of record set changes by event (added, upgraded, duplicate) and source",
			},
			[]string{"event", "source"},
		),
		historyLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_history_loads_total",
				Help: "Total number of historical loads by status",
			},
			[]string{"status"},
		),
		historyRecordsLoaded: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "symfeed_history_records_loaded",
				Help:    "Number of transactions returned per historical load",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		timestampLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_timestamp_lookups_total",
				Help: "Total number of settlement timestamp lookups by result (cache, node, failed)",
			},
			[]string{"result"},
		),

		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_notifications_total",
				Help: "Total number of notification requests by kind and outcome (queued, suppressed, error)",
			},
			[]string{"kind", "outcome"},
		),
		notificationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "symfeed_notification_action_duration_seconds",
				Help:    "Duration of notification actions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),

		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_submissions_total",
				Help: "Total number of transaction submissions by status",
			},
			[]string{"status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "symfeed_db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_db_operations_total",
				Help: "Total number of database operations by type and status",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "symfeed_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "symfeed_sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symfeed_nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "symfeed_nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Node metric helpers

// RecordNodeSelection records which path produced the session endpoint.
func (m *Metrics) RecordNodeSelection(network, source string) {
	if m == nil {
		return
	}
	m.nodeSelectionsTotal.WithLabelValues(network, source).Inc()
}

// RecordRankingDuration records the duration of a ranking query.
func (m *Metrics) RecordRankingDuration(network string, duration float64) {
	if m == nil {
		return
	}
	m.nodeRankingDuration.WithLabelValues(network).Observe(duration)
}

// RecordNodeCall records a node REST call with duration.
func (m *Metrics) RecordNodeCall(method, status string, duration float64) {
	if m == nil {
		return
	}
	m.nodeCallsTotal.WithLabelValues(method, status).Inc()
	m.nodeCallDuration.WithLabelValues(method).Observe(duration)
}

// SetCircuitBreakerState records the numeric breaker state.
func (m *Metrics) SetCircuitBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.circuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordCircuitBreakerRejection records a call rejected by an open breaker.
func (m *Metrics) RecordCircuitBreakerRejection(name string) {
	if m == nil {
		return
	}
	m.circuitBreakerRejected.WithLabelValues(name).Inc()
}

// Streaming connection metric helpers

// RecordStateTransition records a connection state transition.
func (m *Metrics) RecordStateTransition(state string) {
	if m == nil {
		return
	}
	m.wsTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordReconnect records a scheduled reconnection.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.wsReconnectsTotal.Inc()
}

// RecordFrame records the outcome of an inbound frame.
func (m *Metrics) RecordFrame(outcome string) {
	if m == nil {
		return
	}
	m.wsFramesTotal.WithLabelValues(outcome).Inc()
}

// RecordSubscribe records a subscribe request.
func (m *Metrics) RecordSubscribe(status string) {
	if m == nil {
		return
	}
	m.wsSubscribesTotal.WithLabelValues(status).Inc()
}

// Tracker metric helpers

// RecordRecordEvent records a record set change.
func (m *Metrics) RecordRecordEvent(event, source string) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(event, source).Inc()
}

// RecordHistoryLoad records a historical load and how many items it returned.
func (m *Metrics) RecordHistoryLoad(status string, count int) {
	if m == nil {
		return
	}
	m.historyLoadsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.historyRecordsLoaded.Observe(float64(count))
	}
}

// RecordTimestampLookup records how a settlement timestamp was resolved.
func (m *Metrics) RecordTimestampLookup(result string) {
	if m == nil {
		return
	}
	m.timestampLookupsTotal.WithLabelValues(result).Inc()
}

// Notification metric helpers

// RecordNotification records a notification request outcome.
func (m *Metrics) RecordNotification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordNotificationDuration records how long a notification action ran.
func (m *Metrics) RecordNotificationDuration(duration float64) {
	if m == nil {
		return
	}
	m.notificationDuration.Observe(duration)
}

// RecordSubmission records a transaction submission outcome.
func (m *Metrics) RecordSubmission(status string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(status).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
