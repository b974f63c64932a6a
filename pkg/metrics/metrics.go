package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Call Metrics
	callsTotal  *prometheus.CounterVec
	callsActive prometheus.Gauge

	// Signaling Metrics
	signalsTotal         *prometheus.CounterVec
	signalsDroppedTotal  *prometheus.CounterVec
	websocketConnections prometheus.Gauge

	// Matchmaking Metrics
	matchQueueDepth prometheus.Gauge
	matchesTotal    prometheus.Counter
	claimsTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of call sessions by terminal status transition",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of call sessions not yet ended",
				ConstLabels: labels,
			},
		),

		signalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_messages_total",
				Help:        "Total number of relayed signaling messages",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		signalsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_messages_dropped_total",
				Help:        "Signaling messages rejected at the boundary",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of open signaling WebSocket connections",
				ConstLabels: labels,
			},
		),

		matchQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "match_queue_depth",
				Help:        "Number of users waiting for a random match",
				ConstLabels: labels,
			},
		),
		matchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "matches_total",
				Help:        "Total number of successful pairings",
				ConstLabels: labels,
			},
		),
		claimsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "match_claims_total",
				Help:        "Total number of claim attempts by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"}, // won, empty, error
		),
	}
}

// GetRegistry returns the private Prometheus registry for the /metrics endpoint
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordCallStatus records a call session entering a status
func (m *Metrics) RecordCallStatus(status string) {
	m.callsTotal.WithLabelValues(status).Inc()
	if status == "ended" {
		m.callsActive.Dec()
	}
}

// RecordCallCreated records a new call session
func (m *Metrics) RecordCallCreated(status string) {
	m.callsTotal.WithLabelValues(status).Inc()
	m.callsActive.Inc()
}

// RecordSignal records one relayed signaling message
func (m *Metrics) RecordSignal(signalType string) {
	m.signalsTotal.WithLabelValues(signalType).Inc()
}

// RecordSignalDropped records a signaling message rejected at the boundary
func (m *Metrics) RecordSignalDropped(reason string) {
	m.signalsDroppedTotal.WithLabelValues(reason).Inc()
}

// IncrementWebSocketConnections increments the open socket gauge
func (m *Metrics) IncrementWebSocketConnections() {
	m.websocketConnections.Inc()
}

// DecrementWebSocketConnections decrements the open socket gauge
func (m *Metrics) DecrementWebSocketConnections() {
	m.websocketConnections.Dec()
}

// SetMatchQueueDepth sets the waiting pool gauge
func (m *Metrics) SetMatchQueueDepth(depth int64) {
	m.matchQueueDepth.Set(float64(depth))
}

// RecordMatchMade records one successful pairing
func (m *Metrics) RecordMatchMade() {
	m.matchesTotal.Inc()
}

// RecordClaim records a claim attempt outcome
func (m *Metrics) RecordClaim(outcome string) {
	m.claimsTotal.WithLabelValues(outcome).Inc()
}
