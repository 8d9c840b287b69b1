package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service.
// Collectors live on a private registry so several instances can coexist
// (tests build one per case).
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	// Call Metrics
	callsStartedTotal *prometheus.CounterVec
	callsEndedTotal   *prometheus.CounterVec
	callsActive       prometheus.Gauge
	callsDuration     *prometheus.HistogramVec
	callErrorsTotal   *prometheus.CounterVec

	// Signaling Metrics
	signalsRelayedTotal  *prometheus.CounterVec
	signalsRejectedTotal *prometheus.CounterVec

	// Credential Metrics
	turnCredentialsIssued prometheus.Counter

	// Reaper Metrics
	reaperRunsTotal    prometheus.Counter
	reaperCleanedTotal prometheus.Counter
	reaperErrorsTotal  prometheus.Counter

	// Rate Limiting Metrics
	rateLimitBlockedTotal *prometheus.CounterVec
	rateLimitWindows      prometheus.Gauge

	// Dependency Metrics
	redisDegraded     prometheus.Gauge
	redisHealthChecks *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	breakerRejected   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: reg,

		// HTTP Request Metrics
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

		// WebSocket Metrics
		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket events",
				ConstLabels: labels,
			},
			[]string{"event", "direction"},
		),

		// Call Metrics
		callsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_started_total",
				Help:        "Total number of call sessions created",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		callsEndedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_ended_total",
				Help:        "Total number of call sessions reaching a terminal status",
				ConstLabels: labels,
			},
			[]string{"status", "reason"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of live calls seen by this process",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Call duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 18000},
			},
			[]string{"status"},
		),
		callErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_errors_total",
				Help:        "Total number of call operations rejected, by error code",
				ConstLabels: labels,
			},
			[]string{"operation", "code"},
		),

		// Signaling Metrics
		signalsRelayedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signals_relayed_total",
				Help:        "Total number of WebRTC signals forwarded",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		signalsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signals_rejected_total",
				Help:        "Total number of WebRTC signals rejected",
				ConstLabels: labels,
			},
			[]string{"code"},
		),

		turnCredentialsIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "turn_credentials_issued_total",
				Help:        "Total number of relay credential sets minted",
				ConstLabels: labels,
			},
		),

		// Reaper Metrics
		reaperRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_reaper_runs_total",
				Help:        "Total number of zombie call sweeps",
				ConstLabels: labels,
			},
		),
		reaperCleanedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_reaper_cleaned_total",
				Help:        "Total number of abandoned calls force-closed",
				ConstLabels: labels,
			},
		),
		reaperErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_reaper_errors_total",
				Help:        "Total number of sessions the reaper failed to close",
				ConstLabels: labels,
			},
		),

		// Rate Limiting Metrics
		rateLimitBlockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_blocked_total",
				Help:        "Total number of requests blocked by rate limiting",
				ConstLabels: labels,
			},
			[]string{"operation"},
		),
		rateLimitWindows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "rate_limit_windows",
				Help:        "Number of rate limit windows held in memory",
				ConstLabels: labels,
			},
		),

		// Dependency Metrics
		redisDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "redis_degraded_mode",
				Help:        "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
				ConstLabels: labels,
			},
		),
		redisHealthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "redis_health_check_total",
				Help:        "Total number of Redis health checks",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "circuit_breaker_state",
				Help:        "State of a circuit breaker (0=closed, 1=half_open, 2=open)",
				ConstLabels: labels,
			},
			[]string{"name"},
		),
		breakerRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "circuit_breaker_rejected_total",
				Help:        "Total number of calls rejected by an open circuit breaker",
				ConstLabels: labels,
			},
			[]string{"name"},
		),
	}

	return m
}

// GetRegistry returns the registry backing these metrics
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// WebSocket Metrics Methods

// SetWebSocketConnections sets the number of active WebSocket connections
func (m *Metrics) SetWebSocketConnections(count int) {
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records an inbound or outbound event
func (m *Metrics) RecordWebSocketMessage(event, direction string) {
	m.websocketMessagesTotal.WithLabelValues(event, direction).Inc()
}

// Call Metrics Methods

// RecordCallStarted records a new call session
func (m *Metrics) RecordCallStarted(callType string) {
	m.callsStartedTotal.WithLabelValues(callType).Inc()
	m.callsActive.Inc()
}

// RecordCallEnded records a terminal transition and its duration
func (m *Metrics) RecordCallEnded(status, reason string, duration time.Duration) {
	m.callsEndedTotal.WithLabelValues(status, reason).Inc()
	m.callsDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.callsActive.Dec()
}

// RecordCallError records a rejected call operation
func (m *Metrics) RecordCallError(operation, code string) {
	m.callErrorsTotal.WithLabelValues(operation, code).Inc()
}

// Signaling Metrics Methods

// RecordSignalRelayed records a forwarded signal
func (m *Metrics) RecordSignalRelayed(signalType string) {
	m.signalsRelayedTotal.WithLabelValues(signalType).Inc()
}

// RecordSignalRejected records a dropped signal
func (m *Metrics) RecordSignalRejected(code string) {
	m.signalsRejectedTotal.WithLabelValues(code).Inc()
}

// RecordCredentialsIssued records a freshly minted relay credential set
func (m *Metrics) RecordCredentialsIssued() {
	m.turnCredentialsIssued.Inc()
}

// Reaper Metrics Methods

// RecordReaperRun records the outcome of one sweep
func (m *Metrics) RecordReaperRun(cleaned, errors int) {
	m.reaperRunsTotal.Inc()
	m.reaperCleanedTotal.Add(float64(cleaned))
	m.reaperErrorsTotal.Add(float64(errors))
}

// Rate Limiting Metrics Methods

// RecordRateLimitBlocked records a request blocked by rate limiting
func (m *Metrics) RecordRateLimitBlocked(operation string) {
	m.rateLimitBlockedTotal.WithLabelValues(operation).Inc()
}

// SetRateLimitWindows sets the number of windows the limiter holds
func (m *Metrics) SetRateLimitWindows(count int) {
	m.rateLimitWindows.Set(float64(count))
}

// Dependency Metrics Methods

// RecordRedisHealthCheck records one Redis ping and the resulting mode
func (m *Metrics) RecordRedisHealthCheck(healthy bool) {
	if healthy {
		m.redisHealthChecks.WithLabelValues("ok").Inc()
		m.redisDegraded.Set(0)
		return
	}
	m.redisHealthChecks.WithLabelValues("failed").Inc()
	m.redisDegraded.Set(1)
}

// SetCircuitBreakerState records a breaker's state (0=closed, 1=half_open, 2=open)
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerRejected records a call short-circuited by an open breaker
func (m *Metrics) RecordCircuitBreakerRejected(name string) {
	m.breakerRejected.WithLabelValues(name).Inc()
}
