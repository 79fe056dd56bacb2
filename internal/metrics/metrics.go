// Package metrics exposes the gateway's Prometheus collectors: request
// counters and latency histograms, circuit state gauges, fallback and
// heal counters, and token totals, all constructed through promauto
// against a caller-supplied registry.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics holds every Prometheus collector the gateway records
// against. All fields are safe for concurrent use.
type GatewayMetrics struct {
	enabled atomic.Bool

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveStreams   prometheus.Gauge
	FallbacksTotal  *prometheus.CounterVec
	CircuitState    *prometheus.GaugeVec
	HealAttempts    *prometheus.CounterVec
	HealSuccesses   *prometheus.CounterVec
	TokensTotal     *prometheus.CounterVec
}

// NewGatewayMetrics registers every collector against registry and
// returns them enabled. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the global default registry across parallel test runs.
func NewGatewayMetrics(registry prometheus.Registerer) *GatewayMetrics {
	factory := promauto.With(registry)

	m := &GatewayMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aratta_gateway_requests_total",
			Help: "Total chat/embed requests, labeled by provider, model, and outcome.",
		}, []string{"provider", "model", "outcome"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aratta_gateway_request_duration_seconds",
			Help:    "Request latency in seconds, labeled by provider and operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aratta_gateway_active_streams",
			Help: "Number of chat streams currently open.",
		}),

		FallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aratta_gateway_fallbacks_total",
			Help: "Total requests that fell back from their resolved provider to another.",
		}, []string{"from_provider", "to_provider"}),

		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aratta_gateway_circuit_state",
			Help: "Circuit breaker state per provider: 0=closed, 1=half_open, 2=open.",
		}, []string{"provider"}),

		HealAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aratta_gateway_heal_attempts_total",
			Help: "Total self-healing pipeline runs, labeled by provider.",
		}, []string{"provider"}),

		HealSuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aratta_gateway_heal_successes_total",
			Help: "Total self-healing pipeline runs that reached a verified fix, labeled by provider.",
		}, []string{"provider"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aratta_gateway_tokens_total",
			Help: "Total tokens consumed, labeled by provider and direction (input/output).",
		}, []string{"provider", "direction"}),
	}
	m.enabled.Store(true)
	return m
}

// RecordRequest records one completed chat/embed request.
func (m *GatewayMetrics) RecordRequest(providerName, model, outcome string, d time.Duration, operation string) {
	if !m.enabled.Load() {
		return
	}
	m.RequestsTotal.WithLabelValues(providerName, model, outcome).Inc()
	m.RequestDuration.WithLabelValues(providerName, operation).Observe(d.Seconds())
}

// RecordFallback records a request that was rerouted from one provider to
// another.
func (m *GatewayMetrics) RecordFallback(from, to string) {
	if !m.enabled.Load() {
		return
	}
	m.FallbacksTotal.WithLabelValues(from, to).Inc()
}

// SetCircuitState mirrors the current breaker state into a gauge so it
// can be graphed alongside request volume.
func (m *GatewayMetrics) SetCircuitState(providerName string, value float64) {
	if !m.enabled.Load() {
		return
	}
	m.CircuitState.WithLabelValues(providerName).Set(value)
}

// RecordHealAttempt records the start of a heal pipeline run.
func (m *GatewayMetrics) RecordHealAttempt(providerName string) {
	if !m.enabled.Load() {
		return
	}
	m.HealAttempts.WithLabelValues(providerName).Inc()
}

// RecordHealSuccess records a heal pipeline run that reached a verified
// fix.
func (m *GatewayMetrics) RecordHealSuccess(providerName string) {
	if !m.enabled.Load() {
		return
	}
	m.HealSuccesses.WithLabelValues(providerName).Inc()
}

// RecordTokens records token usage for one request.
func (m *GatewayMetrics) RecordTokens(providerName string, input, output int) {
	if !m.enabled.Load() {
		return
	}
	m.TokensTotal.WithLabelValues(providerName, "input").Add(float64(input))
	m.TokensTotal.WithLabelValues(providerName, "output").Add(float64(output))
}

// IncActiveStreams/DecActiveStreams track open chat-stream connections.
func (m *GatewayMetrics) IncActiveStreams() {
	if m.enabled.Load() {
		m.ActiveStreams.Inc()
	}
}

func (m *GatewayMetrics) DecActiveStreams() {
	if m.enabled.Load() {
		m.ActiveStreams.Dec()
	}
}

// Disable stops every Record*/Inc*/Dec* call from updating collectors,
// without unregistering them — useful for tests that want metrics wiring
// present but inert.
func (m *GatewayMetrics) Disable() { m.enabled.Store(false) }

// Enable resumes recording after Disable.
func (m *GatewayMetrics) Enable() { m.enabled.Store(true) }
