package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the gateway's Prometheus instruments. A single
// instance is created at startup and shared by handlers, the router,
// and the usage ledger.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TokensTotal     *prometheus.CounterVec
	CostUSDTotal    *prometheus.CounterVec
	ToolCallsTotal  *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	InFlight        prometheus.Gauge
	RateLimited     prometheus.Counter
	LoadShed        *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// New registers all instruments on reg; pass prometheus.DefaultRegisterer
// outside tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prismgate_requests_total",
			Help: "Completed chat requests by provider, model, and status.",
		}, []string{"provider", "model", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prismgate_request_duration_seconds",
			Help:    "End-to-end request latency by provider.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prismgate_tokens_total",
			Help: "Tokens consumed by provider, model, and direction.",
		}, []string{"provider", "model", "direction"}),

		CostUSDTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prismgate_cost_usd_total",
			Help: "Estimated upstream spend in USD by provider and model.",
		}, []string{"provider", "model"}),

		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prismgate_tool_calls_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "prismgate_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half_open, 2=open).",
		}, []string{"provider"}),

		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prismgate_in_flight_requests",
			Help: "Requests currently admitted past the backpressure gate.",
		}),

		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "prismgate_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter.",
		}),

		LoadShed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prismgate_load_shed_total",
			Help: "Requests rejected by the backpressure gate, by reason.",
		}, []string{"reason"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prismgate_active_sessions",
			Help: "Live sessions in the store (in-memory store only).",
		}),
	}
}

// ObserveBreaker maps a state label to the gauge encoding.
func (m *Metrics) ObserveBreaker(provider, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(provider).Set(v)
}
