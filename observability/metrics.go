package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records RPC and engine activity for the synth module.
type EngineMetrics struct {
	requests     *prometheus.CounterVec
	errors       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations prometheus.Counter
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// Metrics returns the lazily-initialised metrics registry used to record
// synth RPC activity.
func Metrics() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synth",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synth",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "synth",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "synth",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Count of successfully executed liquidations.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.requests,
			engineRegistry.errors,
			engineRegistry.latency,
			engineRegistry.liquidations,
		)
	})
	return engineRegistry
}

// Observe records the outcome of an RPC request.
func (m *EngineMetrics) Observe(method string, errCode string, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if errCode != "" {
		outcome = "error"
		m.errors.WithLabelValues(method, errCode).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(took.Seconds())
}

// ObserveLiquidation increments the liquidation counter.
func (m *EngineMetrics) ObserveLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}
