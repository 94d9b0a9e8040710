// Package metrics exposes the daemon's Prometheus instrumentation:
// worker-pool gauges, overflow-queue depth, and per-tool dispatch
// counters. Grounded on pgollucci-loom's internal/metrics package —
// a promauto-built struct of vectors — but registered against a private
// *prometheus.Registry instead of the default global one, so multiple
// Engines (as in tests) never collide on metric names.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the daemon records to.
type Metrics struct {
	registry *prometheus.Registry

	WorkersByStatus *prometheus.GaugeVec
	QueueDepth      prometheus.Gauge
	ToolCalls       *prometheus.CounterVec
	ToolErrors      *prometheus.CounterVec
	BTCallDuration  *prometheus.HistogramVec
}

// New builds a Metrics bound to its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		WorkersByStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "busd_workers",
			Help: "Number of registered workers by status.",
		}, []string{"status"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "busd_queue_depth",
			Help: "Current length of the overflow task queue.",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "busd_tool_calls_total",
			Help: "Total wire-protocol tool invocations by tool name.",
		}, []string{"tool"}),
		ToolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "busd_tool_errors_total",
			Help: "Total tool invocations that returned a logical error.",
		}, []string{"tool"}),
		BTCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "busd_bt_call_duration_seconds",
			Help:    "Duration of bead-tracker subprocess calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"op"}),
	}
}

// Handler returns the promhttp handler serving this registry's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordToolCall increments the call counter for tool, and the error
// counter too if the handler reported a logical error.
func (m *Metrics) RecordToolCall(tool string, failed bool) {
	m.ToolCalls.WithLabelValues(tool).Inc()
	if failed {
		m.ToolErrors.WithLabelValues(tool).Inc()
	}
}

// SetWorkerCounts overwrites the worker-by-status gauge vector.
func (m *Metrics) SetWorkerCounts(idle, polling, pending, executing int) {
	m.WorkersByStatus.WithLabelValues("idle").Set(float64(idle))
	m.WorkersByStatus.WithLabelValues("polling").Set(float64(polling))
	m.WorkersByStatus.WithLabelValues("pending").Set(float64(pending))
	m.WorkersByStatus.WithLabelValues("executing").Set(float64(executing))
}

// SetQueueDepth overwrites the overflow-queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// ObserveBTCall records the duration of a bead-tracker call for op.
func (m *Metrics) ObserveBTCall(op string, seconds float64) {
	m.BTCallDuration.WithLabelValues(op).Observe(seconds)
}
