// Package metrics exports run and node counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/pkg/schema"
)

const namespace = "lessonflow"

// Metrics is an engine.Observer recording run outcomes and node latencies.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
	nodes        *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	fallbacks    *prometheus.CounterVec
}

var _ engine.Observer = (*Metrics)(nil)

// New creates the collectors on a private registry that also carries the Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished workflow runs by status and walk mode.",
		}, []string{"status", "mode"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of workflow runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"mode"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently walking.",
		}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Node executions by kind and final status.",
		}, []string{"kind", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Handler latency per node kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_fallbacks_total",
			Help:      "AI calls that switched to the search fallback, by failed provider.",
		}, []string{"provider"}),
	}
	m.registry.MustRegister(
		m.runs, m.runDuration, m.activeRuns, m.nodes, m.nodeDuration, m.fallbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchPool exports the dispatch pool counters.
func (m *Metrics) WatchPool(name string, pool func() engine.PoolMetrics) {
	labels := prometheus.Labels{"pool": name}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_active", Help: "Busy dispatch slots.", ConstLabels: labels,
		}, func() float64 { return float64(pool().Active) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_waiting", Help: "Ready nodes blocked on a free slot.", ConstLabels: labels,
		}, func() float64 { return float64(pool().Waiting) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_capacity", Help: "Dispatch slots.", ConstLabels: labels,
		}, func() float64 { return float64(pool().Capacity) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_panics_total", Help: "Handler panics recovered by the pool.", ConstLabels: labels,
		}, func() float64 { return float64(pool().Panics) }),
	)
}

// Circuit state values exported by WatchCircuits.
var circuitStateValue = map[string]float64{"closed": 0, "half_open": 1, "open": 2}

// WatchCircuits exports the AI provider breakers: state as 0 closed,
// 1 half-open, 2 open, and the current failure streak.
func (m *Metrics) WatchCircuits(snapshot func() []actions.CircuitStats) {
	m.registry.MustRegister(&circuitCollector{
		snapshot: snapshot,
		state: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "provider_circuit_state"),
			"AI provider circuit: 0 closed, 1 half-open, 2 open.", []string{"provider"}, nil),
		failures: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "provider_consecutive_failures"),
			"Consecutive failed calls per AI provider.", []string{"provider"}, nil),
	})
}

type circuitCollector struct {
	snapshot func() []actions.CircuitStats
	state    *prometheus.Desc
	failures *prometheus.Desc
}

func (c *circuitCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.failures
}

func (c *circuitCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.snapshot() {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, circuitStateValue[st.State], st.Provider)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(st.ConsecutiveFailures), st.Provider)
	}
}

func (m *Metrics) OnRunStart(context.Context, *engine.Run) {
	m.activeRuns.Inc()
}

func (m *Metrics) OnRecord(_ context.Context, _ *engine.Run, node *schema.Node, rec schema.ExecutionRecord) {
	if !rec.Status.Terminal() {
		return
	}
	kind := "unknown"
	if node != nil {
		kind = string(node.Kind)
	}
	m.nodes.WithLabelValues(kind, string(rec.Status)).Inc()
	if rec.StartedAt != nil && rec.CompletedAt != nil {
		m.nodeDuration.WithLabelValues(kind).Observe(rec.CompletedAt.Sub(*rec.StartedAt).Seconds())
	}
}

func (m *Metrics) OnRunEnd(_ context.Context, run *engine.Run, res *schema.RunResult) {
	m.activeRuns.Dec()
	m.runs.WithLabelValues(string(res.Status), string(run.Mode)).Inc()
	m.runDuration.WithLabelValues(string(run.Mode)).Observe(res.CompletedAt.Sub(res.StartedAt).Seconds())
}

// Fallback counts a provider switch. Its signature matches
// actions.AIOptions.OnFallback.
func (m *Metrics) Fallback(_ context.Context, _ *schema.Node, provider string, _ error) {
	m.fallbacks.WithLabelValues(provider).Inc()
}
