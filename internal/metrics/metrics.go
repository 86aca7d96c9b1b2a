// Package metrics exposes Prometheus collectors for the watch, evaluation and
// dispatch pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kw"

type Metrics struct {
	registry *prometheus.Registry

	WatchTasks        prometheus.Gauge
	WatchEvents       *prometheus.CounterVec
	NormalizedDeletes prometheus.Counter
	DecodeErrors      *prometheus.CounterVec
	CellErrors        *prometheus.CounterVec
	CachedResources   *prometheus.GaugeVec
	Signals           *prometheus.CounterVec
	AckTimeouts       prometheus.Counter
	QueueDrops        *prometheus.CounterVec
	DiscoveryRuns     *prometheus.CounterVec
}

// New creates collectors on a private registry that also carries the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WatchTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "reflector", Name: "watch_tasks",
			Help: "Number of live watch tasks.",
		}),
		WatchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reflector", Name: "events_total",
			Help: "Watch events forwarded, by kind and type.",
		}, []string{"kind", "type"}),
		NormalizedDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reflector", Name: "normalized_deletes_total",
			Help: "Deleted events that arrived without a deletion timestamp.",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reflector", Name: "decode_errors_total",
			Help: "Watch events skipped because they could not be decoded.",
		}, []string{"kind"}),
		CellErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "cell_errors_total",
			Help: "Column evaluations that produced an error cell.",
		}, []string{"column"}),
		CachedResources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "cached_resources",
			Help: "Evaluated resources held in the cache, by kind.",
		}, []string{"kind"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "signals_total",
			Help: "Dispatched signals by outcome.",
		}, []string{"outcome"}),
		AckTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "ack_timeouts_total",
			Help: "Renderer callbacks not acknowledged within the timeout.",
		}),
		QueueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "dropped_total",
			Help: "Items discarded by drop-oldest queues.",
		}, []string{"queue"}),
		DiscoveryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "discovery", Name: "runs_total",
			Help: "Discovery refreshes by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.WatchTasks, m.WatchEvents, m.NormalizedDeletes, m.DecodeErrors,
		m.CellErrors, m.CachedResources, m.Signals, m.AckTimeouts,
		m.QueueDrops, m.DiscoveryRuns,
	)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) WatchStarted() {
	if m != nil {
		m.WatchTasks.Inc()
	}
}

func (m *Metrics) WatchStopped() {
	if m != nil {
		m.WatchTasks.Dec()
	}
}

func (m *Metrics) WatchEvent(kind, typ string) {
	if m != nil {
		m.WatchEvents.WithLabelValues(kind, typ).Inc()
	}
}

func (m *Metrics) NormalizedDelete() {
	if m != nil {
		m.NormalizedDeletes.Inc()
	}
}

func (m *Metrics) DecodeError(kind string) {
	if m != nil {
		m.DecodeErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) CellError(column string) {
	if m != nil {
		m.CellErrors.WithLabelValues(column).Inc()
	}
}

func (m *Metrics) SetCached(kind string, n int) {
	if m != nil {
		m.CachedResources.WithLabelValues(kind).Set(float64(n))
	}
}

func (m *Metrics) Signal(outcome string) {
	if m != nil {
		m.Signals.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AckTimeout() {
	if m != nil {
		m.AckTimeouts.Inc()
	}
}

func (m *Metrics) QueueDrop(queue string) {
	if m != nil {
		m.QueueDrops.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) DiscoveryRun(result string) {
	if m != nil {
		m.DiscoveryRuns.WithLabelValues(result).Inc()
	}
}
