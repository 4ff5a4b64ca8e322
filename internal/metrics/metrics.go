// Package metrics exposes Prometheus instrumentation for the encode path.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imgembed"

// Metrics holds the process registry and the collectors the service updates.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requests *prometheus.CounterVec
	stages   *prometheus.HistogramVec
	cache    *prometheus.CounterVec
	inflight prometheus.Gauge
}

// New creates a registry with the request, stage and cache collectors.
// Go runtime and process collectors are added when defaultCollectors is set.
func New(defaultCollectors bool) *Metrics {
	registry := prometheus.NewRegistry()
	if defaultCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	m := &Metrics{
		Registry: registry,
		requests: createCounterVec("requests_total", "Encode requests by outcome kind.", []string{"kind"}),
		stages: createHistogramVec("stage_duration_seconds", "Time spent in each encode stage.", []string{"stage"},
			prometheus.ExponentialBuckets(0.0005, 2, 16)),
		cache: createCounterVec("cache_lookups_total", "Embedding cache lookups by result.", []string{"result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_requests",
			Help:      "Encode requests currently holding a concurrency slot.",
		}),
	}
	registry.MustRegister(m.requests, m.stages, m.cache, m.inflight)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts one finished request; kind is "ok" or an error kind.
func (m *Metrics) ObserveRequest(kind string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind).Inc()
}

// ObserveStage records the duration of one pipeline stage in seconds.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage).Observe(seconds)
}

// StageObserver adapts ObserveStage to the pipeline's stage callback.
func (m *Metrics) StageObserver() func(stage string, d time.Duration) {
	return func(stage string, d time.Duration) {
		m.ObserveStage(stage, d.Seconds())
	}
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}

// InflightInc marks a request as admitted.
func (m *Metrics) InflightInc() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// InflightDec marks an admitted request as finished.
func (m *Metrics) InflightDec() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

func createCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func createHistogramVec(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}
