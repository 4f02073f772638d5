package lensing

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the simulation counters. A nil *Metrics records nothing.
type Metrics struct {
	spawned       prometheus.Counter
	terminated    *prometheus.CounterVec
	steps         prometheus.Counter
	active        prometheus.Gauge
	frameDuration prometheus.Histogram
	gatherer      prometheus.Gatherer
}

// NewMetrics returns metrics registered on reg. If reg is nil, a new registry is used.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		spawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lensing",
			Name:      "rays_spawned_total",
			Help:      "Total number of rays spawned",
		}),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lensing",
			Name:      "rays_terminated_total",
			Help:      "Total number of rays which were captured or escaped",
		}, []string{"status"}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lensing",
			Name:      "ray_steps_total",
			Help:      "Total number of ray integration steps",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lensing",
			Name:      "rays_active",
			Help:      "Number of rays still integrated",
		}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lensing",
			Name:      "frame_duration_seconds",
			Help:      "Time spent advancing one frame",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.spawned, m.terminated, m.steps, m.active, m.frameDuration)
	return m
}

// Handler returns the HTTP handler exposing these metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ServeMetrics serves the metrics on addr at /metrics. Blocking.
func (m *Metrics) ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

func (m *Metrics) raySpawned() {
	if m == nil {
		return
	}
	m.spawned.Inc()
	m.active.Inc()
}

func (m *Metrics) rayTerminated(s Status) {
	if m == nil {
		return
	}
	m.terminated.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) frameDone(d time.Duration, stepped, active int) {
	if m == nil {
		return
	}
	m.frameDuration.Observe(d.Seconds())
	m.steps.Add(float64(stepped))
	m.active.Set(float64(active))
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}
