// Package metrics exposes Prometheus metrics for the link cycle and the
// version gate.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"linkgate.ai/internal/sim/link"
)

// Metrics holds the collectors registered on its own registry.
type Metrics struct {
	reg       *prometheus.Registry
	startTime time.Time

	passesTotal   prometheus.Counter
	passDuration  prometheus.Histogram
	candidates    prometheus.Gauge
	changesTotal  *prometheus.CounterVec
	handshakes    *prometheus.CounterVec
	uptimeSeconds prometheus.GaugeFunc
}

// Gauges are live values sampled at scrape time.
type Gauges struct {
	Objects  func() int
	Sessions func() int
	Active   func() int
}

func New(startTime time.Time, g Gauges) *Metrics {
	m := &Metrics{
		reg:       prometheus.NewRegistry(),
		startTime: startTime,
		passesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkgate_passes_total",
			Help: "Completed link passes.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkgate_pass_duration_seconds",
			Help:    "Wall time from the first scan step to the end of resolution.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linkgate_candidates",
			Help: "Candidates collected by the last pass.",
		}),
		changesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkgate_link_changes_total",
			Help: "Link changes by kind.",
		}, []string{"kind"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkgate_handshakes_total",
			Help: "Version handshake outcomes.",
		}, []string{"result"}),
	}
	m.uptimeSeconds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "linkgate_uptime_seconds",
		Help: "Server uptime in seconds.",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	m.reg.MustRegister(
		m.passesTotal,
		m.passDuration,
		m.candidates,
		m.changesTotal,
		m.handshakes,
		m.uptimeSeconds,
		collectors.NewGoCollector(),
	)
	m.gauge("linkgate_objects", "Objects in the store.", g.Objects)
	m.gauge("linkgate_sessions", "Connections tracked by the version gate.", g.Sessions)
	m.gauge("linkgate_peers_active", "Peers with full participation.", g.Active)
	return m
}

func (m *Metrics) gauge(name, help string, fn func() int) {
	if fn == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(fn()) }))
}

// ObservePass implements link.Observer.
func (m *Metrics) ObservePass(r link.PassReport) {
	m.passesTotal.Inc()
	m.passDuration.Observe(r.Stats.Duration.Seconds())
	m.candidates.Set(float64(r.Stats.Candidates))
	for _, c := range r.Changes {
		m.changesTotal.WithLabelValues(string(c.Kind)).Inc()
	}
}

// ObserveHandshake implements gate.Observer.
func (m *Metrics) ObserveHandshake(result string) {
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
