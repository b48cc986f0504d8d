// Package telemetry holds the Prometheus instruments the service exports
// about itself on /metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostpulse"

// Metrics groups the service counters and gauges.
type Metrics struct {
	Ticks         prometheus.Counter
	Samples       *prometheus.CounterVec // by kind
	SampleErrors  *prometheus.CounterVec // by kind
	Subscribers   *prometheus.GaugeVec   // by topic
	MessagesSent  *prometheus.CounterVec // by topic
	SendFailures  *prometheus.CounterVec // by topic
	UpgradeErrors prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the instruments on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the instruments on reg; g is what Handler serves.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampler_ticks_total",
			Help:      "Sampler iterations run.",
		}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Snapshots published, by metric kind.",
		}, []string{"kind"}),
		SampleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_errors_total",
			Help:      "Failed source reads, by metric kind. The tick is skipped for that kind.",
		}, []string{"kind"}),
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Streaming connections currently subscribed, by topic.",
		}, []string{"topic"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_sent_total",
			Help:      "Snapshots written to streaming clients, by topic.",
		}, []string{"topic"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_send_failures_total",
			Help:      "Writes that ended a streaming connection, by topic.",
		}, []string{"topic"}),
		UpgradeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_upgrade_errors_total",
			Help:      "Rejected websocket upgrades.",
		}),
		gatherer: g,
	}
	reg.MustRegister(m.Ticks, m.Samples, m.SampleErrors, m.Subscribers, m.MessagesSent, m.SendFailures, m.UpgradeErrors)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
