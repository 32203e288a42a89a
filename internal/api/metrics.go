package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks swap lifecycle outcomes per pool.
type Metrics struct {
	registry  *prometheus.Registry
	initiated *prometheus.CounterVec
	acked     *prometheus.CounterVec
	timedOut  *prometheus.CounterVec
	redundant *prometheus.CounterVec
	pending   *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		initiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swaps_initiated_total",
			Help: "Swaps escrowed and emitted toward the relay.",
		}, []string{"pool"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swaps_acknowledged_total",
			Help: "Swaps finalized by a relay acknowledgement.",
		}, []string{"pool"}),
		timedOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swaps_timed_out_total",
			Help: "Swaps reversed by a relay timeout.",
		}, []string{"pool"}),
		redundant: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_redundant_resolutions_total",
			Help: "Resolution attempts rejected because the escrow was already retired.",
		}, []string{"pool"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrows_pending",
			Help: "Escrow entries awaiting relay resolution.",
		}, []string{"pool"}),
	}
	registry.MustRegister(m.initiated, m.acked, m.timedOut, m.redundant, m.pending)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
