// Package metrics exposes settlement counters to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	calls        *prometheus.CounterVec
	orders       *prometheus.CounterVec
	transfers    prometheus.Counter
	matchSeconds prometheus.Histogram
	requestFees  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luckyswap",
			Name:      "calls_total",
			Help:      "Engine calls by operation and result.",
		}, []string{"op", "result"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luckyswap",
			Name:      "orders_total",
			Help:      "Orders seen by match, by outcome.",
		}, []string{"outcome"}),
		transfers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luckyswap",
			Name:      "transfers_total",
			Help:      "Ledger transfers executed.",
		}),
		matchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "luckyswap",
			Name:      "match_duration_seconds",
			Help:      "Wall time of match calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		requestFees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luckyswap",
			Name:      "match_requests_total",
			Help:      "Paid match requests accepted by the fee desk.",
		}),
	}
	m.registry.MustRegister(m.calls, m.orders, m.transfers, m.matchSeconds, m.requestFees)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Call records one engine call; a nil err counts as ok.
func (m *Metrics) Call(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.calls.WithLabelValues(op, result).Inc()
}

// Orders records how many orders of a match filled and how many drew unlucky.
func (m *Metrics) Orders(filled, unlucky int) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues("filled").Add(float64(filled))
	m.orders.WithLabelValues("unlucky").Add(float64(unlucky))
}

func (m *Metrics) Transfers(n int) {
	if m == nil {
		return
	}
	m.transfers.Add(float64(n))
}

func (m *Metrics) MatchDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.matchSeconds.Observe(d.Seconds())
}

func (m *Metrics) MatchRequested() {
	if m == nil {
		return
	}
	m.requestFees.Inc()
}
