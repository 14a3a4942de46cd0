package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CheckoutMetrics counts checkout outcomes and tracks how long the state
// machine takes end to end, payment wait included.
type CheckoutMetrics struct {
	Checkouts    *prometheus.CounterVec
	LatencyMS    *prometheus.HistogramVec
	QueueDepth   prometheus.Gauge
	RepairsTotal *prometheus.CounterVec
}

func NewCheckoutMetrics(service string) *CheckoutMetrics {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos",
		Subsystem: service,
		Name:      "checkouts_total",
		Help:      "Checkout attempts by terminal result.",
	}, []string{"result"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pos",
		Subsystem: service,
		Name:      "checkout_duration_ms",
		Help:      "Checkout latency in milliseconds, gateway wait included.",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	}, []string{"method"})
	depth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pos",
		Subsystem: service,
		Name:      "reconciliation_unresolved",
		Help:      "Unresolved reconciliation queue items.",
	})
	repairs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pos",
		Subsystem: service,
		Name:      "reconciliation_repairs_total",
		Help:      "Reconciliation repairs by kind and outcome.",
	}, []string{"kind", "outcome"})

	prometheus.MustRegister(checkouts, latency, depth, repairs)
	return &CheckoutMetrics{Checkouts: checkouts, LatencyMS: latency, QueueDepth: depth, RepairsTotal: repairs}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
