package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	// BreakerState exposes the current breaker state: 0=closed, 0.5=half-open, 1=open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Current breaker state: 0=closed, 0.5=half-open, 1=open",
		},
		[]string{"target"},
	)
	// BreakerOpenedTotal counts times a breaker transitioned into open state.
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_open_total",
			Help: "Number of times a breaker transitioned into open state",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerOpenedTotal)
}

func recordTransition(target string, next State) {
	if next == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(target).Inc()
	}
}
