package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutSessionTotal counts checkout session creation outcomes per offering.
	CheckoutSessionTotal *prometheus.CounterVec
	// ProviderAttemptTotal counts individual provider call attempts.
	ProviderAttemptTotal *prometheus.CounterVec
	// ProviderCallLatency records provider call latency in milliseconds.
	ProviderCallLatency *prometheus.HistogramVec
	// IdempotentReplayTotal counts requests served from the idempotency store.
	IdempotentReplayTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_session_total",
			Help:      "Count of checkout session creation outcomes.",
		}, []string{"offering", "result"})
		ProviderAttemptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempt_total",
			Help:      "Count of payment provider call attempts by outcome.",
		}, []string{"result"})
		ProviderCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_ms",
			Help:      "Latency of payment provider calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"result"})
		IdempotentReplayTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_replay_total",
			Help:      "Count of checkout requests answered from the idempotency store.",
		})

		reg.MustRegister(CheckoutSessionTotal, ProviderAttemptTotal, ProviderCallLatency, IdempotentReplayTotal)
	})
}
