package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signalmax_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
	}, []string{"breaker"})
	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalmax_breaker_rejected_total",
		Help: "Calls rejected by an open circuit breaker.",
	}, []string{"breaker"})
)

func recordState(name string, s State) {
	breakerState.WithLabelValues(name).Set(float64(s))
}

func recordRejected(name string) {
	breakerRejected.WithLabelValues(name).Inc()
}
