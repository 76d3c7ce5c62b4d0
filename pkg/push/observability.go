package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_push_sends_total",
			Help: "Total number of gateway sends by gateway and outcome",
		},
		[]string{"gateway", "outcome"},
	)

	pushTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_push_tokens_total",
			Help: "Total number of device tokens by delivery outcome",
		},
		[]string{"outcome"},
	)

	pushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalmax_push_batch_tokens",
			Help:    "Number of tokens passed to one gateway send",
			Buckets: []float64{1, 10, 50, 100, 250, 500},
		},
	)
)

func recordSend(gateway, outcome string, tokens int) {
	pushSendsTotal.WithLabelValues(gateway, outcome).Inc()
	if tokens > 0 {
		pushBatchSize.Observe(float64(tokens))
	}
}

func recordTokens(rep Report) {
	pushTokensTotal.WithLabelValues("success").Add(float64(rep.SuccessCount))
	pushTokensTotal.WithLabelValues("failure").Add(float64(rep.FailureCount))
}
