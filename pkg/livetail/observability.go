package livetail

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	livetailMergedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_livetail_events_total",
			Help: "Total number of subscription events by merge action",
		},
		[]string{"collection", "action"},
	)

	livetailDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_livetail_subscription_drops_total",
			Help: "Total number of live-tail subscriptions that failed to open or dropped",
		},
		[]string{"collection"},
	)
)

func recordMerge(collection, action string) {
	livetailMergedTotal.WithLabelValues(metricCollection(collection), action).Inc()
}

func recordDrop(collection string) {
	livetailDropsTotal.WithLabelValues(metricCollection(collection)).Inc()
}

func metricCollection(collection string) string {
	if i := strings.IndexByte(collection, '/'); i >= 0 {
		collection = collection[:i]
	}
	if collection == "" {
		return "unknown"
	}
	return collection
}
