package changefeed

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	changefeedPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_changefeed_events_published_total",
			Help: "Total number of change events published on the bus",
		},
		[]string{"collection", "bus"},
	)

	changefeedDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_changefeed_events_delivered_total",
			Help: "Total number of classified changes delivered to subscribers",
		},
		[]string{"collection", "kind"},
	)

	changefeedPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_changefeed_publish_failures_total",
			Help: "Total number of change events lost after a successful commit",
		},
		[]string{"collection"},
	)

	changefeedDecodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_changefeed_decode_failures_total",
			Help: "Total number of bus payloads that could not be decoded",
		},
		[]string{"collection"},
	)
)

func recordEventPublished(collection, bus string) {
	changefeedPublishedTotal.WithLabelValues(rootCollection(collection), bus).Inc()
}

func recordEventDelivered(collection, kind string) {
	changefeedDeliveredTotal.WithLabelValues(rootCollection(collection), kind).Inc()
}

func recordDecodeFailure(channel string) {
	changefeedDecodeFailuresTotal.WithLabelValues(rootCollection(strings.TrimPrefix(channel, "changes:"))).Inc()
}

func recordPublishFailure(collection string, n int) {
	changefeedPublishFailuresTotal.WithLabelValues(rootCollection(collection)).Add(float64(n))
}
