package pagination

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paginationPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_pagination_pages_total",
			Help: "Total number of pages served by direction and outcome",
		},
		[]string{"collection", "direction", "outcome"},
	)

	paginationFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalmax_pagination_fetch_duration_seconds",
			Help:    "Latency of page and lookahead reads against the collection source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "kind"},
	)

	paginationFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_pagination_first_page_fallbacks_total",
			Help: "Total number of navigations that fell back to the first page after an empty page",
		},
		[]string{"collection"},
	)
)

func recordPage(collection, direction, outcome string) {
	paginationPagesTotal.WithLabelValues(metricCollection(collection), direction, outcome).Inc()
}

func observeFetch(collection, kind string, started time.Time) {
	paginationFetchDuration.WithLabelValues(metricCollection(collection), kind).Observe(time.Since(started).Seconds())
}

func recordFallback(collection string) {
	paginationFallbacksTotal.WithLabelValues(metricCollection(collection)).Inc()
}

// metricCollection keeps label cardinality bounded: "users/u1/notifications" -> "users".
func metricCollection(collection string) string {
	collection = strings.TrimSpace(collection)
	if i := strings.IndexByte(collection, '/'); i >= 0 {
		collection = collection[:i]
	}
	if collection == "" {
		return "unknown"
	}
	return collection
}
