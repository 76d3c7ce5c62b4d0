package deletion

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deletionBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_deletion_batches_total",
			Help: "Total number of deletion batches by outcome",
		},
		[]string{"collection", "outcome"},
	)

	deletionDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_deletion_documents_total",
			Help: "Total number of documents removed by batched deletion",
		},
		[]string{"collection"},
	)

	deletionCascadesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_deletion_cascades_total",
			Help: "Total number of cascade runs by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	deletionBlobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalmax_deletion_blobs_total",
			Help: "Total number of blob deletions attempted by cascades, by outcome",
		},
		[]string{"outcome"},
	)
)

func recordBatch(collection, outcome string, deleted int) {
	c := metricCollection(collection)
	deletionBatchesTotal.WithLabelValues(c, outcome).Inc()
	if deleted > 0 {
		deletionDocumentsTotal.WithLabelValues(c).Add(float64(deleted))
	}
}

func recordCascade(kind TriggerKind, outcome string) {
	deletionCascadesTotal.WithLabelValues(string(kind), outcome).Inc()
}

func recordBlob(outcome string) {
	deletionBlobsTotal.WithLabelValues(outcome).Inc()
}

// metricCollection reduces "users/u1/notifications" to "users/notifications".
func metricCollection(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "unknown"
	}
	if len(parts) >= 3 {
		return parts[0] + "/" + parts[len(parts)-1]
	}
	return parts[0]
}
