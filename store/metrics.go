package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics mirrors dreamsxin-wal's metrics.go shape one level up: a
// small fixed set of counters/histograms registered once, with a nil
// registerer producing metrics that are counted but never exposed.
type storeMetrics struct {
	insertsAccepted prometheus.Counter
	insertsRejected *prometheus.CounterVec
	queryLatency    prometheus.Histogram
	queryResults    prometheus.Histogram
}

func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	return &storeMetrics{
		insertsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tsstore_inserts_accepted_total",
			Help: "Number of observations accepted by Insert.",
		}),
		insertsRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tsstore_inserts_rejected_total",
			Help: "Number of observations rejected by Insert, by reason.",
		}, []string{"reason"}),
		queryLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "tsstore_query_duration_seconds",
			Help:    "Latency of Query calls.",
			Buckets: prometheus.DefBuckets,
		}),
		queryResults: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "tsstore_query_results",
			Help:    "Number of observations returned per Query call.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}
