package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CapturesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "captures_processed_total",
		Help:      "Total number of queued captures processed by workers",
	}, []string{"kind", "status"})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "recognitions_total",
		Help:      "Identity resolutions by outcome",
	}, []string{"outcome"})

	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "visage",
		Name:      "match_distance",
		Help:      "L2 distance to the nearest stored embedding",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 15),
	})

	IdentitiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "identities_created_total",
		Help:      "Total number of identities registered",
	})

	Rematches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "rematches_total",
		Help:      "Total number of confirmed re-matches of a known identity",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "visage",
		Name:      "stage_duration_seconds",
		Help:      "Duration of extraction, resolution and registration stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	IndexSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "visage",
		Name:      "index_size",
		Help:      "Number of live embeddings held by the in-process index",
	}, []string{"kind"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "visage",
		Name:      "queue_depth",
		Help:      "Number of pending capture tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "visage",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "visage",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
