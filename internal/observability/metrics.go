// Package observability holds the Prometheus metrics of the annotator.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Item outcomes recorded by ItemsProcessed.
const (
	OutcomeDone    = "done"
	OutcomeMissing = "missing"
	OutcomeFailed  = "failed"
)

var (
	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotator",
		Name:      "items_processed_total",
		Help:      "Items whose stage flag was set, by outcome",
	}, []string{"stage", "outcome"})

	TagsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotator",
		Name:      "tags_inserted_total",
		Help:      "Tags inserted by the pipeline",
	}, []string{"source"})

	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "annotator",
		Name:      "batch_duration_seconds",
		Help:      "Duration of one stage batch",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	AnalyzerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "annotator",
		Name:      "analyzer_duration_seconds",
		Help:      "Duration of analyzer calls per item",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	PendingItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "annotator",
		Name:      "pending_items",
		Help:      "Items waiting for a stage at the start of a run",
	}, []string{"stage"})

	IdentitiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "annotator",
		Name:      "identities_created_total",
		Help:      "Identities created by the resolver",
	})

	IdentitiesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "annotator",
		Name:      "identities_matched_total",
		Help:      "Faces resolved to an existing identity",
	})

	IdentitiesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "annotator",
		Name:      "identities_merged_total",
		Help:      "Source identities removed by merges",
	})

	SearchRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "annotator",
		Name:      "search_rebuilds_total",
		Help:      "Semantic search cache rebuilds",
	})

	SearchCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "annotator",
		Name:      "search_cache_items",
		Help:      "Item embeddings held by the search cache",
	})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "annotator",
		Name:      "search_duration_seconds",
		Help:      "Semantic search latency, rebuilds included",
		Buckets:   prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "annotator",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
