package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prompt firewall metrics for production monitoring
var (
	// Decision metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptsentinel_decisions_total",
			Help: "Total number of final decisions rendered",
		},
		[]string{"reason"},
	)

	EvaluateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "promptsentinel_evaluate_duration_seconds",
			Help:    "End-to-end prompt evaluation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
	)

	AnomalyScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "promptsentinel_anomaly_score",
			Help:    "Anomaly score distribution (lower = more anomalous)",
			Buckets: prometheus.LinearBuckets(-0.5, 0.05, 20),
		},
	)

	RuleBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptsentinel_rule_blocks_total",
			Help: "Total number of prompts blocked by the rule prefilter",
		},
		[]string{"rule"},
	)

	// Judge metrics
	JudgeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptsentinel_judge_requests_total",
			Help: "Total number of semantic judge invocations",
		},
		[]string{"provider", "status"},
	)

	JudgeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptsentinel_judge_duration_seconds",
			Help:    "Judge round-trip duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider"},
	)

	JudgeCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptsentinel_judge_cache_hits_total",
			Help: "Judge verdicts served from the verdict cache",
		},
	)

	JudgeCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptsentinel_judge_cache_misses_total",
			Help: "Judge invocations that missed the verdict cache",
		},
	)

	// Embedder metrics
	EmbedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptsentinel_embed_requests_total",
			Help: "Total number of embedding service requests",
		},
		[]string{"provider", "status"},
	)

	EmbedDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptsentinel_embed_duration_seconds",
			Help:    "Embedding request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"provider"},
	)

	// Model lifecycle metrics
	ModelFitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptsentinel_model_fits_total",
			Help: "Total number of successful detector model fits",
		},
	)

	ModelReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptsentinel_model_ready",
			Help: "1 when a detector model is published, 0 when unfitted",
		},
	)

	ModelCorpusSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptsentinel_model_corpus_size",
			Help: "Size of the corpus the current model was fitted on",
		},
	)
)
