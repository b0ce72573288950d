package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TranscriptionJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthesis_transcription_jobs_total",
			Help: "Total number of transcription jobs by terminal outcome",
		},
		[]string{"outcome"},
	)

	TranscriptionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synthesis_transcription_duration_seconds",
			Help:    "Time from media upload to transcript or failure",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	CleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthesis_cleanup_failures_total",
			Help: "Total number of staged media objects and provider jobs that could not be deleted",
		},
		[]string{"resource"},
	)

	ModelInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthesis_model_invocations_total",
			Help: "Total number of generation model calls",
		},
		[]string{"operation", "outcome"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "synthesis_model_latency_seconds",
			Help:    "Generation model call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	MalformedResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthesis_malformed_responses_total",
			Help: "Total number of model replies rejected by the structured parser",
		},
		[]string{"kind"},
	)

	DifferentialsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synthesis_differentials_persisted_total",
			Help: "Total number of differentials that passed the persistence filter",
		},
	)

	CitationLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthesis_citation_lookups_total",
			Help: "Total number of knowledge base lookups",
		},
		[]string{"source"},
	)

	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthesis_tasks_processed_total",
			Help: "Total number of queued transcription tasks handled by workers",
		},
		[]string{"status"},
	)
)
