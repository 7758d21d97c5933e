package search

import (
	"errors"

	"github.com/kalambet/taskpilot/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	searchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_searches_total",
			Help: "Total number of semantic searches by outcome",
		},
		[]string{"outcome"},
	)
	searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskpilot_search_duration_seconds",
			Help:    "Duration of semantic searches in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)
	candidatesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_search_candidates_dropped_total",
			Help: "Candidate tasks excluded from ranking by reason",
		},
		[]string{"reason"},
	)
)

var tracer = otel.Tracer("github.com/kalambet/taskpilot/internal/search")

func init() {
	metrics.Registry.MustRegister(searchesTotal, searchDuration, candidatesDropped)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrEmbeddingFailure):
		return "embedding_failure"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	default:
		return "cancelled"
	}
}
