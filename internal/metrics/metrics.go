package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmbridge_requests_total",
			Help: "Total number of completion requests processed",
		},
		[]string{"provider", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmbridge_request_duration_seconds",
			Help:    "Completion request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmbridge_tokens_total",
			Help: "Total number of tokens reported by vendors",
		},
		[]string{"provider", "model", "type"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmbridge_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"provider"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmbridge_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmbridge_provider_errors_total",
			Help: "Total number of classified provider errors",
		},
		[]string{"provider", "code"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmbridge_retries_total",
			Help: "Total number of transport retries",
		},
		[]string{"provider", "reason"},
	)

	StreamLinesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmbridge_stream_lines_skipped_total",
			Help: "Malformed stream lines skipped during decoding",
		},
		[]string{"provider"},
	)

	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmbridge_active_streams",
			Help: "Number of open completion streams",
		},
		[]string{"provider"},
	)
)

func RecordRequest(provider, model, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(provider, model, status).Inc()
	RequestDuration.WithLabelValues(provider, model).Observe(durationSec)
}

func RecordTokens(provider, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

func RecordCacheHit(provider string) {
	CacheHits.WithLabelValues(provider).Inc()
}

func RecordCacheMiss(provider string) {
	CacheMisses.WithLabelValues(provider).Inc()
}

func RecordProviderError(provider, code string) {
	ProviderErrors.WithLabelValues(provider, code).Inc()
}

func RecordRetry(provider, reason string) {
	RetriesTotal.WithLabelValues(provider, reason).Inc()
}

func RecordSkippedLine(provider string) {
	StreamLinesSkipped.WithLabelValues(provider).Inc()
}

func IncrementActiveStreams(provider string) {
	ActiveStreams.WithLabelValues(provider).Inc()
}

func DecrementActiveStreams(provider string) {
	ActiveStreams.WithLabelValues(provider).Dec()
}
