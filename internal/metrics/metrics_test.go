package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	// Reset metrics for test isolation
	RequestsTotal.Reset()
	RequestDuration.Reset()

	RecordRequest("openai", "gpt-4o", "success", 1.5)

	count := testutil.ToFloat64(RequestsTotal.WithLabelValues("openai", "gpt-4o", "success"))
	if count != 1 {
		t.Errorf("RequestsTotal = %v, want 1", count)
	}
}

func TestRecordTokens(t *testing.T) {
	TokensTotal.Reset()

	RecordTokens("openai", "gpt-4o", 100, 50)

	inputCount := testutil.ToFloat64(TokensTotal.WithLabelValues("openai", "gpt-4o", "input"))
	if inputCount != 100 {
		t.Errorf("input tokens = %v, want 100", inputCount)
	}

	outputCount := testutil.ToFloat64(TokensTotal.WithLabelValues("openai", "gpt-4o", "output"))
	if outputCount != 50 {
		t.Errorf("output tokens = %v, want 50", outputCount)
	}
}

func TestRecordCacheHitAndMiss(t *testing.T) {
	CacheHits.Reset()
	CacheMisses.Reset()

	RecordCacheHit("anthropic")
	RecordCacheHit("anthropic")
	RecordCacheMiss("anthropic")

	if hits := testutil.ToFloat64(CacheHits.WithLabelValues("anthropic")); hits != 2 {
		t.Errorf("CacheHits = %v, want 2", hits)
	}
	if misses := testutil.ToFloat64(CacheMisses.WithLabelValues("anthropic")); misses != 1 {
		t.Errorf("CacheMisses = %v, want 1", misses)
	}
}

func TestRecordProviderError(t *testing.T) {
	ProviderErrors.Reset()

	RecordProviderError("openai", "TIMEOUT")
	RecordProviderError("openai", "RATE_LIMIT")
	RecordProviderError("openai", "TIMEOUT")

	timeouts := testutil.ToFloat64(ProviderErrors.WithLabelValues("openai", "TIMEOUT"))
	if timeouts != 2 {
		t.Errorf("timeout errors = %v, want 2", timeouts)
	}

	rateLimits := testutil.ToFloat64(ProviderErrors.WithLabelValues("openai", "RATE_LIMIT"))
	if rateLimits != 1 {
		t.Errorf("rate limit errors = %v, want 1", rateLimits)
	}
}

func TestRecordRetry(t *testing.T) {
	RetriesTotal.Reset()

	RecordRetry("gemini", "429")
	RecordRetry("gemini", "network")

	if n := testutil.ToFloat64(RetriesTotal.WithLabelValues("gemini", "429")); n != 1 {
		t.Errorf("retries(429) = %v, want 1", n)
	}
}

func TestActiveStreams(t *testing.T) {
	ActiveStreams.Reset()

	IncrementActiveStreams("ollama")
	IncrementActiveStreams("ollama")

	streams := testutil.ToFloat64(ActiveStreams.WithLabelValues("ollama"))
	if streams != 2 {
		t.Errorf("ActiveStreams = %v, want 2", streams)
	}

	DecrementActiveStreams("ollama")
	streams = testutil.ToFloat64(ActiveStreams.WithLabelValues("ollama"))
	if streams != 1 {
		t.Errorf("ActiveStreams after dec = %v, want 1", streams)
	}
}

func TestMultipleProviders(t *testing.T) {
	RequestsTotal.Reset()

	RecordRequest("openai", "gpt-4o", "success", 1.0)
	RecordRequest("anthropic", "claude-3-opus", "success", 2.0)
	RecordRequest("openai", "gpt-4o", "error", 0.5)

	if n := testutil.ToFloat64(RequestsTotal.WithLabelValues("openai", "gpt-4o", "success")); n != 1 {
		t.Errorf("openai success = %v, want 1", n)
	}
	if n := testutil.ToFloat64(RequestsTotal.WithLabelValues("openai", "gpt-4o", "error")); n != 1 {
		t.Errorf("openai error = %v, want 1", n)
	}
	if n := testutil.ToFloat64(RequestsTotal.WithLabelValues("anthropic", "claude-3-opus", "success")); n != 1 {
		t.Errorf("anthropic success = %v, want 1", n)
	}
}
