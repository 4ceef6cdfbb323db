package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/metrics"
	"github.com/felipepmaragno/llmbridge/internal/provider"
	"github.com/felipepmaragno/llmbridge/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Provider serves Chat from a Cache. ChatStream and the metadata methods go
// straight to the wrapped provider.
type Provider struct {
	provider.Provider
	cache Cache
	ttl   time.Duration
}

func NewProvider(inner provider.Provider, c Cache, ttl time.Duration) *Provider {
	return &Provider{Provider: inner, cache: c, ttl: ttl}
}

// Unwrap returns the wrapped provider.
func (p *Provider) Unwrap() provider.Provider {
	return p.Provider
}

// Key scopes the request fingerprint to the wrapped provider, so providers
// sharing one Cache never answer with each other's completions.
func (p *Provider) Key(req domain.CompletionRequest) string {
	return p.ID() + ":" + GenerateCacheKey(req)
}

func (p *Provider) Chat(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	key := p.Key(req)
	span := trace.SpanFromContext(ctx)

	if cached, ok := p.cache.Get(ctx, key); ok {
		telemetry.AddCacheAttribute(span, true)
		metrics.RecordCacheHit(p.ID())
		slog.Debug("cache hit", "provider", p.ID(), "model", req.Model)
		resp := *cached
		return &resp, nil
	}
	telemetry.AddCacheAttribute(span, false)
	metrics.RecordCacheMiss(p.ID())

	resp, err := p.Provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := p.cache.Set(ctx, key, resp, p.ttl); err != nil {
		slog.Warn("cache write failed", "provider", p.ID(), "error", err)
	}
	return resp, nil
}
