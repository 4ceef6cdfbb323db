package monitor

import (
	"context"

	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/metrics"
	"github.com/felipepmaragno/llmbridge/internal/provider"
	"github.com/felipepmaragno/llmbridge/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Provider records every Chat and ChatStream of the wrapped provider in a
// Monitor, in Prometheus and as a span. A stream is recorded when it ends or
// is closed.
type Provider struct {
	provider.Provider
	monitor *Monitor
}

func NewProvider(inner provider.Provider, m *Monitor) *Provider {
	return &Provider{Provider: inner, monitor: m}
}

// Unwrap returns the wrapped provider.
func (p *Provider) Unwrap() provider.Provider {
	return p.Provider
}

func (p *Provider) Chat(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	requestID := p.monitor.StartRequest(p.ID(), req.Model)
	ctx, span := telemetry.StartSpan(ctx, "provider.chat")
	telemetry.AddRequestAttributes(span, p.ID(), req.Model, requestID)

	resp, err := p.Provider.Chat(ctx, req)

	var usage *domain.Usage
	if resp != nil {
		usage = resp.Usage
	}
	p.end(span, requestID, req.Model, usage, err)
	return resp, err
}

func (p *Provider) ChatStream(ctx context.Context, req domain.CompletionRequest) (*provider.Stream, error) {
	requestID := p.monitor.StartRequest(p.ID(), req.Model)
	ctx, span := telemetry.StartSpan(ctx, "provider.chat_stream")
	telemetry.AddRequestAttributes(span, p.ID(), req.Model, requestID)

	stream, err := p.Provider.ChatStream(ctx, req)
	if err != nil {
		p.end(span, requestID, req.Model, nil, err)
		return nil, err
	}

	stream.OnClose(func(err error) {
		p.end(span, requestID, req.Model, stream.Usage(), err)
	})
	return stream, nil
}

func (p *Provider) end(span trace.Span, requestID, model string, usage *domain.Usage, err error) {
	defer span.End()

	tokens := 0
	if usage != nil {
		tokens = usage.TotalTokens
		telemetry.AddTokenAttributes(span, usage.PromptTokens, usage.CompletionTokens)
		metrics.RecordTokens(p.ID(), model, usage.PromptTokens, usage.CompletionTokens)
	}
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
	}

	status := StatusOf(err)
	metric, ok := p.monitor.EndRequest(requestID, status, tokens, err)
	if ok {
		metrics.RecordRequest(p.ID(), model, string(status), metric.Duration.Seconds())
	}
}
