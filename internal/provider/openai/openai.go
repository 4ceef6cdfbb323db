// Package openai adapts OpenAI-compatible chat completion APIs, including
// SiliconFlow and the OpenAI-style leg of the aggregator.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/felipepmaragno/llmbridge/internal/classify"
	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/provider"
	"github.com/google/uuid"
)

type Provider struct {
	*provider.Base
}

func New(cfg domain.ProviderConfig, opts domain.ProviderOptions) *Provider {
	return &Provider{
		Base: provider.NewBase(cfg, opts, classify.OpenAICodes),
	}
}

func (p *Provider) Chat(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if err := p.Prepare(req); err != nil {
		return nil, err
	}

	req.Stream = false
	resp, err := p.PostJSON(ctx, p.endpoint(), p.headers(false), toChatRequest(req))
	if err != nil {
		return nil, err
	}

	var out domain.CompletionResponse
	if err := p.DecodeJSON(resp, &out); err != nil {
		return nil, err
	}
	normalize(&out, req.Model, domain.ObjectCompletion)

	return &out, nil
}

func (p *Provider) ChatStream(ctx context.Context, req domain.CompletionRequest) (*provider.Stream, error) {
	if err := p.Prepare(req); err != nil {
		return nil, err
	}

	req.Stream = true
	resp, err := p.StreamJSON(ctx, p.endpoint(), p.headers(true), toChatRequest(req))
	if err != nil {
		return nil, err
	}

	return p.NewStream(resp, decodeStream(req.Model)), nil
}

func (p *Provider) TestConnection(ctx context.Context, model string) (bool, error) {
	return p.ProbeConnection(ctx, model, p.Chat)
}

func (p *Provider) endpoint() string {
	return p.BaseURL() + "/chat/completions"
}

func (p *Provider) headers(stream bool) http.Header {
	h := p.Headers()
	if key := p.APIKey(); key != "" {
		h.Set("Authorization", "Bearer "+key)
	}
	if stream {
		h.Set("Accept", "text/event-stream")
	}
	return h
}

type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	TopP        *float64             `json:"top_p,omitempty"`
	MaxTokens   *int                 `json:"max_tokens,omitempty"`
	Stream      bool                 `json:"stream"`
	Tools       []domain.Tool        `json:"tools,omitempty"`
	ToolChoice  any                  `json:"tool_choice,omitempty"`
}

func toChatRequest(req domain.CompletionRequest) chatRequest {
	return chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
	}
}

func decodeStream(model string) provider.DecodeFunc {
	return func(line []byte) (*domain.CompletionResponse, bool, error) {
		data, ok := provider.SSEData(line)
		if !ok || len(data) == 0 {
			return nil, false, nil
		}
		if string(data) == "[DONE]" {
			return nil, true, nil
		}

		var chunk domain.CompletionResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, false, err
		}
		normalize(&chunk, model, domain.ObjectChunk)
		return &chunk, false, nil
	}
}

// normalize fills fields some compatible vendors leave out.
func normalize(r *domain.CompletionResponse, model, object string) {
	if r.ID == "" {
		r.ID = "chatcmpl-" + uuid.NewString()
	}
	if r.Object == "" {
		r.Object = object
	}
	if r.Created == 0 {
		r.Created = time.Now().Unix()
	}
	if r.Model == "" {
		r.Model = model
	}
	if r.Usage != nil && r.Usage.TotalTokens == 0 {
		r.Usage.TotalTokens = r.Usage.PromptTokens + r.Usage.CompletionTokens
	}
}
