package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/provider"
	"github.com/felipepmaragno/llmbridge/internal/provider/anthropic"
	"github.com/felipepmaragno/llmbridge/internal/provider/gemini"
	"github.com/felipepmaragno/llmbridge/internal/provider/openai"
)

const (
	TargetOpenAI    = "openai"
	TargetAnthropic = "anthropic"
	TargetGemini    = "gemini"
)

// Targets are the vendor-style adapters an Aggregator dispatches to.
type Targets struct {
	OpenAI    provider.Provider
	Anthropic provider.Provider
	Gemini    provider.Provider
}

// Aggregator fronts a multi-vendor host. Each call picks its target from the
// model name alone, so concurrent calls never share routing state.
type Aggregator struct {
	*provider.Base
	targets Targets
}

// NewAggregator points one adapter of each style at its path under the
// aggregator host: /v1 for OpenAI and Anthropic, /gemini/v1beta for Gemini.
// All three share the aggregator's catalog entry and ID.
func NewAggregator(cfg domain.ProviderConfig, opts domain.ProviderOptions) *Aggregator {
	base := provider.NewBase(cfg, opts)
	host := base.BaseURL()

	sub := func(path string) domain.ProviderConfig {
		c := cfg
		c.BaseURL = host + path
		return c
	}
	subOpts := opts
	subOpts.BaseURL = ""

	return &Aggregator{
		Base: base,
		targets: Targets{
			OpenAI:    openai.New(sub("/v1"), subOpts),
			Anthropic: anthropic.New(sub("/v1"), subOpts),
			Gemini:    gemini.New(sub("/gemini/v1beta"), subOpts),
		},
	}
}

// NewAggregatorWithTargets uses caller-supplied adapters.
func NewAggregatorWithTargets(cfg domain.ProviderConfig, opts domain.ProviderOptions, targets Targets) *Aggregator {
	return &Aggregator{
		Base:    provider.NewBase(cfg, opts),
		targets: targets,
	}
}

// Route returns the target for a model: claude* to Anthropic, gemini* to
// Gemini, anything else to OpenAI.
func (a *Aggregator) Route(model string) provider.Provider {
	_, p := a.route(model)
	return p
}

func (a *Aggregator) route(model string) (string, provider.Provider) {
	switch {
	case strings.HasPrefix(model, "claude"):
		return TargetAnthropic, a.targets.Anthropic
	case strings.HasPrefix(model, "gemini"):
		return TargetGemini, a.targets.Gemini
	default:
		return TargetOpenAI, a.targets.OpenAI
	}
}

func (a *Aggregator) Chat(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	target, p := a.route(req.Model)
	slog.Debug("routing request", "provider", a.ID(), "model", req.Model, "target", target)
	return p.Chat(ctx, req)
}

func (a *Aggregator) ChatStream(ctx context.Context, req domain.CompletionRequest) (*provider.Stream, error) {
	target, p := a.route(req.Model)
	slog.Debug("routing stream", "provider", a.ID(), "model", req.Model, "target", target)
	return p.ChatStream(ctx, req)
}

func (a *Aggregator) TestConnection(ctx context.Context, model string) (bool, error) {
	if model == "" {
		model = a.DefaultModel()
	}
	return a.Route(model).TestConnection(ctx, model)
}
