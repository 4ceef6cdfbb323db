// Package provider defines the contract every vendor adapter implements and
// the shared pieces adapters are built from.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/felipepmaragno/llmbridge/internal/classify"
	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/httputil"
	"github.com/felipepmaragno/llmbridge/internal/validation"
)

// Provider is a vendor adapter. Every error it returns is a *domain.ProviderError.
type Provider interface {
	ID() string
	Chat(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error)
	ChatStream(ctx context.Context, req domain.CompletionRequest) (*Stream, error)
	Models() []domain.ModelCard
	ModelByID(id string) (domain.ModelCard, bool)
	ValidateRequest(req domain.CompletionRequest) bool
	TestConnection(ctx context.Context, model string) (bool, error)
}

// ChatFunc is the signature of Provider.Chat.
type ChatFunc func(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error)

// Base holds the configuration, options and transport of one adapter and
// implements the vendor-agnostic parts of Provider.
type Base struct {
	config    domain.ProviderConfig
	opts      domain.ProviderOptions
	transport *httputil.Transport
}

// NewBase builds the HTTP clients and retrying transport for an adapter. rules
// are vendor error rules tried before the generic classifier.
func NewBase(cfg domain.ProviderConfig, opts domain.ProviderOptions, rules ...classify.Rule) *Base {
	clientCfg := httputil.DefaultConfig()
	if opts.Timeout > 0 {
		clientCfg.Timeout = opts.Timeout
		clientCfg.ResponseHeaderTimeout = opts.Timeout
	}
	clientCfg.Proxy = opts.Proxy

	client, streamClient := opts.HTTPClient, opts.HTTPClient
	if client == nil {
		client = httputil.NewClient(clientCfg)
		streamClient = httputil.NewStreamingClient(clientCfg)
	}

	return &Base{
		config: cfg,
		opts:   opts,
		transport: httputil.NewTransport(
			client,
			httputil.RetryConfigFromOptions(opts.Retry),
			classify.New(cfg.ID, rules...),
			httputil.WithStreamClient(streamClient),
		),
	}
}

func (b *Base) ID() string {
	return b.config.ID
}

func (b *Base) Name() string {
	if b.config.Name != "" {
		return b.config.Name
	}
	return b.config.ID
}

func (b *Base) Config() domain.ProviderConfig {
	return b.config
}

func (b *Base) Options() domain.ProviderOptions {
	return b.opts
}

func (b *Base) Transport() *httputil.Transport {
	return b.transport
}

// BaseURL is the options override or the catalog URL, without a trailing slash.
func (b *Base) BaseURL() string {
	u := b.config.BaseURL
	if b.opts.BaseURL != "" {
		u = b.opts.BaseURL
	}
	return strings.TrimRight(u, "/")
}

func (b *Base) APIVersion() string {
	if b.opts.APIVersion != "" {
		return b.opts.APIVersion
	}
	return b.config.APIVersion
}

func (b *Base) APIKey() string {
	return b.opts.APIKey
}

// Headers merges catalog default headers with option headers; options win.
func (b *Base) Headers() http.Header {
	h := make(http.Header)
	for k, v := range b.config.DefaultHeaders {
		h.Set(k, v)
	}
	for k, v := range b.opts.Headers {
		h.Set(k, v)
	}
	return h
}

func (b *Base) Models() []domain.ModelCard {
	return slices.Clone(b.config.Models)
}

func (b *Base) ModelByID(id string) (domain.ModelCard, bool) {
	return b.config.ModelByID(id)
}

// DefaultModel is the first enabled model in the catalog entry.
func (b *Base) DefaultModel() string {
	for _, m := range b.config.Models {
		if m.IsEnabled() {
			return m.ID
		}
	}
	return ""
}

// ValidateRequest logs every violation and reports whether there were none.
func (b *Base) ValidateRequest(req domain.CompletionRequest) bool {
	violations := validation.Validate(req, b.config.Models)
	for _, v := range violations {
		slog.Warn("request validation failed",
			"provider", b.config.ID,
			"model", req.Model,
			"violation", v.String(),
		)
	}
	return len(violations) == 0
}

// Prepare gates a call: the request must validate and, unless the provider
// needs no auth, an API key must be configured.
func (b *Base) Prepare(req domain.CompletionRequest) error {
	if violations := validation.Validate(req, b.config.Models); len(violations) > 0 {
		msgs := make([]string, len(violations))
		for i, v := range violations {
			msgs[i] = v.String()
		}
		return &domain.ProviderError{
			Message:  "invalid request: " + strings.Join(msgs, "; "),
			Code:     domain.CodeBadRequest,
			Provider: b.config.ID,
			Details:  violations,
			Cause:    domain.ErrInvalidRequest,
		}
	}
	return b.RequireAPIKey()
}

func (b *Base) RequireAPIKey() error {
	if b.config.AuthType == domain.AuthNone || b.opts.APIKey != "" {
		return nil
	}
	return domain.NewProviderError(b.config.ID, domain.CodeAPIKeyMissing,
		fmt.Sprintf("no API key configured for %s", b.Name()))
}

// PostJSON encodes payload and sends it through the retrying transport.
func (b *Base) PostJSON(ctx context.Context, url string, header http.Header, payload any) (*http.Response, error) {
	req, err := b.jsonRequest(url, header, payload)
	if err != nil {
		return nil, err
	}
	return b.transport.Do(ctx, req)
}

// StreamJSON is PostJSON on the streaming client.
func (b *Base) StreamJSON(ctx context.Context, url string, header http.Header, payload any) (*http.Response, error) {
	req, err := b.jsonRequest(url, header, payload)
	if err != nil {
		return nil, err
	}
	return b.transport.Stream(ctx, req)
}

// Get issues a GET through the retrying transport.
func (b *Base) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	return b.transport.Do(ctx, httputil.Request{Method: http.MethodGet, URL: url, Header: header})
}

func (b *Base) jsonRequest(url string, header http.Header, payload any) (httputil.Request, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return httputil.Request{}, &domain.ProviderError{
			Message:  fmt.Sprintf("encode request: %v", err),
			Code:     domain.CodeBadRequest,
			Provider: b.config.ID,
			Cause:    err,
		}
	}
	return httputil.Request{
		Method: http.MethodPost,
		URL:    url,
		Body:   buf.Bytes(),
		Header: header,
	}, nil
}

// DecodeJSON reads a successful response body into v and closes it.
func (b *Base) DecodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		pe := b.transport.Classifier().Classify(classify.Failure{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("decode response: %w", err),
		})
		return pe
	}
	return nil
}

// NewStream wraps a streaming response body.
func (b *Base) NewStream(resp *http.Response, decode DecodeFunc) *Stream {
	return NewStream(b.config.ID, resp.Body, decode, b.transport.Classifier())
}

// NoTestModelError reports a catalog without an enabled model.
func (b *Base) NoTestModelError() error {
	return domain.NewProviderError(b.config.ID, domain.CodeBadRequest,
		fmt.Sprintf("%s has no enabled model to test", b.Name()))
}

// ProbeConnection sends a one-token request through chat. An empty model
// selects DefaultModel. Failures come back as provider-tagged ProviderErrors.
func (b *Base) ProbeConnection(ctx context.Context, model string, chat ChatFunc) (bool, error) {
	if model == "" {
		model = b.DefaultModel()
	}
	if model == "" {
		return false, b.NoTestModelError()
	}

	maxTokens := 1
	_, err := chat(ctx, domain.CompletionRequest{
		Model:     model,
		Messages:  []domain.ChatMessage{{Role: domain.RoleUser, Content: domain.TextContent("Hi")}},
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return false, b.ConnectionError(err)
	}
	return true, nil
}

// ConnectionError rewrites err as a ProviderError whose message names the provider.
func (b *Base) ConnectionError(err error) error {
	pe, ok := domain.AsProviderError(err)
	if !ok {
		pe = b.transport.Classifier().Classify(classify.Failure{Err: err})
	}
	out := *pe
	out.Message = fmt.Sprintf("%s connection test failed: %s", b.Name(), pe.Message)
	return &out
}
