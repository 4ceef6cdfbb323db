// Package ollama adapts a local Ollama daemon's /api/chat endpoint.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
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
		Base: provider.NewBase(cfg, opts, classify.OllamaMessages),
	}
}

func (p *Provider) Chat(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if err := p.Prepare(req); err != nil {
		return nil, err
	}

	resp, err := p.PostJSON(ctx, p.BaseURL()+"/chat", p.Headers(), toOllamaRequest(req, false))
	if err != nil {
		return nil, err
	}

	var ollamaResp ollamaChatResponse
	if err := p.DecodeJSON(resp, &ollamaResp); err != nil {
		return nil, err
	}

	return toCompletionResponse(ollamaResp, req.Model), nil
}

func (p *Provider) ChatStream(ctx context.Context, req domain.CompletionRequest) (*provider.Stream, error) {
	if err := p.Prepare(req); err != nil {
		return nil, err
	}

	resp, err := p.StreamJSON(ctx, p.BaseURL()+"/chat", p.Headers(), toOllamaRequest(req, true))
	if err != nil {
		return nil, err
	}

	return p.NewStream(resp, decodeStream(p.ID(), req.Model, "chatcmpl-"+uuid.NewString())), nil
}

// TestConnection first checks that the daemon answers and the model is pulled,
// then sends a one-token chat.
func (p *Provider) TestConnection(ctx context.Context, model string) (bool, error) {
	if model == "" {
		model = p.DefaultModel()
	}
	if model == "" {
		return false, p.NoTestModelError()
	}

	installed, err := p.InstalledModels(ctx)
	if err != nil {
		return false, p.ConnectionError(err)
	}
	if !hasModel(installed, model) {
		return false, p.ConnectionError(domain.NewProviderError(p.ID(), domain.CodeModelNotFound,
			fmt.Sprintf("model %s is not installed, run `ollama pull %s`", model, model)))
	}

	return p.ProbeConnection(ctx, model, p.Chat)
}

// InstalledModels lists the models the daemon has pulled.
func (p *Provider) InstalledModels(ctx context.Context) ([]string, error) {
	resp, err := p.Get(ctx, p.BaseURL()+"/tags", p.Headers())
	if err != nil {
		return nil, err
	}

	var tagsResp ollamaTagsResponse
	if err := p.DecodeJSON(resp, &tagsResp); err != nil {
		return nil, err
	}

	names := make([]string, len(tagsResp.Models))
	for i, m := range tagsResp.Models {
		names[i] = m.Name
	}
	return names, nil
}

// hasModel treats "llama3" and "llama3:latest" as the same model.
func hasModel(installed []string, model string) bool {
	return slices.ContainsFunc(installed, func(name string) bool {
		return name == model ||
			name == model+":latest" ||
			strings.TrimSuffix(name, ":latest") == model
	})
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
	Tools    []domain.Tool   `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	CreatedAt       time.Time     `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []ollamaModel `json:"models"`
}

type ollamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
}

func toOllamaRequest(req domain.CompletionRequest, stream bool) ollamaChatRequest {
	messages := make([]ollamaMessage, len(req.Messages))
	for i, m := range req.Messages {
		msg := ollamaMessage{
			Role:    m.Role,
			Content: m.Content.String(),
		}
		for _, part := range m.Content.Parts {
			if part.ImageURL == nil {
				continue
			}
			if _, data, ok := strings.Cut(part.ImageURL.URL, ";base64,"); ok {
				msg.Images = append(msg.Images, data)
			}
		}
		for _, tc := range m.ToolCalls {
			args := json.RawMessage(tc.Function.Arguments)
			if !json.Valid(args) {
				args = json.RawMessage(`{}`)
			}
			msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
				Function: ollamaFunction{Name: tc.Function.Name, Arguments: args},
			})
		}
		messages[i] = msg
	}

	ollamaReq := ollamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   stream,
		Tools:    req.Tools,
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil {
		ollamaReq.Options = &ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			TopP:        req.TopP,
		}
	}

	return ollamaReq
}

func toCompletionResponse(resp ollamaChatResponse, model string) *domain.CompletionResponse {
	created := resp.CreatedAt.Unix()
	if resp.CreatedAt.IsZero() {
		created = time.Now().Unix()
	}
	if resp.Model != "" {
		model = resp.Model
	}

	calls := toToolCalls(resp.Message.ToolCalls, false)
	finish := mapDoneReason(resp.DoneReason)
	if len(calls) > 0 {
		finish = domain.FinishToolCalls
	}

	role := resp.Message.Role
	if role == "" {
		role = domain.RoleAssistant
	}

	return &domain.CompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  domain.ObjectCompletion,
		Created: created,
		Model:   model,
		Choices: []domain.Choice{
			{
				Index: 0,
				Message: &domain.ChatMessage{
					Role:      role,
					Content:   domain.TextContent(resp.Message.Content),
					ToolCalls: calls,
				},
				FinishReason: finish,
			},
		},
		Usage: &domain.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
}

func toToolCalls(calls []ollamaToolCall, indexed bool) []domain.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, len(calls))
	for i, c := range calls {
		args := string(c.Function.Arguments)
		if args == "" || args == "null" {
			args = "{}"
		}
		out[i] = domain.ToolCall{
			ID:       "call_" + uuid.NewString(),
			Type:     "function",
			Function: domain.FunctionCall{Name: c.Function.Name, Arguments: args},
		}
		if indexed {
			idx := i
			out[i].Index = &idx
		}
	}
	return out
}

func mapDoneReason(reason string) string {
	switch reason {
	case "", "stop":
		return domain.FinishStop
	case "length":
		return domain.FinishLength
	default:
		return reason
	}
}

// decodeStream reads NDJSON; the object with "done": true is the last chunk.
func decodeStream(providerID, model, id string) provider.DecodeFunc {
	return func(line []byte) (*domain.CompletionResponse, bool, error) {
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, false, err
		}
		if chunk.Error != "" {
			return nil, false, classify.New(providerID, classify.OllamaMessages).Classify(classify.Failure{Message: chunk.Error})
		}

		created := chunk.CreatedAt.Unix()
		if chunk.CreatedAt.IsZero() {
			created = time.Now().Unix()
		}

		out := &domain.CompletionResponse{
			ID:      id,
			Object:  domain.ObjectChunk,
			Created: created,
			Model:   model,
			Choices: []domain.Choice{
				{
					Index: 0,
					Delta: &domain.Delta{
						Content:   chunk.Message.Content,
						ToolCalls: toToolCalls(chunk.Message.ToolCalls, true),
					},
				},
			},
		}

		if chunk.Done {
			out.Choices[0].FinishReason = mapDoneReason(chunk.DoneReason)
			out.Usage = &domain.Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}
		}
		return out, chunk.Done, nil
	}
}
