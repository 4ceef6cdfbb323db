// Package anthropic adapts the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/felipepmaragno/llmbridge/internal/classify"
	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/provider"
)

const (
	defaultAPIVersion = "2023-06-01"
	defaultMaxTokens  = 4096
)

type Provider struct {
	*provider.Base
}

func New(cfg domain.ProviderConfig, opts domain.ProviderOptions) *Provider {
	return &Provider{
		Base: provider.NewBase(cfg, opts, classify.AnthropicTypes),
	}
}

func (p *Provider) Chat(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if err := p.Prepare(req); err != nil {
		return nil, err
	}

	resp, err := p.PostJSON(ctx, p.endpoint(), p.headers(false), toAnthropicRequest(req, false))
	if err != nil {
		return nil, err
	}

	var anthropicResp anthropicResponse
	if err := p.DecodeJSON(resp, &anthropicResp); err != nil {
		return nil, err
	}

	return toCompletionResponse(anthropicResp, req.Model), nil
}

func (p *Provider) ChatStream(ctx context.Context, req domain.CompletionRequest) (*provider.Stream, error) {
	if err := p.Prepare(req); err != nil {
		return nil, err
	}

	resp, err := p.StreamJSON(ctx, p.endpoint(), p.headers(true), toAnthropicRequest(req, true))
	if err != nil {
		return nil, err
	}

	dec := &streamDecoder{provider: p.ID(), model: req.Model, created: time.Now().Unix()}
	return p.NewStream(resp, dec.decode), nil
}

func (p *Provider) TestConnection(ctx context.Context, model string) (bool, error) {
	return p.ProbeConnection(ctx, model, p.Chat)
}

func (p *Provider) endpoint() string {
	return p.BaseURL() + "/messages"
}

func (p *Provider) headers(stream bool) http.Header {
	h := p.Headers()
	h.Set("x-api-key", p.APIKey())
	version := p.APIVersion()
	if version == "" {
		version = defaultAPIVersion
	}
	h.Set("anthropic-version", version)
	if stream {
		h.Set("Accept", "text/event-stream")
	}
	return h
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	ToolChoice  *toolChoice        `json:"tool_choice,omitempty"`
}

// anthropicMessage content is either a string or a list of contentBlocks.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *imageSource    `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// System messages stay in the messages array with their role unchanged.
func toAnthropicRequest(req domain.CompletionRequest, stream bool) anthropicRequest {
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, toAnthropicMessage(m))
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	out := anthropicRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
		ToolChoice:  toToolChoice(req.ToolChoice),
	}
	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}
	return out
}

func toAnthropicMessage(m domain.ChatMessage) anthropicMessage {
	switch {
	case m.Role == domain.RoleTool:
		return anthropicMessage{
			Role: domain.RoleUser,
			Content: []contentBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content.String(),
			}},
		}
	case len(m.ToolCalls) > 0:
		var blocks []contentBlock
		if text := m.Content.String(); text != "" {
			blocks = append(blocks, contentBlock{Type: "text", Text: text})
		}
		for _, tc := range m.ToolCalls {
			input := json.RawMessage(tc.Function.Arguments)
			if !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
		}
		return anthropicMessage{Role: domain.RoleAssistant, Content: blocks}
	case m.Content.IsStructured():
		blocks := make([]contentBlock, 0, len(m.Content.Parts))
		for _, part := range m.Content.Parts {
			switch {
			case part.Type == "text":
				blocks = append(blocks, contentBlock{Type: "text", Text: part.Text})
			case part.ImageURL != nil:
				blocks = append(blocks, contentBlock{Type: "image", Source: toImageSource(part.ImageURL.URL)})
			}
		}
		return anthropicMessage{Role: m.Role, Content: blocks}
	default:
		return anthropicMessage{Role: m.Role, Content: m.Content.Text}
	}
}

// toImageSource accepts data URLs (data:image/png;base64,...) and plain URLs.
func toImageSource(u string) *imageSource {
	if rest, ok := strings.CutPrefix(u, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if found {
			return &imageSource{
				Type:      "base64",
				MediaType: strings.TrimSuffix(meta, ";base64"),
				Data:      data,
			}
		}
	}
	return &imageSource{Type: "url", URL: u}
}

// toToolChoice maps the OpenAI forms "auto", "none", "required" and
// {"type":"function","function":{"name":...}}.
func toToolChoice(choice any) *toolChoice {
	switch c := choice.(type) {
	case string:
		switch c {
		case "auto":
			return &toolChoice{Type: "auto"}
		case "required":
			return &toolChoice{Type: "any"}
		}
	case map[string]any:
		if fn, ok := c["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				return &toolChoice{Type: "tool", Name: name}
			}
		}
	}
	return nil
}

func toCompletionResponse(resp anthropicResponse, model string) *domain.CompletionResponse {
	msg := &domain.ChatMessage{Role: domain.RoleAssistant}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: domain.FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}
	msg.Content = domain.TextContent(text.String())

	if resp.Model != "" {
		model = resp.Model
	}

	return &domain.CompletionResponse{
		ID:      resp.ID,
		Object:  domain.ObjectCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []domain.Choice{
			{
				Index:        0,
				Message:      msg,
				FinishReason: mapStopReason(resp.StopReason),
			},
		},
		Usage: &domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return domain.FinishStop
	case "max_tokens":
		return domain.FinishLength
	case "tool_use":
		return domain.FinishToolCalls
	case "refusal":
		return domain.FinishContentFilter
	default:
		return reason
	}
}

type streamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      *streamMessage  `json:"message,omitempty"`
	ContentBlock *contentBlock   `json:"content_block,omitempty"`
	Delta        *streamDelta    `json:"delta,omitempty"`
	Usage        *anthropicUsage `json:"usage,omitempty"`
}

type streamMessage struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

type streamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	StopReason  string `json:"stop_reason"`
}

// streamDecoder carries message metadata from message_start into later chunks.
type streamDecoder struct {
	provider    string
	id          string
	model       string
	created     int64
	inputTokens int
	toolIndex   map[int]int
}

func (d *streamDecoder) decode(line []byte) (*domain.CompletionResponse, bool, error) {
	data, ok := provider.SSEData(line)
	if !ok || len(data) == 0 {
		return nil, false, nil
	}

	var event streamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, false, err
	}

	switch event.Type {
	case "message_start":
		if event.Message != nil {
			d.id = event.Message.ID
			if event.Message.Model != "" {
				d.model = event.Message.Model
			}
			d.inputTokens = event.Message.Usage.InputTokens
		}
		return d.chunk(&domain.Delta{Role: domain.RoleAssistant}), false, nil

	case "content_block_start":
		if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" {
			return nil, false, nil
		}
		if d.toolIndex == nil {
			d.toolIndex = make(map[int]int)
		}
		idx := len(d.toolIndex)
		d.toolIndex[event.Index] = idx
		return d.chunk(&domain.Delta{ToolCalls: []domain.ToolCall{{
			Index:    &idx,
			ID:       event.ContentBlock.ID,
			Type:     "function",
			Function: domain.FunctionCall{Name: event.ContentBlock.Name},
		}}}), false, nil

	case "content_block_delta":
		if event.Delta == nil {
			return nil, false, nil
		}
		switch event.Delta.Type {
		case "text_delta":
			return d.chunk(&domain.Delta{Content: event.Delta.Text}), false, nil
		case "input_json_delta":
			idx, ok := d.toolIndex[event.Index]
			if !ok {
				return nil, false, nil
			}
			return d.chunk(&domain.Delta{ToolCalls: []domain.ToolCall{{
				Index:    &idx,
				Function: domain.FunctionCall{Arguments: event.Delta.PartialJSON},
			}}}), false, nil
		}
		return nil, false, nil

	case "message_delta":
		chunk := d.chunk(&domain.Delta{})
		if event.Delta != nil {
			chunk.Choices[0].FinishReason = mapStopReason(event.Delta.StopReason)
		}
		if event.Usage != nil {
			chunk.Usage = &domain.Usage{
				PromptTokens:     d.inputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      d.inputTokens + event.Usage.OutputTokens,
			}
		}
		return chunk, false, nil

	case "message_stop":
		return nil, true, nil

	case "error":
		return nil, false, classify.New(d.provider, classify.AnthropicTypes).Classify(classify.Failure{Body: data})
	}

	return nil, false, nil
}

func (d *streamDecoder) chunk(delta *domain.Delta) *domain.CompletionResponse {
	return &domain.CompletionResponse{
		ID:      d.id,
		Object:  domain.ObjectChunk,
		Created: d.created,
		Model:   d.model,
		Choices: []domain.Choice{
			{
				Index: 0,
				Delta: delta,
			},
		},
	}
}
