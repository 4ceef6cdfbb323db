// Package gemini adapts the Google Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
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
		Base: provider.NewBase(cfg, opts, classify.GeminiStatuses),
	}
}

func (p *Provider) Chat(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if err := p.Prepare(req); err != nil {
		return nil, err
	}

	resp, err := p.PostJSON(ctx, p.endpoint(req.Model, "generateContent"), p.headers(), toGeminiRequest(req))
	if err != nil {
		return nil, err
	}

	var geminiResp geminiResponse
	if err := p.DecodeJSON(resp, &geminiResp); err != nil {
		return nil, err
	}

	return toCompletionResponse(geminiResp, req.Model, domain.ObjectCompletion, time.Now().Unix()), nil
}

func (p *Provider) ChatStream(ctx context.Context, req domain.CompletionRequest) (*provider.Stream, error) {
	if err := p.Prepare(req); err != nil {
		return nil, err
	}

	resp, err := p.StreamJSON(ctx, p.endpoint(req.Model, "streamGenerateContent")+"?alt=sse", p.headers(), toGeminiRequest(req))
	if err != nil {
		return nil, err
	}

	return p.NewStream(resp, decodeStream(req.Model, time.Now().Unix())), nil
}

func (p *Provider) TestConnection(ctx context.Context, model string) (bool, error) {
	return p.ProbeConnection(ctx, model, p.Chat)
}

func (p *Provider) endpoint(model, method string) string {
	return p.BaseURL() + "/models/" + url.PathEscape(model) + ":" + method
}

func (p *Provider) headers() http.Header {
	h := p.Headers()
	h.Set("x-goog-api-key", p.APIKey())
	return h
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	SafetySettings   []safetySetting  `json:"safetySettings"`
	Tools            []geminiTool     `json:"tools,omitempty"`
	ToolConfig       *toolConfig      `json:"toolConfig,omitempty"`
}

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *blob             `json:"inlineData,omitempty"`
	FileData         *fileData         `json:"fileData,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type toolConfig struct {
	FunctionCallingConfig functionCallingConfig `json:"functionCallingConfig"`
}

type functionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type geminiResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
	ResponseID    string         `json:"responseId,omitempty"`
}

type candidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Gemini has no system role, so system messages are sent as user turns, and
// the assistant role is called "model".
func toGeminiRequest(req domain.CompletionRequest) geminiRequest {
	callNames := make(map[string]string)
	contents := make([]geminiContent, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch {
		case m.Role == domain.RoleTool:
			name := m.Name
			if name == "" {
				name = callNames[m.ToolCallID]
			}
			contents = append(contents, geminiContent{
				Role: "user",
				Parts: []part{{FunctionResponse: &functionResponse{
					Name:     name,
					Response: toolResult(m.Content.String()),
				}}},
			})
		case len(m.ToolCalls) > 0:
			var parts []part
			if text := m.Content.String(); text != "" {
				parts = append(parts, part{Text: text})
			}
			for _, tc := range m.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				args := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(args) {
					args = json.RawMessage(`{}`)
				}
				parts = append(parts, part{FunctionCall: &functionCall{Name: tc.Function.Name, Args: args}})
			}
			contents = append(contents, geminiContent{Role: "model", Parts: parts})
		default:
			contents = append(contents, geminiContent{Role: mapRole(m.Role), Parts: toParts(m.Content)})
		}
	}

	out := geminiRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		},
		SafetySettings: []safetySetting{},
		ToolConfig:     toToolConfig(req.ToolChoice),
	}

	if len(req.Tools) > 0 {
		decls := make([]functionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			}
		}
		out.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	return out
}

func mapRole(role string) string {
	switch role {
	case domain.RoleAssistant:
		return "model"
	default:
		return "user"
	}
}

func toParts(c domain.Content) []part {
	if !c.IsStructured() {
		return []part{{Text: c.Text}}
	}
	parts := make([]part, 0, len(c.Parts))
	for _, cp := range c.Parts {
		switch {
		case cp.Type == "text":
			parts = append(parts, part{Text: cp.Text})
		case cp.ImageURL != nil:
			parts = append(parts, imagePart(cp.ImageURL.URL))
		}
	}
	return parts
}

func imagePart(u string) part {
	if rest, ok := strings.CutPrefix(u, "data:"); ok {
		if meta, data, found := strings.Cut(rest, ","); found {
			return part{InlineData: &blob{MimeType: strings.TrimSuffix(meta, ";base64"), Data: data}}
		}
	}
	return part{FileData: &fileData{FileURI: u}}
}

// toolResult wraps non-object tool output, since functionResponse.response must be an object.
func toolResult(s string) json.RawMessage {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(map[string]string{"result": s})
	return b
}

func toToolConfig(choice any) *toolConfig {
	switch c := choice.(type) {
	case string:
		switch c {
		case "auto":
			return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "AUTO"}}
		case "required":
			return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "ANY"}}
		case "none":
			return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "NONE"}}
		}
	case map[string]any:
		if fn, ok := c["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{name}}}
			}
		}
	}
	return nil
}

func toCompletionResponse(resp geminiResponse, model, object string, created int64) *domain.CompletionResponse {
	id := resp.ResponseID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}

	out := &domain.CompletionResponse{
		ID:      id,
		Object:  object,
		Created: created,
		Model:   model,
	}

	for i, c := range resp.Candidates {
		var text strings.Builder
		var calls []domain.ToolCall
		for _, pt := range c.Content.Parts {
			if pt.FunctionCall != nil {
				idx := len(calls)
				args := string(pt.FunctionCall.Args)
				if args == "" {
					args = "{}"
				}
				calls = append(calls, domain.ToolCall{
					Index:    &idx,
					ID:       "call_" + uuid.NewString(),
					Type:     "function",
					Function: domain.FunctionCall{Name: pt.FunctionCall.Name, Arguments: args},
				})
				continue
			}
			text.WriteString(pt.Text)
		}

		finish := mapFinishReason(c.FinishReason)
		if len(calls) > 0 && (finish == domain.FinishStop || finish == "") {
			finish = domain.FinishToolCalls
		}

		choice := domain.Choice{Index: i, FinishReason: finish}
		if object == domain.ObjectChunk {
			choice.Delta = &domain.Delta{Content: text.String(), ToolCalls: calls}
		} else {
			for j := range calls {
				calls[j].Index = nil
			}
			choice.Message = &domain.ChatMessage{
				Role:      domain.RoleAssistant,
				Content:   domain.TextContent(text.String()),
				ToolCalls: calls,
			}
		}
		out.Choices = append(out.Choices, choice)
	}

	if u := resp.UsageMetadata; u != nil {
		total := u.TotalTokenCount
		if total == 0 {
			total = u.PromptTokenCount + u.CandidatesTokenCount
		}
		out.Usage = &domain.Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      total,
		}
	}

	return out
}

func mapFinishReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "STOP":
		return domain.FinishStop
	case "MAX_TOKENS":
		return domain.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return domain.FinishContentFilter
	default:
		return strings.ToLower(reason)
	}
}

// decodeStream accepts one JSON object per line, with or without an SSE
// `data:` prefix, and tolerates the brackets and commas of a JSON array stream.
func decodeStream(model string, created int64) provider.DecodeFunc {
	return func(line []byte) (*domain.CompletionResponse, bool, error) {
		if data, ok := provider.SSEData(line); ok {
			line = data
		}
		line = bytes.TrimSpace(line)
		line = bytes.TrimPrefix(line, []byte("["))
		line = bytes.TrimPrefix(line, []byte(","))
		line = bytes.TrimSuffix(line, []byte("]"))
		line = bytes.TrimSuffix(line, []byte(","))
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			return nil, false, nil
		}

		var resp geminiResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, false, err
		}
		if len(resp.Candidates) == 0 && resp.UsageMetadata == nil {
			return nil, false, nil
		}
		return toCompletionResponse(resp, model, domain.ObjectChunk, created), false, nil
	}
}
