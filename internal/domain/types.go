package domain

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type AuthType string

const (
	AuthKey   AuthType = "key"
	AuthToken AuthType = "token"
	AuthNone  AuthType = "none"
)

// SDKType selects the wire format an adapter speaks.
type SDKType string

const (
	SDKOpenAI    SDKType = "openai"
	SDKAnthropic SDKType = "anthropic"
	SDKGemini    SDKType = "gemini"
	SDKOllama    SDKType = "ollama"
	SDKRouter    SDKType = "router"
)

type ModelCapabilities struct {
	ContextWindowTokens int  `json:"context_window_tokens,omitempty" yaml:"context_window_tokens"`
	FunctionCall        bool `json:"function_call,omitempty" yaml:"function_call"`
	Vision              bool `json:"vision,omitempty" yaml:"vision"`
	Reasoning           bool `json:"reasoning,omitempty" yaml:"reasoning"`
	JSON                bool `json:"json,omitempty" yaml:"json"`
}

type ModelCard struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Description    string            `json:"description,omitempty" yaml:"description"`
	Capabilities   ModelCapabilities `json:"capabilities" yaml:"capabilities"`
	Enabled        *bool             `json:"enabled,omitempty" yaml:"enabled"`
	MaxTemperature *float64          `json:"max_temperature,omitempty" yaml:"max_temperature"`
}

// IsEnabled reports whether the card is usable; cards without an explicit flag are enabled.
func (m ModelCard) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type ProviderCapabilities struct {
	Streaming     bool `json:"streaming" yaml:"streaming"`
	BatchRequests bool `json:"batch_requests" yaml:"batch_requests"`
}

type ProviderConfig struct {
	ID             string                `json:"id" yaml:"id"`
	Name           string                `json:"name" yaml:"name"`
	BaseURL        string                `json:"base_url" yaml:"base_url"`
	APIVersion     string                `json:"api_version,omitempty" yaml:"api_version"`
	AuthType       AuthType              `json:"auth_type" yaml:"auth_type"`
	Models         []ModelCard           `json:"models" yaml:"models"`
	DefaultHeaders map[string]string     `json:"default_headers,omitempty" yaml:"default_headers"`
	SDKType        SDKType               `json:"sdk_type" yaml:"sdk_type"`
	Capabilities   *ProviderCapabilities `json:"capabilities,omitempty" yaml:"capabilities"`
}

// ModelByID returns the card with the given id.
func (c ProviderConfig) ModelByID(id string) (ModelCard, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelCard{}, false
}

// RetryOptions mirrors httputil.RetryConfig so callers can configure retries
// without importing the transport package. Zero values select the defaults.
type RetryOptions struct {
	MaxRetries         int
	RetryDelay         time.Duration
	RetryOn            []int
	ExponentialBackoff *bool
}

// ProviderOptions are per-client overrides applied on top of a ProviderConfig.
type ProviderOptions struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Proxy      string
	Timeout    time.Duration
	Headers    map[string]string
	Retry      RetryOptions
	// HTTPClient replaces the client built from Timeout and Proxy.
	HTTPClient *http.Client
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Content is either plain text or a list of structured parts. It marshals to
// a JSON string when Parts is empty and to an array otherwise.
type Content struct {
	Text  string
	Parts []ContentPart
}

func TextContent(s string) Content {
	return Content{Text: s}
}

func (c Content) IsStructured() bool {
	return len(c.Parts) > 0
}

// String flattens the content to text, joining text parts with newlines.
func (c Content) String() string {
	if !c.IsStructured() {
		return c.Text
	}
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (c Content) HasImage() bool {
	for _, p := range c.Parts {
		if p.Type == "image_url" || p.ImageURL != nil {
			return true
		}
	}
	return false
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsStructured() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}
	if data[0] == '[' {
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = Content{Text: s}
	return nil
}

type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

type ChatMessage struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type CompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
}

type CompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Text returns the content of the first choice, from either Message or Delta.
func (r *CompletionResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	c := r.Choices[0]
	if c.Message != nil {
		return c.Message.Content.String()
	}
	if c.Delta != nil {
		return c.Delta.Content
	}
	return ""
}

type Choice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *Delta       `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

const (
	ObjectCompletion = "chat.completion"
	ObjectChunk      = "chat.completion.chunk"

	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
)

type Model struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	OwnedBy  string `json:"owned_by"`
	Provider string `json:"provider,omitempty"`
}

type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
