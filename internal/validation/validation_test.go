package validation

import (
	"strings"
	"testing"

	"github.com/felipepmaragno/llmbridge/internal/domain"
)

func ptr[T any](v T) *T { return &v }

var testModels = []domain.ModelCard{
	{
		ID:             "chat-basic",
		Name:           "Chat Basic",
		MaxTemperature: ptr(1.0),
	},
	{
		ID:   "chat-pro",
		Name: "Chat Pro",
		Capabilities: domain.ModelCapabilities{
			ContextWindowTokens: 1000,
			FunctionCall:        true,
			Vision:              true,
		},
	},
	{
		ID:      "chat-old",
		Name:    "Chat Old",
		Enabled: ptr(false),
	},
}

func userMsg(s string) domain.ChatMessage {
	return domain.ChatMessage{Role: domain.RoleUser, Content: domain.TextContent(s)}
}

func TestValidate_Valid(t *testing.T) {
	req := domain.CompletionRequest{
		Model:       "chat-pro",
		Messages:    []domain.ChatMessage{userMsg("hi")},
		Temperature: ptr(1.5),
		TopP:        ptr(0.9),
		MaxTokens:   ptr(100),
	}

	if v := Validate(req, testModels); len(v) != 0 {
		t.Errorf("expected no violations, got %v", v)
	}
}

func TestValidate_UnknownModelStops(t *testing.T) {
	req := domain.CompletionRequest{
		Model:       "nope",
		Temperature: ptr(-3.0),
		MaxTokens:   ptr(0),
	}

	v := Validate(req, testModels)

	if len(v) != 2 {
		t.Fatalf("violations = %v, want messages + model", v)
	}
	if v[0].Field != "messages" || v[1].Field != "model" {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestValidate_ToolsWithoutFunctionCall(t *testing.T) {
	req := domain.CompletionRequest{
		Model:    "chat-basic",
		Messages: []domain.ChatMessage{userMsg("weather?")},
		Tools: []domain.Tool{{
			Type:     "function",
			Function: domain.FunctionDef{Name: "get_weather"},
		}},
	}

	v := Validate(req, testModels)

	if len(v) != 1 {
		t.Fatalf("violations = %v, want exactly one", v)
	}
	if v[0].Field != "tools" {
		t.Errorf("field = %s, want tools", v[0].Field)
	}
}

func TestValidate_Accumulates(t *testing.T) {
	tests := []struct {
		name   string
		req    domain.CompletionRequest
		fields []string
	}{
		{
			name: "temperature above model max",
			req: domain.CompletionRequest{
				Model: "chat-basic", Messages: []domain.ChatMessage{userMsg("x")}, Temperature: ptr(1.2),
			},
			fields: []string{"temperature"},
		},
		{
			name: "negative temperature",
			req: domain.CompletionRequest{
				Model: "chat-pro", Messages: []domain.ChatMessage{userMsg("x")}, Temperature: ptr(-0.1),
			},
			fields: []string{"temperature"},
		},
		{
			name: "top_p and max_tokens",
			req: domain.CompletionRequest{
				Model: "chat-pro", Messages: []domain.ChatMessage{userMsg("x")}, TopP: ptr(1.5), MaxTokens: ptr(-1),
			},
			fields: []string{"top_p", "max_tokens"},
		},
		{
			name: "empty messages with image-less model",
			req: domain.CompletionRequest{
				Model: "chat-basic",
			},
			fields: []string{"messages"},
		},
		{
			name: "image on text-only model",
			req: domain.CompletionRequest{
				Model: "chat-basic",
				Messages: []domain.ChatMessage{{
					Role: domain.RoleUser,
					Content: domain.Content{Parts: []domain.ContentPart{
						{Type: "text", Text: "what is this"},
						{Type: "image_url", ImageURL: &domain.ImageURL{URL: "https://example.com/a.png"}},
					}},
				}},
			},
			fields: []string{"messages"},
		},
		{
			name: "disabled model",
			req: domain.CompletionRequest{
				Model: "chat-old", Messages: []domain.ChatMessage{userMsg("x")},
			},
			fields: []string{"model"},
		},
		{
			name:   "missing model",
			req:    domain.CompletionRequest{Messages: []domain.ChatMessage{userMsg("x")}},
			fields: []string{"model"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.req, testModels)
			if len(v) != len(tt.fields) {
				t.Fatalf("violations = %v, want fields %v", v, tt.fields)
			}
			for i, f := range tt.fields {
				if v[i].Field != f {
					t.Errorf("violation[%d].Field = %s, want %s", i, v[i].Field, f)
				}
			}
		})
	}
}

func TestNormalizeRequest(t *testing.T) {
	card := testModels[1]
	req := domain.CompletionRequest{
		Model:       "chat-pro",
		Messages:    []domain.ChatMessage{userMsg("  padded  ")},
		Temperature: ptr(5.0),
		TopP:        ptr(-1.0),
		MaxTokens:   ptr(5000),
	}

	got := NormalizeRequest(req, &card)

	if *got.Temperature != defaultMaxTemperature {
		t.Errorf("Temperature = %v, want %v", *got.Temperature, defaultMaxTemperature)
	}
	if *got.TopP != 0 {
		t.Errorf("TopP = %v, want 0", *got.TopP)
	}
	if *got.MaxTokens != 1000 {
		t.Errorf("MaxTokens = %v, want 1000", *got.MaxTokens)
	}
	if got.Messages[0].Content.Text != "padded" {
		t.Errorf("content = %q, want trimmed", got.Messages[0].Content.Text)
	}
	if req.Messages[0].Content.Text != "  padded  " {
		t.Error("NormalizeRequest modified the input messages")
	}
	if *req.Temperature != 5.0 {
		t.Error("NormalizeRequest modified the input temperature")
	}
}

func TestNormalizeRequest_ModelMaxTemperature(t *testing.T) {
	card := testModels[0]
	got := NormalizeRequest(domain.CompletionRequest{Temperature: ptr(1.7), MaxTokens: ptr(0)}, &card)

	if *got.Temperature != 1.0 {
		t.Errorf("Temperature = %v, want 1.0", *got.Temperature)
	}
	if *got.MaxTokens != 1 {
		t.Errorf("MaxTokens = %v, want 1", *got.MaxTokens)
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		sdk  domain.SDKType
		key  string
		want bool
	}{
		{domain.SDKOpenAI, "sk-" + strings.Repeat("a", 40), true},
		{domain.SDKOpenAI, "sk-short", false},
		{domain.SDKOpenAI, "", false},
		{domain.SDKAnthropic, "sk-ant-api03-" + strings.Repeat("b", 30), true},
		{domain.SDKAnthropic, "sk-" + strings.Repeat("b", 30), false},
		{domain.SDKGemini, "AIza" + strings.Repeat("c", 35), true},
		{domain.SDKGemini, "AIza123", false},
		{domain.SDKOllama, "", true},
		{domain.SDKRouter, strings.Repeat("d", 32), true},
	}

	for _, tt := range tests {
		t.Run(string(tt.sdk)+"/"+tt.key, func(t *testing.T) {
			if got := ValidateAPIKey(tt.sdk, tt.key); got != tt.want {
				t.Errorf("ValidateAPIKey(%s, %q) = %v, want %v", tt.sdk, tt.key, got, tt.want)
			}
		})
	}
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://api.openai.com/v1", true},
		{"http://localhost:11434/api", true},
		{"ftp://example.com", false},
		{"api.openai.com", false},
		{"", false},
		{"https://", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ValidateBaseURL(tt.raw); got != tt.want {
				t.Errorf("ValidateBaseURL(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
