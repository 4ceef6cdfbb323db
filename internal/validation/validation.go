// Package validation checks completion requests against the capabilities a
// model declares in the catalog, before any network call is made.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/felipepmaragno/llmbridge/internal/domain"
)

const defaultMaxTemperature = 2.0

// Violation is one failed check.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// Validate runs every check and returns all violations found. An unknown model
// stops validation early since the remaining checks need its card.
func Validate(req domain.CompletionRequest, models []domain.ModelCard) []Violation {
	var out []Violation

	if len(req.Messages) == 0 {
		out = append(out, Violation{"messages", "at least one message is required"})
	}
	if req.Model == "" {
		out = append(out, Violation{"model", "model is required"})
		return out
	}

	card, ok := findModel(models, req.Model)
	if !ok {
		out = append(out, Violation{"model", fmt.Sprintf("model %q is not in the catalog", req.Model)})
		return out
	}
	if !card.IsEnabled() {
		out = append(out, Violation{"model", fmt.Sprintf("model %q is disabled", req.Model)})
	}

	if req.Temperature != nil {
		t := *req.Temperature
		if t < 0 {
			out = append(out, Violation{"temperature", "must be >= 0"})
		} else if card.MaxTemperature != nil && t > *card.MaxTemperature {
			out = append(out, Violation{"temperature", fmt.Sprintf("must be <= %g for %s", *card.MaxTemperature, card.ID)})
		}
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		out = append(out, Violation{"top_p", "must be between 0 and 1"})
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		out = append(out, Violation{"max_tokens", "must be greater than 0"})
	}
	if len(req.Tools) > 0 && !card.Capabilities.FunctionCall {
		out = append(out, Violation{"tools", fmt.Sprintf("model %s does not support function calling", card.ID)})
	}
	if !card.Capabilities.Vision {
		for _, m := range req.Messages {
			if m.Content.HasImage() {
				out = append(out, Violation{"messages", fmt.Sprintf("model %s does not accept image input", card.ID)})
				break
			}
		}
	}

	return out
}

// NormalizeRequest returns a copy of req with numeric fields clamped into range
// and text content trimmed. card may be nil when the model is unknown.
func NormalizeRequest(req domain.CompletionRequest, card *domain.ModelCard) domain.CompletionRequest {
	out := req

	maxTemp := defaultMaxTemperature
	if card != nil && card.MaxTemperature != nil {
		maxTemp = *card.MaxTemperature
	}
	if req.Temperature != nil {
		t := clamp(*req.Temperature, 0, maxTemp)
		out.Temperature = &t
	}
	if req.TopP != nil {
		p := clamp(*req.TopP, 0, 1)
		out.TopP = &p
	}
	if req.MaxTokens != nil {
		n := *req.MaxTokens
		if n < 1 {
			n = 1
		}
		if card != nil && card.Capabilities.ContextWindowTokens > 0 && n > card.Capabilities.ContextWindowTokens {
			n = card.Capabilities.ContextWindowTokens
		}
		out.MaxTokens = &n
	}

	out.Messages = make([]domain.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		if m.Content.IsStructured() {
			parts := make([]domain.ContentPart, len(m.Content.Parts))
			copy(parts, m.Content.Parts)
			for j := range parts {
				parts[j].Text = strings.TrimSpace(parts[j].Text)
			}
			m.Content = domain.Content{Parts: parts}
		} else {
			m.Content = domain.TextContent(strings.TrimSpace(m.Content.Text))
		}
		out.Messages[i] = m
	}

	return out
}

var apiKeyPatterns = map[domain.SDKType]*regexp.Regexp{
	domain.SDKOpenAI:    regexp.MustCompile(`^sk-[A-Za-z0-9_\-]{16,}$`),
	domain.SDKAnthropic: regexp.MustCompile(`^sk-ant-[A-Za-z0-9_\-]{16,}$`),
	domain.SDKGemini:    regexp.MustCompile(`^[A-Za-z0-9_\-]{30,}$`),
	domain.SDKRouter:    regexp.MustCompile(`^[A-Za-z0-9_\-]{16,}$`),
}

// ValidateAPIKey applies a per-vendor format heuristic. Ollama needs no key.
func ValidateAPIKey(sdk domain.SDKType, key string) bool {
	if sdk == domain.SDKOllama {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	re, ok := apiKeyPatterns[sdk]
	if !ok {
		return len(key) >= 8
	}
	return re.MatchString(key)
}

// ValidateBaseURL reports whether raw is an absolute http(s) URL.
func ValidateBaseURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func findModel(models []domain.ModelCard, id string) (domain.ModelCard, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return domain.ModelCard{}, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
