// Package classify maps raw transport and vendor failures onto the closed
// domain.ErrorCode taxonomy.
//
// A Classifier holds an ordered list of vendor rules. Each rule may claim a
// failure; the first rule that does wins. Failures no rule claims go through
// Generic, which matches on HTTP status first and then on message text.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/felipepmaragno/llmbridge/internal/domain"
)

// Failure is the raw material a classifier works from. Any field may be empty.
type Failure struct {
	Status  int
	Message string
	Body    []byte
	Err     error
}

// Rule recognizes vendor-specific failures. It returns false to defer to the next rule.
type Rule func(provider string, f Failure, env Envelope) (*domain.ProviderError, bool)

type Classifier struct {
	provider string
	rules    []Rule
}

// New creates a classifier for a provider. Rules are tried in order before Generic.
func New(provider string, rules ...Rule) *Classifier {
	return &Classifier{
		provider: provider,
		rules:    rules,
	}
}

func (c *Classifier) Provider() string {
	return c.provider
}

// Classify never fails; unknown failures become CodeUnknown with the original message.
func (c *Classifier) Classify(f Failure) *domain.ProviderError {
	if pe, ok := domain.AsProviderError(f.Err); ok {
		return pe
	}

	env, _ := ParseEnvelope(f.Body)
	for _, rule := range c.rules {
		if pe, ok := rule(c.provider, f, env); ok {
			return pe
		}
	}
	return generic(c.provider, f, env)
}

// Generic classifies without vendor rules.
func Generic(provider string, f Failure) *domain.ProviderError {
	env, _ := ParseEnvelope(f.Body)
	return generic(provider, f, env)
}

func generic(provider string, f Failure, env Envelope) *domain.ProviderError {
	detail := failureText(f, env)
	lower := strings.ToLower(detail + " " + env.Code + " " + env.Type)

	if strings.Contains(lower, "insufficient_quota") {
		return build(provider, f, env, domain.CodeInsufficientQuota, "insufficient quota, check the account balance", detail)
	}

	switch f.Status {
	case http.StatusUnauthorized:
		return build(provider, f, env, domain.CodeUnauthorized, "authentication failed, check the API key", detail)
	case http.StatusForbidden:
		return build(provider, f, env, domain.CodeForbidden, "access denied for this API key", detail)
	case http.StatusTooManyRequests:
		return build(provider, f, env, domain.CodeRateLimit, "rate limit exceeded, retry later", detail)
	case http.StatusNotFound:
		return build(provider, f, env, domain.CodeBadRequest, "endpoint not found, check the base URL", detail)
	case http.StatusInternalServerError:
		return build(provider, f, env, domain.CodeInternalError, "server error", detail)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return build(provider, f, env, domain.CodeServiceUnavailable, "service unavailable", detail)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return build(provider, f, env, domain.CodeTimeout, "request timed out", detail)
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return build(provider, f, env, domain.CodeBadRequest, "bad request", detail)
	}

	if f.Err != nil {
		switch {
		case errors.Is(f.Err, context.DeadlineExceeded) || isNetTimeout(f.Err):
			return build(provider, f, env, domain.CodeTimeout, "request timed out", detail)
		case errors.Is(f.Err, context.Canceled):
			return build(provider, f, env, domain.CodeNetworkError, "request aborted", detail)
		}
	}

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return build(provider, f, env, domain.CodeTimeout, "request timed out", detail)
	case strings.Contains(lower, "enotfound") || strings.Contains(lower, "network") ||
		strings.Contains(lower, "dns") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection refused"):
		return build(provider, f, env, domain.CodeNetworkError, "network error, check connectivity", detail)
	}

	var netErr net.Error
	if errors.As(f.Err, &netErr) {
		return build(provider, f, env, domain.CodeNetworkError, "network error, check connectivity", detail)
	}

	if f.Status >= 500 {
		return build(provider, f, env, domain.CodeInternalError, "server error", detail)
	}

	return &domain.ProviderError{
		Message:  detail,
		Code:     domain.CodeUnknown,
		Status:   f.Status,
		Provider: provider,
		Details:  envelopeDetails(env),
		Cause:    f.Err,
	}
}

// OpenAICodes recognizes the `code` field of OpenAI-style error envelopes.
func OpenAICodes(provider string, f Failure, env Envelope) (*domain.ProviderError, bool) {
	detail := failureText(f, env)
	switch env.Code {
	case "invalid_api_key":
		return build(provider, f, env, domain.CodeUnauthorized, "invalid API key", detail), true
	case "billing_not_active":
		return build(provider, f, env, domain.CodeInsufficientQuota, "billing is not active for this account", detail), true
	case "billing_hard_limit_reached", "insufficient_quota":
		return build(provider, f, env, domain.CodeInsufficientQuota, "billing limit reached", detail), true
	case "model_not_found":
		return build(provider, f, env, domain.CodeModelNotFound, "model not found", detail), true
	case "rate_limit_exceeded":
		return build(provider, f, env, domain.CodeRateLimit, "rate limit exceeded, retry later", detail), true
	}
	return nil, false
}

// AnthropicTypes recognizes the `type` field of Anthropic error envelopes.
func AnthropicTypes(provider string, f Failure, env Envelope) (*domain.ProviderError, bool) {
	detail := failureText(f, env)
	switch env.Type {
	case "authentication_error":
		return build(provider, f, env, domain.CodeUnauthorized, "authentication failed, check the API key", detail), true
	case "permission_error":
		return build(provider, f, env, domain.CodeForbidden, "access denied for this API key", detail), true
	case "not_found_error":
		if strings.Contains(strings.ToLower(detail), "model") {
			return build(provider, f, env, domain.CodeModelNotFound, "model not found", detail), true
		}
	case "rate_limit_error":
		return build(provider, f, env, domain.CodeRateLimit, "rate limit exceeded, retry later", detail), true
	case "overloaded_error":
		return build(provider, f, env, domain.CodeServiceUnavailable, "service overloaded", detail), true
	case "api_error":
		return build(provider, f, env, domain.CodeInternalError, "server error", detail), true
	}
	return nil, false
}

// GeminiStatuses recognizes the google.rpc status names carried by Gemini errors.
func GeminiStatuses(provider string, f Failure, env Envelope) (*domain.ProviderError, bool) {
	detail := failureText(f, env)
	switch env.Type {
	case "UNAUTHENTICATED":
		return build(provider, f, env, domain.CodeUnauthorized, "authentication failed, check the API key", detail), true
	case "PERMISSION_DENIED":
		return build(provider, f, env, domain.CodeForbidden, "access denied for this API key", detail), true
	case "RESOURCE_EXHAUSTED":
		return build(provider, f, env, domain.CodeRateLimit, "quota or rate limit exhausted", detail), true
	case "INVALID_ARGUMENT":
		if strings.Contains(strings.ToLower(detail), "api key") {
			return build(provider, f, env, domain.CodeUnauthorized, "invalid API key", detail), true
		}
	case "NOT_FOUND":
		if strings.Contains(strings.ToLower(detail), "model") {
			return build(provider, f, env, domain.CodeModelNotFound, "model not found", detail), true
		}
	}
	return nil, false
}

// OllamaMessages recognizes Ollama's plain-string errors.
func OllamaMessages(provider string, f Failure, env Envelope) (*domain.ProviderError, bool) {
	detail := strings.ToLower(failureText(f, env))
	if strings.Contains(detail, "model") && (strings.Contains(detail, "not found") || strings.Contains(detail, "pull")) {
		return build(provider, f, env, domain.CodeModelNotFound, "model not installed, run `ollama pull` first", failureText(f, env)), true
	}
	return nil, false
}

func build(provider string, f Failure, env Envelope, code domain.ErrorCode, summary, detail string) *domain.ProviderError {
	msg := summary
	if detail != "" && !strings.EqualFold(detail, summary) {
		msg = fmt.Sprintf("%s (%s)", summary, detail)
	}
	return &domain.ProviderError{
		Message:  msg,
		Code:     code,
		Status:   f.Status,
		Provider: provider,
		Details:  envelopeDetails(env),
		Cause:    f.Err,
	}
}

func failureText(f Failure, env Envelope) string {
	switch {
	case env.Message != "":
		return env.Message
	case f.Message != "":
		return f.Message
	case f.Err != nil:
		return f.Err.Error()
	case len(f.Body) > 0:
		return truncate(strings.TrimSpace(string(f.Body)), 512)
	case f.Status > 0:
		return fmt.Sprintf("HTTP %d %s", f.Status, http.StatusText(f.Status))
	}
	return "unknown error"
}

func envelopeDetails(env Envelope) any {
	if env.Raw == nil {
		return nil
	}
	return env.Raw
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Envelope is the normalized form of a vendor JSON error body.
type Envelope struct {
	Message string
	Type    string
	Code    string
	Raw     json.RawMessage
}

// ParseEnvelope understands {"error":{"message","type","code"}} (OpenAI, Anthropic),
// {"error":{"code":403,"message","status"}} (Gemini) and {"error":"..."} (Ollama).
func ParseEnvelope(body []byte) (Envelope, bool) {
	if len(body) == 0 {
		return Envelope{}, false
	}

	var outer struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Type    string          `json:"type"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return Envelope{}, false
	}

	env := Envelope{Raw: json.RawMessage(body)}
	if len(outer.Error) == 0 {
		if outer.Message == "" {
			return Envelope{}, false
		}
		env.Message = outer.Message
		env.Type = outer.Type
		return env, true
	}

	var s string
	if err := json.Unmarshal(outer.Error, &s); err == nil {
		env.Message = s
		return env, true
	}

	var inner struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Status  string          `json:"status"`
		Code    json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(outer.Error, &inner); err != nil {
		return Envelope{}, false
	}
	env.Message = inner.Message
	env.Type = inner.Type
	if env.Type == "" {
		env.Type = inner.Status
	}
	env.Code = rawString(inner.Code)
	return env, true
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
