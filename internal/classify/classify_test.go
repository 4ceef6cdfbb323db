package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/felipepmaragno/llmbridge/internal/domain"
)

func TestGeneric_StatusCodes(t *testing.T) {
	tests := []struct {
		status   int
		expected domain.ErrorCode
	}{
		{401, domain.CodeUnauthorized},
		{403, domain.CodeForbidden},
		{429, domain.CodeRateLimit},
		{404, domain.CodeBadRequest},
		{400, domain.CodeBadRequest},
		{500, domain.CodeInternalError},
		{502, domain.CodeServiceUnavailable},
		{503, domain.CodeServiceUnavailable},
		{504, domain.CodeTimeout},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status=%d", tt.status), func(t *testing.T) {
			pe := Generic("openai", Failure{Status: tt.status})
			if pe.Code != tt.expected {
				t.Errorf("Generic(%d).Code = %s, want %s", tt.status, pe.Code, tt.expected)
			}
			if pe.Status != tt.status {
				t.Errorf("Status = %d, want %d", pe.Status, tt.status)
			}
			if pe.Provider != "openai" {
				t.Errorf("Provider = %q, want openai", pe.Provider)
			}
		})
	}
}

func TestGeneric_NotFoundMentionsEndpoint(t *testing.T) {
	pe := Generic("openai", Failure{Status: 404})
	if !strings.Contains(pe.Message, "endpoint not found") {
		t.Errorf("expected endpoint not found message, got %q", pe.Message)
	}
}

func TestGeneric_InsufficientQuotaWinsOverStatus(t *testing.T) {
	for _, status := range []int{0, 400, 429, 500} {
		pe := Generic("openai", Failure{Status: status, Message: "You exceeded your quota: insufficient_quota"})
		if pe.Code != domain.CodeInsufficientQuota {
			t.Errorf("status %d: code = %s, want INSUFFICIENT_QUOTA", status, pe.Code)
		}
	}
}

func TestGeneric_MessageFallback(t *testing.T) {
	tests := []struct {
		name     string
		failure  Failure
		expected domain.ErrorCode
	}{
		{"timeout text", Failure{Message: "request timeout"}, domain.CodeTimeout},
		{"dns text", Failure{Message: "getaddrinfo ENOTFOUND api.example.com"}, domain.CodeNetworkError},
		{"network text", Failure{Message: "network unreachable"}, domain.CodeNetworkError},
		{"deadline", Failure{Err: context.DeadlineExceeded}, domain.CodeTimeout},
		{"canceled", Failure{Err: context.Canceled}, domain.CodeNetworkError},
		{"dns error", Failure{Err: &net.DNSError{Err: "no such host", Name: "x"}}, domain.CodeNetworkError},
		{"unknown", Failure{Message: "something odd"}, domain.CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Generic("p", tt.failure)
			if pe.Code != tt.expected {
				t.Errorf("code = %s, want %s", pe.Code, tt.expected)
			}
		})
	}
}

func TestGeneric_UnknownPreservesMessage(t *testing.T) {
	pe := Generic("p", Failure{Message: "something odd"})
	if pe.Message != "something odd" {
		t.Errorf("Message = %q, want original", pe.Message)
	}
}

func TestClassifier_OpenAICodesFirst(t *testing.T) {
	c := New("openai", OpenAICodes)

	tests := []struct {
		body     string
		status   int
		expected domain.ErrorCode
	}{
		{`{"error":{"message":"Incorrect API key","code":"invalid_api_key"}}`, 401, domain.CodeUnauthorized},
		{`{"error":{"message":"no billing","code":"billing_not_active"}}`, 429, domain.CodeInsufficientQuota},
		{`{"error":{"message":"gone","code":"model_not_found"}}`, 404, domain.CodeModelNotFound},
		{`{"error":{"message":"limit","code":"billing_hard_limit_reached"}}`, 400, domain.CodeInsufficientQuota},
		{`{"error":{"message":"slow down","code":null}}`, 429, domain.CodeRateLimit},
	}

	for _, tt := range tests {
		pe := c.Classify(Failure{Status: tt.status, Body: []byte(tt.body)})
		if pe.Code != tt.expected {
			t.Errorf("body %s: code = %s, want %s", tt.body, pe.Code, tt.expected)
		}
	}
}

func TestClassifier_VendorRules(t *testing.T) {
	tests := []struct {
		name     string
		rule     Rule
		status   int
		body     string
		expected domain.ErrorCode
	}{
		{"anthropic overloaded", AnthropicTypes, 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, domain.CodeServiceUnavailable},
		{"anthropic auth", AnthropicTypes, 401, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, domain.CodeUnauthorized},
		{"gemini key", GeminiStatuses, 400, `{"error":{"code":400,"message":"API key not valid.","status":"INVALID_ARGUMENT"}}`, domain.CodeUnauthorized},
		{"gemini exhausted", GeminiStatuses, 429, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, domain.CodeRateLimit},
		{"ollama missing model", OllamaMessages, 404, `{"error":"model \"llama3\" not found, try pulling it first"}`, domain.CodeModelNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := New("p", tt.rule).Classify(Failure{Status: tt.status, Body: []byte(tt.body)})
			if pe.Code != tt.expected {
				t.Errorf("code = %s, want %s", pe.Code, tt.expected)
			}
		})
	}
}

func TestClassifier_PassesThroughProviderError(t *testing.T) {
	orig := domain.NewProviderError("x", domain.CodeAPIKeyMissing, "missing")
	pe := New("y").Classify(Failure{Err: fmt.Errorf("wrapped: %w", orig)})
	if pe != orig {
		t.Error("expected existing ProviderError to be returned unchanged")
	}
}

func TestClassifier_KeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	pe := New("p").Classify(Failure{Err: cause})
	if !errors.Is(pe, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if pe.Code != domain.CodeNetworkError {
		t.Errorf("code = %s, want NETWORK_ERROR", pe.Code)
	}
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		ok      bool
		message string
		code    string
		typ     string
	}{
		{"openai", `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`, true, "bad key", "invalid_api_key", "invalid_request_error"},
		{"gemini", `{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`, true, "denied", "403", "PERMISSION_DENIED"},
		{"ollama", `{"error":"model not found"}`, true, "model not found", "", ""},
		{"plain message", `{"message":"oops"}`, true, "oops", "", ""},
		{"not json", `<html>502</html>`, false, "", "", ""},
		{"empty", ``, false, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, ok := ParseEnvelope([]byte(tt.body))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if env.Message != tt.message || env.Code != tt.code || env.Type != tt.typ {
				t.Errorf("got %+v", env)
			}
		})
	}
}
