package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/provider"
)

func testConfig(baseURL string) domain.ProviderConfig {
	return domain.ProviderConfig{
		ID:       "ollama",
		Name:     "Ollama",
		BaseURL:  baseURL,
		AuthType: domain.AuthNone,
		SDKType:  domain.SDKOllama,
		Models: []domain.ModelCard{
			{ID: "llama3", Name: "Llama 3"},
			{ID: "qwen2.5", Name: "Qwen 2.5", Capabilities: domain.ModelCapabilities{FunctionCall: true}},
		},
	}
}

func userRequest(model string) domain.CompletionRequest {
	return domain.CompletionRequest{
		Model:    model,
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: domain.TextContent("Hi")}},
	}
}

func TestChat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("ollama requests must not carry auth")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{
			"model": "llama3",
			"created_at": "2024-05-01T10:00:00Z",
			"message": {"role": "assistant", "content": "Hey"},
			"done": true,
			"done_reason": "length",
			"prompt_eval_count": 8,
			"eval_count": 1
		}`))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), domain.ProviderOptions{})
	req := userRequest("llama3")
	maxTokens := 1
	req.MaxTokens = &maxTokens

	resp, err := p.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if got.Stream {
		t.Error("stream should be false")
	}
	if got.Options == nil || got.Options.NumPredict == nil || *got.Options.NumPredict != 1 {
		t.Errorf("options = %+v, want num_predict 1", got.Options)
	}
	if resp.Text() != "Hey" || resp.Choices[0].FinishReason != domain.FinishLength {
		t.Errorf("resp = %+v", resp.Choices[0])
	}
	if resp.Created != 1714557600 {
		t.Errorf("created = %d", resp.Created)
	}
	if resp.Usage.TotalTokens != 9 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChat_ToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"qwen2.5","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_time","arguments":{"tz":"UTC"}}}]},"done":true}`))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), domain.ProviderOptions{})
	req := userRequest("qwen2.5")
	req.Tools = []domain.Tool{{Type: "function", Function: domain.FunctionDef{Name: "get_time"}}}

	resp, err := p.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) != 1 || calls[0].Function.Arguments != `{"tz":"UTC"}` {
		t.Errorf("tool calls = %+v", calls)
	}
	if resp.Choices[0].FinishReason != domain.FinishToolCalls {
		t.Errorf("finish_reason = %s", resp.Choices[0].FinishReason)
	}
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Join([]string{
			`{"model":"llama3","message":{"role":"assistant","content":"Hel"},"done":false}`,
			`not json at all`,
			`{"model":"llama3","message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}`,
			`{"model":"llama3","message":{"role":"assistant","content":"ignored"},"done":false}`,
		}, "\n")))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), domain.ProviderOptions{})
	stream, err := p.ChatStream(context.Background(), userRequest("llama3"))
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	defer stream.Close()

	var text strings.Builder
	var finish string
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		text.WriteString(chunk.Text())
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			finish = fr
		}
	}

	if text.String() != "Hello" {
		t.Errorf("text = %q, want Hello", text.String())
	}
	if finish != domain.FinishStop {
		t.Errorf("finish = %q", finish)
	}
	if u := stream.Usage(); u == nil || u.TotalTokens != 5 {
		t.Errorf("usage = %+v", u)
	}
}

func TestTestConnection(t *testing.T) {
	tests := []struct {
		name      string
		tags      string
		model     string
		wantOK    bool
		wantCode  domain.ErrorCode
		wantChats int32
	}{
		{"installed with latest tag", `{"models":[{"name":"llama3:latest"}]}`, "llama3", true, "", 1},
		{"default model", `{"models":[{"name":"llama3"}]}`, "", true, "", 1},
		{"not installed", `{"models":[{"name":"mistral:latest"}]}`, "llama3", false, domain.CodeModelNotFound, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var chats int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/tags":
					if r.Method != http.MethodGet {
						t.Errorf("tags method = %s", r.Method)
					}
					w.Write([]byte(tt.tags))
				case "/chat":
					atomic.AddInt32(&chats, 1)
					w.Write([]byte(`{"message":{"role":"assistant","content":"."},"done":true}`))
				}
			}))
			defer srv.Close()

			p := New(testConfig(srv.URL), domain.ProviderOptions{})
			ok, err := p.TestConnection(context.Background(), tt.model)

			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v (err=%v)", ok, tt.wantOK, err)
			}
			if tt.wantCode != "" {
				pe, isPE := domain.AsProviderError(err)
				if !isPE || pe.Code != tt.wantCode {
					t.Fatalf("err = %v, want %s", err, tt.wantCode)
				}
				if !strings.HasPrefix(pe.Message, "Ollama") {
					t.Errorf("message = %q", pe.Message)
				}
			}
			if chats != tt.wantChats {
				t.Errorf("chat calls = %d, want %d", chats, tt.wantChats)
			}
		})
	}
}

func TestTestConnection_DaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := New(testConfig(url), domain.ProviderOptions{Retry: domain.RetryOptions{MaxRetries: 1}})
	ok, err := p.TestConnection(context.Background(), "llama3")

	if ok {
		t.Error("ok = true with daemon down")
	}
	if code := domain.CodeOf(err); code != domain.CodeNetworkError {
		t.Errorf("code = %s, want NETWORK_ERROR", code)
	}
}

func TestTestConnection_NoEnabledModel(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	disabled := false
	cfg := testConfig(srv.URL)
	for i := range cfg.Models {
		cfg.Models[i].Enabled = &disabled
	}

	p := New(cfg, domain.ProviderOptions{})
	ok, err := p.TestConnection(context.Background(), "")

	if ok {
		t.Error("ok = true without an enabled model")
	}
	pe, isPE := domain.AsProviderError(err)
	if !isPE || pe.Code != domain.CodeBadRequest || !strings.Contains(pe.Message, "no enabled model") {
		t.Errorf("err = %v, want BAD_REQUEST no enabled model", err)
	}
	if calls != 0 {
		t.Errorf("daemon calls = %d, want 0", calls)
	}
}

func TestChat_ModelNotPulled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"llama3\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), domain.ProviderOptions{})
	_, err := p.Chat(context.Background(), userRequest("llama3"))

	if code := domain.CodeOf(err); code != domain.CodeModelNotFound {
		t.Errorf("code = %s, want MODEL_NOT_FOUND", code)
	}
}

func TestToOllamaRequest_Images(t *testing.T) {
	req := domain.CompletionRequest{
		Model: "llama3",
		Messages: []domain.ChatMessage{{
			Role: domain.RoleUser,
			Content: domain.Content{Parts: []domain.ContentPart{
				{Type: "text", Text: "what is this?"},
				{Type: "image_url", ImageURL: &domain.ImageURL{URL: "data:image/jpeg;base64,/9j/4AAQ"}},
			}},
		}},
	}

	out := toOllamaRequest(req, false)

	if out.Messages[0].Content != "what is this?" {
		t.Errorf("content = %q", out.Messages[0].Content)
	}
	if len(out.Messages[0].Images) != 1 || out.Messages[0].Images[0] != "/9j/4AAQ" {
		t.Errorf("images = %v", out.Messages[0].Images)
	}
	if out.Options != nil {
		t.Errorf("options = %+v, want nil", out.Options)
	}
}

var _ provider.Provider = (*Provider)(nil)
