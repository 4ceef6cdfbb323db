// Package providertest provides a function-field Provider for tests.
package providertest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/felipepmaragno/llmbridge/internal/classify"
	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/provider"
)

// Mock implements provider.Provider. Unset funcs fall back to harmless defaults.
type Mock struct {
	IDValue            string
	ModelList          []domain.ModelCard
	ChatFunc           func(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error)
	ChatStreamFunc     func(ctx context.Context, req domain.CompletionRequest) (*provider.Stream, error)
	TestConnectionFunc func(ctx context.Context, model string) (bool, error)
}

func (m *Mock) ID() string {
	return m.IDValue
}

func (m *Mock) Chat(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return Response(req.Model, "ok"), nil
}

func (m *Mock) ChatStream(ctx context.Context, req domain.CompletionRequest) (*provider.Stream, error) {
	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, req)
	}
	return Stream(m.IDValue, Chunk(req.Model, "ok", domain.FinishStop)), nil
}

func (m *Mock) Models() []domain.ModelCard {
	return m.ModelList
}

func (m *Mock) ModelByID(id string) (domain.ModelCard, bool) {
	for _, card := range m.ModelList {
		if card.ID == id {
			return card, true
		}
	}
	return domain.ModelCard{}, false
}

func (m *Mock) ValidateRequest(req domain.CompletionRequest) bool {
	_, ok := m.ModelByID(req.Model)
	return ok && len(req.Messages) > 0
}

func (m *Mock) TestConnection(ctx context.Context, model string) (bool, error) {
	if m.TestConnectionFunc != nil {
		return m.TestConnectionFunc(ctx, model)
	}
	return true, nil
}

// Response builds a single-choice completion.
func Response(model, text string) *domain.CompletionResponse {
	return &domain.CompletionResponse{
		ID:      "chatcmpl-test",
		Object:  domain.ObjectCompletion,
		Created: 1700000000,
		Model:   model,
		Choices: []domain.Choice{{
			Message:      &domain.ChatMessage{Role: domain.RoleAssistant, Content: domain.TextContent(text)},
			FinishReason: domain.FinishStop,
		}},
		Usage: &domain.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}
}

// Chunk builds a streaming chunk.
func Chunk(model, text, finish string) *domain.CompletionResponse {
	return &domain.CompletionResponse{
		ID:      "chatcmpl-test",
		Object:  domain.ObjectChunk,
		Created: 1700000000,
		Model:   model,
		Choices: []domain.Choice{{
			Delta:        &domain.Delta{Content: text},
			FinishReason: finish,
		}},
	}
}

// Stream returns a provider.Stream that yields the given chunks in order.
func Stream(providerID string, chunks ...*domain.CompletionResponse) *provider.Stream {
	var body bytes.Buffer
	for _, c := range chunks {
		b, _ := json.Marshal(c)
		body.Write(b)
		body.WriteByte('\n')
	}
	decode := func(line []byte) (*domain.CompletionResponse, bool, error) {
		var chunk domain.CompletionResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, false, err
		}
		return &chunk, false, nil
	}
	return provider.NewStream(providerID, io.NopCloser(&body), decode, classify.New(providerID))
}
