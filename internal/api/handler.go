package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felipepmaragno/llmbridge/internal/cache"
	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/monitor"
	"github.com/felipepmaragno/llmbridge/internal/provider"
	"github.com/felipepmaragno/llmbridge/internal/router"
	"github.com/felipepmaragno/llmbridge/internal/telemetry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

// CacheStats is implemented by caches that can report their occupancy.
type CacheStats interface {
	Stats() cache.Stats
}

type HandlerConfig struct {
	Router  *router.Router
	Monitor *monitor.Monitor
	// Cache is optional; /v1/stats omits cache figures without it.
	Cache  CacheStats
	Health HealthCheckConfig
	// TestConcurrency bounds POST /v1/providers/test. Zero means 4.
	TestConcurrency int
}

type Handler struct {
	router          *router.Router
	monitor         *monitor.Monitor
	cache           CacheStats
	health          HealthCheckConfig
	testConcurrency int
	mux             *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Monitor == nil {
		cfg.Monitor = monitor.New()
	}
	if cfg.Health.Timeout == 0 {
		cfg.Health.Timeout = 5 * time.Second
	}
	if cfg.TestConcurrency <= 0 {
		cfg.TestConcurrency = 4
	}

	h := &Handler{
		router:          cfg.Router,
		monitor:         cfg.Monitor,
		cache:           cfg.Cache,
		health:          cfg.Health,
		testConcurrency: cfg.TestConcurrency,
		mux:             http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("POST /v1/providers/test", h.handleTestAllProviders)
	h.mux.HandleFunc("POST /v1/providers/{id}/test", h.handleTestProvider)
	h.mux.HandleFunc("GET /v1/stats", h.handleStats)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.Handle("GET /health/ready", handleHealthReadyWithCheckers(h.health.Checkers, h.health.Timeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "POST /v1/chat/completions")
	defer span.End()
	r = r.WithContext(ctx)
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	var req domain.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.router.SelectProvider(r.Header.Get("X-Provider"), req.Model)
	if err != nil {
		slog.Warn("provider selection failed", "error", err, "request_id", requestID)
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	w.Header().Set("X-Provider", p.ID())

	if req.Stream {
		h.handleStreamingResponse(w, r, p, req, requestID, start)
		return
	}

	resp, err := p.Chat(ctx, req)
	if err != nil {
		slog.Warn("completion failed",
			"request_id", requestID,
			"trace_id", telemetry.GetTraceID(ctx),
			"provider", p.ID(),
			"model", req.Model,
			"error", err,
		)
		writeProviderError(w, err)
		return
	}

	slog.Info("request completed",
		"request_id", requestID,
		"trace_id", telemetry.GetTraceID(ctx),
		"provider", p.ID(),
		"model", req.Model,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStreamingResponse(w http.ResponseWriter, r *http.Request, p provider.Provider, req domain.CompletionRequest, requestID string, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	stream, err := p.ChatStream(r.Context(), req)
	if err != nil {
		slog.Warn("stream failed to start",
			"request_id", requestID,
			"provider", p.ID(),
			"model", req.Model,
			"error", err,
		)
		writeProviderError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	chunks := 0
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Warn("streaming error", "error", err, "request_id", requestID, "provider", p.ID())
			data, _ := json.Marshal(errorBody(err))
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()
			return
		}

		data, _ := json.Marshal(chunk)
		w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
		chunks++
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()

	slog.Info("streaming request completed",
		"request_id", requestID,
		"provider", p.ID(),
		"model", req.Model,
		"chunks", chunks,
		"latency_ms", time.Since(start).Milliseconds(),
	)
}

type modelEntry struct {
	ID           string                   `json:"id"`
	Object       string                   `json:"object"`
	OwnedBy      string                   `json:"owned_by"`
	Name         string                   `json:"name,omitempty"`
	Description  string                   `json:"description,omitempty"`
	Capabilities domain.ModelCapabilities `json:"capabilities"`
}

type modelsResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	resp := modelsResponse{Object: "list", Data: []modelEntry{}}

	for _, providerID := range h.router.ListProviders() {
		p, ok := h.router.GetProvider(providerID)
		if !ok {
			continue
		}
		for _, card := range p.Models() {
			if !card.IsEnabled() {
				continue
			}
			resp.Data = append(resp.Data, modelEntry{
				ID:           card.ID,
				Object:       "model",
				OwnedBy:      providerID,
				Name:         card.Name,
				Description:  card.Description,
				Capabilities: card.Capabilities,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type testRequest struct {
	Model string `json:"model"`
}

type testResult struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model,omitempty"`
	OK        bool           `json:"ok"`
	LatencyMs int64          `json:"latency_ms"`
	Error     *errorResponse `json:"error,omitempty"`
}

func (h *Handler) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := h.router.GetProvider(id)
	if !ok {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}

	var body testRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	writeJSON(w, http.StatusOK, runConnectionTest(r.Context(), p, body.Model))
}

// handleTestAllProviders tests every provider concurrently with its default
// model. A failing provider is reported in its result, never as a request error.
func (h *Handler) handleTestAllProviders(w http.ResponseWriter, r *http.Request) {
	ids := h.router.ListProviders()
	results := make([]testResult, len(ids))

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(h.testConcurrency)
	for i, id := range ids {
		p, ok := h.router.GetProvider(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			results[i] = runConnectionTest(ctx, p, "")
			return nil
		})
	}
	g.Wait()

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func runConnectionTest(ctx context.Context, p provider.Provider, model string) testResult {
	start := time.Now()
	ok, err := p.TestConnection(ctx, model)

	result := testResult{
		Provider:  p.ID(),
		Model:     model,
		OK:        ok && err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		body := errorBody(err)
		result.Error = &body.Error
		slog.Warn("connection test failed", "provider", p.ID(), "model", model, "error", err)
	}
	return result
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := monitor.Filter{Provider: q.Get("provider"), Model: q.Get("model")}

	resp := map[string]any{
		"stats":         h.monitor.Stats(filter),
		"recent_errors": nonNil(h.monitor.RecentErrors(queryInt(q.Get("errors"), 10))),
		"trends":        h.monitor.Trends(queryInt(q.Get("hours"), 24)),
	}
	if h.cache != nil {
		resp["cache"] = h.cache.Stats()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"version":          Version,
		"providers":        h.router.ListProviders(),
		"default_provider": h.router.DefaultProvider(),
		"active_requests":  h.monitor.Active(),
	})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(raw string, defaultValue int) int {
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func nonNil(m []monitor.Metric) []monitor.Metric {
	if m == nil {
		return []monitor.Metric{}
	}
	return m
}

var statusByCode = map[domain.ErrorCode]int{
	domain.CodeUnauthorized:       http.StatusUnauthorized,
	domain.CodeAPIKeyMissing:      http.StatusUnauthorized,
	domain.CodeForbidden:          http.StatusForbidden,
	domain.CodeInsufficientQuota:  http.StatusPaymentRequired,
	domain.CodeRateLimit:          http.StatusTooManyRequests,
	domain.CodeBadRequest:         http.StatusBadRequest,
	domain.CodeModelNotFound:      http.StatusNotFound,
	domain.CodeTimeout:            http.StatusGatewayTimeout,
	domain.CodeServiceUnavailable: http.StatusServiceUnavailable,
	domain.CodeNetworkError:       http.StatusBadGateway,
	domain.CodeInternalError:      http.StatusBadGateway,
	domain.CodeUnknown:            http.StatusBadGateway,
}

// StatusFor maps a provider error onto the HTTP status returned to clients.
func StatusFor(err error) int {
	if status, ok := statusByCode[domain.CodeOf(err)]; ok {
		return status
	}
	return http.StatusBadGateway
}

type errorResponse struct {
	Message   string           `json:"message"`
	Type      string           `json:"type"`
	Code      domain.ErrorCode `json:"code"`
	Provider  string           `json:"provider,omitempty"`
	Details   any              `json:"details,omitempty"`
	Retryable bool             `json:"retryable"`
}

type errorEnvelope struct {
	Error errorResponse `json:"error"`
}

func errorBody(err error) errorEnvelope {
	body := errorResponse{
		Message: err.Error(),
		Type:    "provider_error",
		Code:    domain.CodeUnknown,
	}
	if pe, ok := domain.AsProviderError(err); ok {
		body.Message = pe.Message
		body.Code = pe.Code
		body.Provider = pe.Provider
		body.Details = pe.Details
	}
	body.Retryable = body.Code.Retryable()
	return errorEnvelope{Error: body}
}

func writeProviderError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), errorBody(err))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

