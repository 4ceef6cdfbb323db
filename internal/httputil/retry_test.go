package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felipepmaragno/llmbridge/internal/classify"
	"github.com/felipepmaragno/llmbridge/internal/domain"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestTransport(retry RetryConfig, s *recordingSleeper) *Transport {
	return NewTransport(DefaultClient(), retry, classify.New("test", classify.OpenAICodes), WithSleeper(s.sleep))
}

func TestTransport_SuccessFirstAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := &recordingSleeper{}
	tr := newTestTransport(DefaultRetryConfig(), s)

	resp, err := tr.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   []byte(`{}`),
		Header: http.Header{"Authorization": []string{"Bearer k"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(s.delays) != 0 {
		t.Errorf("expected no sleeps, got %v", s.delays)
	}
}

func TestTransport_HonorsRetryAfterOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := &recordingSleeper{}
	tr := newTestTransport(DefaultRetryConfig(), s)

	resp, err := tr.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(s.delays) != 1 || s.delays[0] < 2000*time.Millisecond {
		t.Errorf("delays = %v, want one delay >= 2s", s.delays)
	}
}

func TestTransport_ExhaustsOn503(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := &recordingSleeper{}
	cfg := DefaultRetryConfig()
	tr := newTestTransport(cfg, s)

	_, err := tr.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)})

	pe, ok := domain.AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Code != domain.CodeServiceUnavailable {
		t.Errorf("code = %s, want SERVICE_UNAVAILABLE", pe.Code)
	}
	if int(calls) != cfg.MaxRetries {
		t.Errorf("calls = %d, want %d", calls, cfg.MaxRetries)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(s.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", s.delays, want)
	}
	for i := range want {
		if s.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, s.delays[i], want[i])
		}
	}
}

func TestTransport_NoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := &recordingSleeper{}
	tr := newTestTransport(DefaultRetryConfig(), s)

	_, err := tr.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if code := domain.CodeOf(err); code != domain.CodeBadRequest {
		t.Errorf("code = %s, want BAD_REQUEST", code)
	}
}

func TestTransport_VendorEnvelopeOnFinalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	tr := newTestTransport(DefaultRetryConfig(), &recordingSleeper{})

	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})

	pe, ok := domain.AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Code != domain.CodeUnauthorized || pe.Status != http.StatusUnauthorized {
		t.Errorf("got code=%s status=%d", pe.Code, pe.Status)
	}
}

func TestTransport_NetworkErrorRetriedThenClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := &recordingSleeper{}
	tr := newTestTransport(DefaultRetryConfig(), s)

	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, URL: url})

	if code := domain.CodeOf(err); code != domain.CodeNetworkError {
		t.Errorf("code = %s, want NETWORK_ERROR (err=%v)", code, err)
	}
	if len(s.delays) != 2 {
		t.Errorf("sleeps = %d, want 2", len(s.delays))
	}
}

func TestTransport_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tr := NewTransport(DefaultClient(), DefaultRetryConfig(), classify.New("test"),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	_, err := tr.Do(ctx, Request{Method: http.MethodGet, URL: srv.URL})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if _, ok := domain.AsProviderError(err); !ok {
		t.Errorf("expected ProviderError, got %T", err)
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{RetryDelay: 100 * time.Millisecond, ExponentialBackoff: true}
	if got := cfg.Backoff(3); got != 800*time.Millisecond {
		t.Errorf("Backoff(3) = %v, want 800ms", got)
	}

	cfg.ExponentialBackoff = false
	if got := cfg.Backoff(3); got != 100*time.Millisecond {
		t.Errorf("Backoff(3) linear = %v, want 100ms", got)
	}
}

func TestRetryConfigFromOptions(t *testing.T) {
	off := false
	cfg := RetryConfigFromOptions(domain.RetryOptions{MaxRetries: 5, ExponentialBackoff: &off})

	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want default 1s", cfg.RetryDelay)
	}
	if cfg.ExponentialBackoff {
		t.Error("ExponentialBackoff should be false")
	}
	if len(cfg.RetryOn) != 4 {
		t.Errorf("RetryOn = %v, want defaults", cfg.RetryOn)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{"seconds", "2", 2 * time.Second, true},
		{"fractional", "0.5", 500 * time.Millisecond, true},
		{"date", now.Add(3 * time.Second).Format(http.TimeFormat), 3 * time.Second, true},
		{"missing", "", 0, false},
		{"garbage", "soon", 0, false},
		{"negative", "-1", 0, false},
		{"not a number", "NaN", 0, false},
		{"huge clamps", "1e12", time.Duration(maxRetryAfterSeconds * float64(time.Second)), true},
		{"infinite clamps", "+Inf", time.Duration(maxRetryAfterSeconds * float64(time.Second)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			got, ok := RetryAfter(h, now)
			if ok != tt.ok || got != tt.want {
				t.Errorf("RetryAfter(%q) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}
