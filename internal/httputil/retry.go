package httputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/felipepmaragno/llmbridge/internal/classify"
	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/metrics"
	"github.com/felipepmaragno/llmbridge/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorBody = 64 << 10

// RetryConfig controls how many times a request is attempted and how long to
// wait between attempts.
type RetryConfig struct {
	MaxRetries         int
	RetryDelay         time.Duration
	RetryOn            []int
	ExponentialBackoff bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:         3,
		RetryDelay:         time.Second,
		RetryOn:            []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
		ExponentialBackoff: true,
	}
}

// RetryConfigFromOptions fills unset option fields with defaults.
func RetryConfigFromOptions(opts domain.RetryOptions) RetryConfig {
	cfg := DefaultRetryConfig()
	if opts.MaxRetries > 0 {
		cfg.MaxRetries = opts.MaxRetries
	}
	if opts.RetryDelay > 0 {
		cfg.RetryDelay = opts.RetryDelay
	}
	if len(opts.RetryOn) > 0 {
		cfg.RetryOn = opts.RetryOn
	}
	if opts.ExponentialBackoff != nil {
		cfg.ExponentialBackoff = *opts.ExponentialBackoff
	}
	return cfg
}

// Backoff returns the wait after the given zero-based attempt.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if !c.ExponentialBackoff {
		return c.RetryDelay
	}
	return time.Duration(float64(c.RetryDelay) * math.Pow(2, float64(attempt)))
}

func (c RetryConfig) attempts() int {
	if c.MaxRetries < 1 {
		return 1
	}
	return c.MaxRetries
}

// Request is a replayable HTTP request; the body is re-read on every attempt.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

func (r Request) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Transport executes requests with bounded retries and turns every failure
// into a classified *domain.ProviderError. One logical request never has more
// than one attempt in flight.
type Transport struct {
	client       *http.Client
	streamClient *http.Client
	retry        RetryConfig
	classifier   *classify.Classifier
	sleep        Sleeper
}

type TransportOption func(*Transport)

// WithSleeper replaces the timer used between attempts.
func WithSleeper(s Sleeper) TransportOption {
	return func(t *Transport) {
		t.sleep = s
	}
}

// WithStreamClient sets the client used by Stream.
func WithStreamClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		t.streamClient = c
	}
}

func NewTransport(client *http.Client, retry RetryConfig, classifier *classify.Classifier, opts ...TransportOption) *Transport {
	t := &Transport{
		client:       client,
		streamClient: client,
		retry:        retry,
		classifier:   classifier,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) RetryConfig() RetryConfig {
	return t.retry
}

func (t *Transport) Classifier() *classify.Classifier {
	return t.classifier
}

// Do performs the request and returns a 2xx response whose body the caller must close.
func (t *Transport) Do(ctx context.Context, req Request) (*http.Response, error) {
	return t.do(ctx, t.client, req)
}

// Stream is Do for long-lived streaming bodies.
func (t *Transport) Stream(ctx context.Context, req Request) (*http.Response, error) {
	return t.do(ctx, t.streamClient, req)
}

func (t *Transport) do(ctx context.Context, client *http.Client, req Request) (*http.Response, error) {
	provider := t.classifier.Provider()
	ctx, span := telemetry.StartSpan(ctx, "provider.http")
	defer span.End()
	telemetry.AddHTTPAttributes(span, provider, req.Method, req.URL)

	attempts := t.retry.attempts()
	for i := 0; i < attempts; i++ {
		last := i == attempts-1

		httpReq, err := req.build(ctx)
		if err != nil {
			pe := &domain.ProviderError{
				Message:  fmt.Sprintf("create request: %v", err),
				Code:     domain.CodeBadRequest,
				Provider: provider,
				Cause:    err,
			}
			return nil, t.fail(span, pe)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil || last {
				return nil, t.fail(span, t.classifier.Classify(classify.Failure{Err: err}))
			}
			delay := t.retry.Backoff(i)
			t.logRetry(span, req, i, 0, delay, err)
			if err := t.sleep(ctx, delay); err != nil {
				return nil, t.fail(span, t.classifier.Classify(classify.Failure{Err: err}))
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			telemetry.AddAttemptAttributes(span, i+1, resp.StatusCode)
			return resp, nil
		}

		body := drain(resp)
		if last || !slices.Contains(t.retry.RetryOn, resp.StatusCode) {
			telemetry.AddAttemptAttributes(span, i+1, resp.StatusCode)
			return nil, t.fail(span, t.classifier.Classify(classify.Failure{Status: resp.StatusCode, Body: body}))
		}

		delay := t.retry.Backoff(i)
		if resp.StatusCode == http.StatusTooManyRequests {
			if ra, ok := RetryAfter(resp.Header, time.Now()); ok {
				delay = ra
			}
		}
		t.logRetry(span, req, i, resp.StatusCode, delay, nil)
		if err := t.sleep(ctx, delay); err != nil {
			return nil, t.fail(span, t.classifier.Classify(classify.Failure{Err: err}))
		}
	}

	// attempts() is at least one and every path through the final attempt returns.
	return nil, t.fail(span, domain.NewProviderError(provider, domain.CodeUnknown, "retries exhausted"))
}

func (t *Transport) fail(span trace.Span, pe *domain.ProviderError) error {
	metrics.RecordProviderError(pe.Provider, string(pe.Code))
	telemetry.AddErrorAttribute(span, pe)
	return pe
}

func (t *Transport) logRetry(span trace.Span, req Request, attempt, status int, delay time.Duration, err error) {
	reason := "network"
	if status > 0 {
		reason = strconv.Itoa(status)
	}
	metrics.RecordRetry(t.classifier.Provider(), reason)
	span.AddEvent("retry")

	attrs := []any{
		"provider", t.classifier.Provider(),
		"url", redactURL(req.URL),
		"attempt", attempt + 1,
		"max_attempts", t.retry.attempts(),
		"delay_ms", delay.Milliseconds(),
	}
	if status > 0 {
		attrs = append(attrs, "status", status)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	slog.Warn("retrying provider request", attrs...)
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
// maxRetryAfterSeconds keeps the seconds-to-Duration conversion from
// overflowing into a negative delay.
const maxRetryAfterSeconds = float64(math.MaxInt64/int64(time.Second)) - 1

func RetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) {
			return 0, false
		}
		if secs > maxRetryAfterSeconds {
			secs = maxRetryAfterSeconds
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func drain(resp *http.Response) []byte {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return body
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// redactURL drops the query string, which may carry an API key.
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
